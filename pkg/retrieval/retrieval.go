// Package retrieval supplies the orchestrator with grounding context for
// the current turn, following the same small-interface-plus-HTTP-adapter
// idiom used throughout pkg/providers.
package retrieval

import "context"

// Context is a single retrieved passage and its source, injected into the
// LLM prompt ahead of the user's message.
type Context struct {
	Source string
	Text   string
	Score  float64
}

// Retriever looks up grounding context for a query. Implementations must
// respect ctx cancellation/deadline: the orchestrator bounds every call
// with Config.RetrievalTimeout and treats a timeout as non-fatal.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Context, error)
	Name() string
}

// NoopRetriever always returns no context. It's the default when no
// retrieval backend is configured, so the orchestrator's retrieval step
// is a harmless no-op rather than requiring a nil check at every call site.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Context, error) {
	return nil, nil
}

func (NoopRetriever) Name() string { return "noop-retrieval" }
