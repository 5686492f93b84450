package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/retrieval"
)

type stubRetriever struct {
	contexts []retrieval.Context
	err      error
	delay    time.Duration
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Context, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.contexts, s.err
}

func (s *stubRetriever) Name() string { return "stub" }

func newTestOrchestrator(llm *MockLLMProvider) *Orchestrator {
	cfg := DefaultConfig()
	cfg.RetrievalTimeout = 20 * time.Millisecond
	return New(&MockSTTProvider{}, llm, &MockTTSProvider{}, cfg)
}

func TestGenerateResponseWithRetrievalInjectsContext(t *testing.T) {
	llm := &MockLLMProvider{completeResult: "reply"}
	orch := newTestOrchestrator(llm)
	orch.SetRetriever(&stubRetriever{contexts: []retrieval.Context{{Source: "doc", Text: "fact"}}})

	session := orch.NewSessionWithDefaults("user1")
	session.AddMessage("user", "what is the weather")

	response, outcome, err := orch.GenerateResponseWithRetrieval(context.Background(), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response != "reply" {
		t.Fatalf("expected reply, got %q", response)
	}
	if !outcome.Used {
		t.Fatal("expected retrieval to be marked used")
	}
}

func TestGenerateResponseWithRetrievalTimeoutIsNonFatal(t *testing.T) {
	llm := &MockLLMProvider{completeResult: "reply"}
	orch := newTestOrchestrator(llm)
	orch.SetRetriever(&stubRetriever{delay: 200 * time.Millisecond})

	session := orch.NewSessionWithDefaults("user1")
	session.AddMessage("user", "hello")

	response, outcome, err := orch.GenerateResponseWithRetrieval(context.Background(), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response != "reply" {
		t.Fatalf("expected reply despite retrieval timeout, got %q", response)
	}
	if !outcome.TimedOut {
		t.Fatal("expected retrieval to be marked timed out")
	}
	if outcome.Used {
		t.Fatal("did not expect retrieval to be marked used on timeout")
	}
}

func TestGenerateResponseWithRetrievalErrorIsNonFatal(t *testing.T) {
	llm := &MockLLMProvider{completeResult: "reply"}
	orch := newTestOrchestrator(llm)
	orch.SetRetriever(&stubRetriever{err: errors.New("backend down")})

	session := orch.NewSessionWithDefaults("user1")
	session.AddMessage("user", "hello")

	response, outcome, err := orch.GenerateResponseWithRetrieval(context.Background(), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response != "reply" {
		t.Fatalf("expected reply despite retrieval error, got %q", response)
	}
	if outcome.Used {
		t.Fatal("did not expect retrieval to be marked used on error")
	}
}

func TestGenerateResponseDefaultsToNoopRetrieval(t *testing.T) {
	llm := &MockLLMProvider{completeResult: "reply"}
	orch := newTestOrchestrator(llm)

	session := orch.NewSessionWithDefaults("user1")
	session.AddMessage("user", "hello")

	response, err := orch.GenerateResponse(context.Background(), session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response != "reply" {
		t.Fatalf("expected reply, got %q", response)
	}
}
