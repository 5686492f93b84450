package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestAnthropicLLMComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		// System content must ride the top-level field, never the
		// message list.
		var req struct {
			Messages []map[string]string `json:"messages"`
			System   string              `json:"system"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.System != "system instructions" {
			t.Errorf("system content not lifted out of messages: %+v", req)
		}
		for _, m := range req.Messages {
			if m["role"] == "system" {
				t.Error("system role leaked into the message list")
			}
		}

		w.Write([]byte(`{"content":[{"text":"hello from anthropic"}]}`))
	}))
	defer server.Close()

	l := NewAnthropicLLM("test-key", "claude-3")
	l.url = server.URL

	resp, err := l.Complete(context.Background(), []orchestrator.Message{
		{Role: "system", Content: "system instructions"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from anthropic" {
		t.Errorf("got %q", resp)
	}
}

func TestSplitMessages(t *testing.T) {
	system, turns := splitMessages([]orchestrator.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	if system != "persona" {
		t.Errorf("system = %q", system)
	}
	if len(turns) != 2 || turns[0]["content"] != "a" || turns[1]["role"] != "assistant" {
		t.Errorf("unexpected turns: %v", turns)
	}
}
