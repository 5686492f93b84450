package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestOpenAILLMComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hello from openai"}}]}`))
	}))
	defer server.Close()

	l := NewOpenAILLM("test-key", "gpt-4o")
	l.url = server.URL

	resp, err := l.Complete(context.Background(), []orchestrator.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "hello from openai" {
		t.Errorf("got %q", resp)
	}
	if l.Name() != "openai-llm" {
		t.Errorf("unexpected adapter name %q", l.Name())
	}
}

func TestOpenAILLMSurfacesVendorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	l := NewOpenAILLM("test-key", "")
	l.url = server.URL

	if _, err := l.Complete(context.Background(), nil); err == nil {
		t.Fatal("expected an error on a 429 response")
	}
}

func TestOpenAILLMEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	l := NewOpenAILLM("test-key", "")
	l.url = server.URL

	if _, err := l.Complete(context.Background(), nil); err == nil {
		t.Fatal("expected an error when the vendor returns no choices")
	}
}
