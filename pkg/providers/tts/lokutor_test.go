package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// newFakeLokutor serves the Lokutor wire protocol: read one JSON
// request, stream binary audio, finish with an EOS text frame.
func newFakeLokutor(t *testing.T, chunks [][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		if req["text"] == "" {
			t.Error("synthesis request carried no text")
		}

		for _, c := range chunks {
			conn.Write(r.Context(), websocket.MessageBinary, c)
		}
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
}

func TestLokutorTTSStreamsUntilEOS(t *testing.T) {
	server := newFakeLokutor(t, [][]byte{{1, 2, 3}, {4, 5, 6}})
	defer server.Close()

	tts := NewLokutorTTS("test-key")
	tts.host = strings.TrimPrefix(server.URL, "http://")
	tts.scheme = "ws"
	defer tts.Close()

	var got []byte
	err := tts.StreamSynthesize(context.Background(), "hello", orchestrator.VoiceF1, orchestrator.LanguageEn, func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 6 {
		t.Errorf("streamed %d bytes, want 6", len(got))
	}
	if tts.Name() != "lokutor" {
		t.Errorf("unexpected adapter name %q", tts.Name())
	}
}

func TestLokutorTTSSynthesizeCollectsStream(t *testing.T) {
	server := newFakeLokutor(t, [][]byte{{9}, {8}, {7}})
	defer server.Close()

	tts := NewLokutorTTS("test-key")
	tts.host = strings.TrimPrefix(server.URL, "http://")
	tts.scheme = "ws"
	defer tts.Close()

	got, err := tts.Synthesize(context.Background(), "bonjour", orchestrator.VoiceM1, orchestrator.LanguageFr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("collected %d bytes, want 3", len(got))
	}
}

func TestLokutorTTSAbortWithoutConnection(t *testing.T) {
	tts := NewLokutorTTS("test-key")
	// Abort with no live connection is a no-op, not an error.
	if err := tts.Abort(); err != nil {
		t.Fatalf("abort on idle adapter: %v", err)
	}
}
