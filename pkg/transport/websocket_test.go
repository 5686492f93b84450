package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestWebSocketTransportRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		st := NewWebSocketTransport(conn, 44100)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		st.Start(ctx, func(chunk []byte) {
			received <- chunk
		})
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := NewWebSocketTransport(conn, 44100)
	if err := client.Play([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("play: %v", err)
	}

	select {
	case chunk := <-received:
		if len(chunk) != 4 {
			t.Fatalf("expected 4 bytes, got %d", len(chunk))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded chunk")
	}

	if client.SampleRate() != 44100 {
		t.Fatalf("expected sample rate 44100, got %d", client.SampleRate())
	}
}

func TestWebRTCTransportReturnsUnimplemented(t *testing.T) {
	tr := NewWebRTCTransport(44100)
	if err := tr.Start(context.Background(), nil); err != ErrWebRTCUnimplemented {
		t.Fatalf("expected ErrWebRTCUnimplemented, got %v", err)
	}
	if err := tr.Play(nil); err != ErrWebRTCUnimplemented {
		t.Fatalf("expected ErrWebRTCUnimplemented, got %v", err)
	}
}
