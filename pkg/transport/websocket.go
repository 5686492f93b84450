package transport

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketTransport carries PCM frames to/from a remote client over a
// single binary WebSocket connection, the same protocol shape used
// against the Lokutor and Deepgram streaming endpoints in
// pkg/providers.
type WebSocketTransport struct {
	conn       *websocket.Conn
	sampleRate int

	mu     sync.Mutex
	closed bool
}

// NewWebSocketTransport wraps an already-accepted connection (e.g. from
// pkg/server's HTTP upgrade handler, handleAudio).
func NewWebSocketTransport(conn *websocket.Conn, sampleRate int) *WebSocketTransport {
	return &WebSocketTransport{conn: conn, sampleRate: sampleRate}
}

func (t *WebSocketTransport) SampleRate() int { return t.sampleRate }

// Start reads binary frames from the connection and forwards each to
// onCapture until ctx is cancelled or the connection errors/closes.
func (t *WebSocketTransport) Start(ctx context.Context, onCapture func([]byte)) error {
	for {
		msgType, payload, err := t.conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType == websocket.MessageBinary && onCapture != nil {
			onCapture(payload)
		}
	}
}

// Play writes chunk as a single binary WebSocket message. Unlike
// LocalDeviceTransport, there's no local ring buffer to flush: each chunk
// is sent immediately, so playback ordering is the caller's responsibility.
func (t *WebSocketTransport) Play(chunk []byte) error {
	return t.conn.Write(context.Background(), websocket.MessageBinary, chunk)
}

// FlushPlayback is a no-op: a WebSocket transport has no local playback
// queue to discard on barge-in. The client is expected to stop playback
// itself in response to an Interrupted control message.
func (t *WebSocketTransport) FlushPlayback() {}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
