// Package transport carries PCM audio between an orchestrator.ManagedStream
// and whatever is on the other end of a conversation — a local sound
// card, a WebSocket client, or (eventually) a WebRTC peer connection.
package transport

import "context"

// Transport moves raw 16-bit LE mono PCM audio in both directions. Start
// begins delivering captured audio to onCapture. Whether it blocks
// depends on the binding: WebSocketTransport's Start blocks until ctx is
// cancelled or the connection fails, while LocalDeviceTransport's
// returns once the device is running. Play enqueues audio for output.
type Transport interface {
	Start(ctx context.Context, onCapture func([]byte)) error
	Play(chunk []byte) error
	// FlushPlayback discards any audio queued for output, used on barge-in.
	FlushPlayback()
	SampleRate() int
	Close() error
}
