package transport

import (
	"context"
	"errors"
)

// ErrWebRTCUnimplemented is returned by WebRTCTransport's methods. The
// type exists so callers can select the binding by name; wiring an
// actual WebRTC stack (pion/webrtc or similar) behind it is future
// work.
var ErrWebRTCUnimplemented = errors.New("webrtc transport not implemented")

// WebRTCTransport is a placeholder Transport for a future peer-connection
// based client. It satisfies the Transport interface so callers can select
// it by name without a compile-time dependency on a WebRTC library.
type WebRTCTransport struct {
	sampleRate int
}

func NewWebRTCTransport(sampleRate int) *WebRTCTransport {
	return &WebRTCTransport{sampleRate: sampleRate}
}

func (t *WebRTCTransport) SampleRate() int { return t.sampleRate }

func (t *WebRTCTransport) Start(ctx context.Context, onCapture func([]byte)) error {
	return ErrWebRTCUnimplemented
}

func (t *WebRTCTransport) Play(chunk []byte) error {
	return ErrWebRTCUnimplemented
}

func (t *WebRTCTransport) FlushPlayback() {}

func (t *WebRTCTransport) Close() error { return nil }
