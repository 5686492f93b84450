package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// DeepgramStreamingSTT speaks Deepgram's live transcription protocol:
// a WebSocket carrying raw PCM frames in, JSON transcript events out,
// terminated by a CloseStream text message.
type DeepgramStreamingSTT struct {
	apiKey     string
	host       string
	sampleRate int
}

func NewDeepgramStreamingSTT(apiKey string) *DeepgramStreamingSTT {
	return &DeepgramStreamingSTT{
		apiKey:     apiKey,
		host:       "api.deepgram.com",
		sampleRate: audio.CanonicalRate,
	}
}

func (s *DeepgramStreamingSTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *DeepgramStreamingSTT) Name() string {
	return "deepgram-stt"
}

// Transcribe delegates to the batch REST endpoint via a throwaway
// DeepgramSTT so this type satisfies STTProvider as well.
func (s *DeepgramStreamingSTT) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	batch := NewDeepgramSTT(s.apiKey)
	return batch.Transcribe(ctx, audio, lang)
}

type deepgramStreamResult struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// StreamTranscribe opens a Deepgram live session and returns a channel
// the caller writes raw PCM frames to; onTranscript is invoked for
// every partial and final transcript Deepgram reports.
func (s *DeepgramStreamingSTT) StreamTranscribe(ctx context.Context, lang orchestrator.Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error) {
	u := url.URL{Scheme: "wss", Host: s.host, Path: "/v1/listen"}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", s.sampleRate))
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	if lang != "" {
		q.Set("language", string(lang))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Token " + s.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}

	audioChan := make(chan []byte, 32)

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			conn.Close(websocket.StatusNormalClosure, "")
		})
	}

	go func() {
		defer closeConn()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-audioChan:
				if !ok {
					conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer closeConn()
		for {
			msgType, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if msgType != websocket.MessageText {
				continue
			}

			var result deepgramStreamResult
			if err := json.Unmarshal(payload, &result); err != nil {
				continue
			}
			if len(result.Channel.Alternatives) == 0 {
				continue
			}
			transcript := result.Channel.Alternatives[0].Transcript
			if transcript == "" {
				continue
			}
			if err := onTranscript(transcript, result.IsFinal); err != nil {
				return
			}
		}
	}()

	return audioChan, nil
}
