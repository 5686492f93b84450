package stt

import (
	"context"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers"
)

// GroqSTT transcribes utterances through Groq's hosted Whisper models.
type GroqSTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	client     *http.Client
}

func NewGroqSTT(apiKey string, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: audio.CanonicalRate,
		client:     providers.HTTPClient,
	}
}

// SetSampleRate overrides the WAV header rate for callers feeding
// non-canonical audio.
func (s *GroqSTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *GroqSTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	return transcribeWhisperStyle(ctx, s.client, s.url, s.apiKey, s.model, audioPCM, s.sampleRate, lang)
}

func (s *GroqSTT) Name() string {
	return "groq-stt"
}
