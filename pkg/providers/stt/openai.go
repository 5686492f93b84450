package stt

import (
	"context"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers"
)

// OpenAISTT transcribes utterances through the OpenAI Whisper API.
type OpenAISTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	client     *http.Client
}

func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: audio.CanonicalRate,
		client:     providers.HTTPClient,
	}
}

// SetSampleRate overrides the WAV header rate for callers feeding
// non-canonical audio.
func (s *OpenAISTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *OpenAISTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	return transcribeWhisperStyle(ctx, s.client, s.url, s.apiKey, s.model, audioPCM, s.sampleRate, lang)
}

func (s *OpenAISTT) Name() string {
	return "openai_stt"
}
