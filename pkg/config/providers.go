package config

import (
	"fmt"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

// BuildTTS constructs the Lokutor TTS provider. Lokutor is the only TTS
// backend in the pack, so unlike BuildSTT/BuildLLM there's no selection
// switch here.
func BuildTTS(cfg Config) (orchestrator.TTSProvider, error) {
	if cfg.Keys.Lokutor == "" {
		return nil, fmt.Errorf("LOKUTOR_API_KEY must be set")
	}
	return ttsProvider.NewLokutorTTS(cfg.Keys.Lokutor), nil
}

// BuildSTT constructs the STT provider selected by cfg.STTProvider.
func BuildSTT(cfg Config, sampleRate int) (orchestrator.STTProvider, error) {
	var stt orchestrator.STTProvider

	switch cfg.STTProvider {
	case "openai":
		if cfg.Keys.OpenAI == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai STT")
		}
		stt = sttProvider.NewOpenAISTT(cfg.Keys.OpenAI, "whisper-1")
	case "deepgram":
		if cfg.Keys.Deepgram == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		stt = sttProvider.NewDeepgramSTT(cfg.Keys.Deepgram)
	case "deepgram-stream":
		if cfg.Keys.Deepgram == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram-stream STT")
		}
		streaming := sttProvider.NewDeepgramStreamingSTT(cfg.Keys.Deepgram)
		streaming.SetSampleRate(sampleRate)
		return streaming, nil
	case "assemblyai":
		if cfg.Keys.AssemblyAI == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		stt = sttProvider.NewAssemblyAISTT(cfg.Keys.AssemblyAI)
	case "groq":
		fallthrough
	default:
		if cfg.Keys.Groq == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq STT")
		}
		stt = sttProvider.NewGroqSTT(cfg.Keys.Groq, "whisper-large-v3-turbo")
	}

	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(sampleRate)
	}
	return stt, nil
}

// BuildLLM constructs the LLM provider selected by cfg.LLMProvider.
func BuildLLM(cfg Config) (orchestrator.LLMProvider, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.Keys.OpenAI == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(cfg.Keys.OpenAI, "gpt-4o"), nil
	case "anthropic":
		if cfg.Keys.Anthropic == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(cfg.Keys.Anthropic, "claude-3-5-sonnet-20241022"), nil
	case "google":
		if cfg.Keys.Google == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(cfg.Keys.Google, "gemini-1.5-flash"), nil
	case "groq":
		fallthrough
	default:
		if cfg.Keys.Groq == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(cfg.Keys.Groq, "llama-3.3-70b-versatile"), nil
	}
}
