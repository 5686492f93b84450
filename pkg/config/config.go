// Package config centralizes environment-variable wiring so cmd/agent
// and cmd/server share one source of provider selection and API key
// lookup.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Keys holds every provider API key the agent might need. Empty fields
// mean that provider wasn't configured; callers fail fast when a selected
// provider's key is missing.
type Keys struct {
	Groq       string
	OpenAI     string
	Anthropic  string
	Google     string
	Deepgram   string
	AssemblyAI string
	Lokutor    string
}

// Config is the full set of environment-derived settings shared by both
// command-line entry points.
type Config struct {
	Keys Keys

	STTProvider string
	LLMProvider string

	Language orchestrator.Language

	LogLevel string

	// HTTPAddr is the control-plane listen address, used by cmd/server only.
	HTTPAddr string
}

// Load reads a .env file if present (missing is not an error) and then
// populates Config from the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := Config{
		Keys: Keys{
			Groq:       os.Getenv("GROQ_API_KEY"),
			OpenAI:     os.Getenv("OPENAI_API_KEY"),
			Anthropic:  os.Getenv("ANTHROPIC_API_KEY"),
			Google:     os.Getenv("GOOGLE_API_KEY"),
			Deepgram:   os.Getenv("DEEPGRAM_API_KEY"),
			AssemblyAI: os.Getenv("ASSEMBLYAI_API_KEY"),
			Lokutor:    os.Getenv("LOKUTOR_API_KEY"),
		},
		STTProvider: envOr("STT_PROVIDER", "groq"),
		LLMProvider: envOr("LLM_PROVIDER", "groq"),
		Language:    orchestrator.Language(envOr("AGENT_LANGUAGE", string(orchestrator.LanguageEs))),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
