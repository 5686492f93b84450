package orchestrator

import (
	"context"
	"sync"
	"time"
)



type Logger interface {

	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}


type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}


type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}


type StreamingSTTProvider interface {
	STTProvider
	StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error)
}


type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// LLMStreamEventKind distinguishes the events of a streaming LLM call.
type LLMStreamEventKind string

const (
	LLMDelta     LLMStreamEventKind = "text_delta"
	LLMToolStart LLMStreamEventKind = "tool_call_start"
	LLMToolEnd   LLMStreamEventKind = "tool_call_result"
	LLMFinish    LLMStreamEventKind = "finish"
)

// LLMStreamEvent is one item of a streaming completion.
type LLMStreamEvent struct {
	Kind       LLMStreamEventKind
	Delta      string
	ToolName   string
	ToolArgs   string
	ToolResult string
	Reason     string
}

// StreamingLLMProvider streams token deltas instead of returning one
// complete string. Adapters implement this alongside LLMProvider so
// callers without a sentence accumulator can still use Complete.
type StreamingLLMProvider interface {
	LLMProvider
	StreamComplete(ctx context.Context, messages []Message, onEvent func(LLMStreamEvent) error) error
}

// Tool describes one function the LLM may request during a turn.
// Parameters follows the providers' JSON-schema convention and is
// passed through to adapters untouched.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolExecutor runs one tool invocation requested by the LLM. The
// stream executes it (adapters never do), appends the result to the
// conversation, and resumes the model with the extended history.
type ToolExecutor func(ctx context.Context, name string, arguments string) (string, error)


type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	// Abort cancels any in-flight synthesis so a barge-in can cut
	// audio within the configured deadline.
	Abort() error
	Name() string
}


type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string
}


type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	// VADSpeechContinue is a heartbeat emitted periodically (every
	// speechContinueInterval) while speech remains ongoing. It is
	// unrelated to vad.saturated, which counts classification errors.
	VADSpeechContinue VADEventType = "SPEECH_CONTINUE"
	VADSpeechEnd      VADEventType = "SPEECH_END"
	VADSilence        VADEventType = "SILENCE"
)


type VADEvent struct {
	Type      VADEventType
	Timestamp int64
}


type EventType string

const (
	UserSpeaking      EventType = "USER_SPEAKING"
	UserStopped       EventType = "USER_STOPPED"
	TranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	TranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	BotThinking       EventType = "BOT_THINKING"
	BotSpeaking       EventType = "BOT_SPEAKING"
	BotResponse       EventType = "BOT_RESPONSE"
	Interrupted       EventType = "INTERRUPTED"
	ToolCalled        EventType = "TOOL_CALLED"
	AudioChunk        EventType = "AUDIO_CHUNK"
	ErrorEvent        EventType = "ERROR"
	StateChanged      EventType = "STATE_CHANGED"
	SessionClosed     EventType = "SESSION_CLOSED"
)


type OrchestratorEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// SessionState is the turn-taking state of a ManagedStream: Idle,
// Listening, Thinking, Speaking, Error or Closed.
type SessionState string

const (
	StateIdle      SessionState = "Idle"
	StateListening SessionState = "Listening"
	StateThinking  SessionState = "Thinking"
	StateSpeaking  SessionState = "Speaking"
	StateError     SessionState = "Error"
	StateClosed    SessionState = "Closed"
)


type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)


type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)


type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}


type Config struct {
	SampleRate         int
	Channels           int
	BytesPerSamp       int
	MaxContextMessages int
	VoiceStyle         Voice
	Language           Language
	STTTimeout         uint
	LLMTimeout         uint
	TTSTimeout         uint

	// MinWordsToInterrupt suppresses short backchannel utterances from
	// barging in on a currently-speaking agent until the transcript
	// reaches this many words. 1 means any detected speech interrupts.
	MinWordsToInterrupt int

	// SentenceFlushTokens bounds how many whitespace-separated words
	// the sentence accumulator holds without a sentence boundary before
	// it soft-flushes to TTS anyway.
	SentenceFlushTokens int

	// RetrievalTopK and RetrievalTimeout bound the retrieval step that
	// runs ahead of the LLM call.
	RetrievalTopK    int
	RetrievalTimeout time.Duration

	// BargeInDeadline bounds how long interruption cleanup may take
	// before the stream gives up waiting on providers.
	BargeInDeadline time.Duration

	// STTFinalTimeout bounds how long a streaming STT session waits
	// for a final transcript after speech end.
	STTFinalTimeout time.Duration

	// IdleTimeout tears a session down after this much inactivity.
	IdleTimeout time.Duration
}


func DefaultConfig() Config {
	return Config{
		// 16kHz mono 16-bit PCM in 20ms frames is the canonical format
		// all internal audio travels in; transports at other rates are
		// converted at the edge (pkg/audio).
		SampleRate:          16000,
		Channels:            1,
		BytesPerSamp:        2,
		MaxContextMessages:  20,
		VoiceStyle:          VoiceF1,
		Language:            LanguageEn,
		STTTimeout:          30,
		LLMTimeout:          60,
		TTSTimeout:          30,
		MinWordsToInterrupt: 1,
		SentenceFlushTokens: 40,
		RetrievalTopK:       4,
		RetrievalTimeout:    300 * time.Millisecond,
		BargeInDeadline:     300 * time.Millisecond,
		STTFinalTimeout:     2 * time.Second,
		IdleTimeout:         10 * time.Minute,
	}
}

// Turn is a single user-utterance/agent-response pair kept in a
// session's append-only history.
type Turn struct {
	UserText          string
	AgentText         string
	StartedAt         time.Time
	EndedAt           time.Time
	Interrupted       bool
	Incomplete        bool
	RetrievalUsed     bool
	RetrievalTimedOut bool
}


type ConversationSession struct {
	mu              sync.RWMutex
	ID              string
	Context         []Message
	History         []Turn
	LastUser        string
	LastAssistant   string
	MaxMessages     int
	CurrentVoice    Voice
	CurrentLanguage Language
	CreatedAt       time.Time
}


func NewConversationSession(userID string) *ConversationSession {
	return &ConversationSession{
		ID:              userID,
		Context:         []Message{},
		MaxMessages:     20,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
		CreatedAt:       time.Now(),
	}
}


func (s *ConversationSession) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = append(s.Context, Message{Role: role, Content: content})
	if len(s.Context) > s.MaxMessages {
		s.Context = s.Context[len(s.Context)-s.MaxMessages:]
	}
	if role == "user" {
		s.LastUser = content
	} else if role == "assistant" {
		s.LastAssistant = content
	}
}

// AppendTurn records a completed or interrupted turn.
func (s *ConversationSession) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, t)
}

// GetHistory returns a copy of the session's turn history.
func (s *ConversationSession) GetHistory() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := make([]Turn, len(s.History))
	copy(h, s.History)
	return h
}


func (s *ConversationSession) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = []Message{}
	s.LastUser = ""
	s.LastAssistant = ""
}


func (s *ConversationSession) GetContextCopy() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contextCopy := make([]Message, len(s.Context))
	copy(contextCopy, s.Context)
	return contextCopy
}


func (s *ConversationSession) GetCurrentVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentVoice
}


func (s *ConversationSession) GetCurrentLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentLanguage
}
