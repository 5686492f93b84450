package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/retrieval"
)


type Orchestrator struct {
	stt          STTProvider
	llm          LLMProvider
	tts          TTSProvider
	vad          VADProvider
	retriever    retrieval.Retriever
	tools        []Tool
	toolExecutor ToolExecutor
	config       Config
	logger       Logger
	mu           sync.RWMutex
}



func New(stt STTProvider, llm LLMProvider, tts TTSProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, nil, config, &NoOpLogger{})
}


func NewWithVAD(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, vad, config, &NoOpLogger{})
}


func NewWithLogger(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		stt:       stt,
		llm:       llm,
		tts:       tts,
		vad:       vad,
		retriever: retrieval.NoopRetriever{},
		config:    config,
		logger:    logger,
	}
}


// SetTools stores the tool list (returned by Tools) along with the
// executor that runs a tool when a streaming LLM reports a tool call.
// The LLM adapters' requests do not include the tool list. Tools requested
// while executor is nil are answered with an error result rather than
// stalling the turn.
func (o *Orchestrator) SetTools(tools []Tool, executor ToolExecutor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = tools
	o.toolExecutor = executor
}

// Tools returns the configured tool list.
func (o *Orchestrator) Tools() []Tool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tools
}

// GetToolExecutor returns the configured tool executor, or nil.
func (o *Orchestrator) GetToolExecutor() ToolExecutor {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.toolExecutor
}

// SetRetriever configures the retrieval backend consulted before each
// LLM call. Passing nil restores the no-op retriever.
func (o *Orchestrator) SetRetriever(r retrieval.Retriever) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r == nil {
		r = retrieval.NoopRetriever{}
	}
	o.retriever = r
}


func (o *Orchestrator) PushAudio(sessionID string, chunk []byte) (*VADEvent, error) {
	if o.vad == nil {
		return nil, fmt.Errorf("VAD provider not configured")
	}
	return o.vad.Process(chunk)
}


func (o *Orchestrator) ProcessAudio(ctx context.Context, session *ConversationSession, audioData []byte) (string, []byte, error) {
	
	transcript, err := o.Transcribe(ctx, audioData, session.GetCurrentLanguage())
	if err != nil {
		return "", nil, fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		o.logger.Warn("empty transcription received", "sessionID", session.ID)
		return "", nil, ErrEmptyTranscription
	}

	o.logger.Info("transcription completed", "sessionID", session.ID, "length", len(transcript))
	session.AddMessage("user", transcript)

	
	response, err := o.GenerateResponse(ctx, session)
	if err != nil {
		o.logger.Error("LLM generation failed", "sessionID", session.ID, "error", err)
		return transcript, nil, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	o.logger.Info("LLM response generated", "sessionID", session.ID, "length", len(response))
	session.AddMessage("assistant", response)

	
	audioBytes, err := o.Synthesize(ctx, response, session.GetCurrentVoice(), session.GetCurrentLanguage())
	if err != nil {
		o.logger.Error("TTS synthesis failed", "sessionID", session.ID, "error", err)
		return transcript, nil, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	o.logger.Info("TTS synthesis completed", "sessionID", session.ID, "audioSize", len(audioBytes))
	return transcript, audioBytes, nil
}


func (o *Orchestrator) ProcessAudioStream(ctx context.Context, session *ConversationSession, audioData []byte, onAudioChunk func([]byte) error) (string, error) {
	
	transcript, err := o.Transcribe(ctx, audioData, session.GetCurrentLanguage())
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		o.logger.Warn("empty transcription received", "sessionID", session.ID)
		return "", ErrEmptyTranscription
	}

	o.logger.Info("transcription completed", "sessionID", session.ID, "length", len(transcript))
	session.AddMessage("user", transcript)

	
	response, err := o.GenerateResponse(ctx, session)
	if err != nil {
		o.logger.Error("LLM generation failed", "sessionID", session.ID, "error", err)
		return transcript, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	o.logger.Info("LLM response generated", "sessionID", session.ID, "length", len(response))
	session.AddMessage("assistant", response)

	
	err = o.SynthesizeStream(ctx, response, session.GetCurrentVoice(), session.GetCurrentLanguage(), onAudioChunk)
	if err != nil {
		o.logger.Error("TTS streaming failed", "sessionID", session.ID, "error", err)
		return transcript, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	o.logger.Info("TTS streaming completed", "sessionID", session.ID)
	return transcript, nil
}


func (o *Orchestrator) Transcribe(ctx context.Context, audioData []byte, lang Language) (string, error) {
	return o.stt.Transcribe(ctx, audioData, lang)
}


func (o *Orchestrator) GenerateResponse(ctx context.Context, session *ConversationSession) (string, error) {
	response, _, err := o.GenerateResponseWithRetrieval(ctx, session)
	return response, err
}


// RetrievalOutcome reports whether the retrieval step contributed context
// to the turn, for the caller to record on the session's Turn history.
type RetrievalOutcome struct {
	Used     bool
	TimedOut bool
}


// GenerateResponseWithRetrieval augments the session's message history with
// retrieved grounding context (bounded by Config.RetrievalTopK/Timeout)
// before calling the LLM. A retrieval timeout or error is non-fatal: the
// turn proceeds without the extra context.
func (o *Orchestrator) GenerateResponseWithRetrieval(ctx context.Context, session *ConversationSession) (string, RetrievalOutcome, error) {
	messages, outcome := o.AugmentContext(ctx, session)
	response, err := o.llm.Complete(ctx, messages)
	return response, outcome, err
}

// AugmentContext runs the retrieval step for the session's current
// turn and returns the conversation messages with retrieved context
// injected as a system message ahead of the latest user message.
// Callers that stream the LLM response — which cannot go
// through GenerateResponseWithRetrieval — use this directly so both the
// batch and streaming pipelines exercise retrieval identically.
func (o *Orchestrator) AugmentContext(ctx context.Context, session *ConversationSession) ([]Message, RetrievalOutcome) {
	cfg := o.GetConfig()
	messages := session.GetContextCopy()

	query := lastUserMessage(messages)
	outcome := RetrievalOutcome{}

	if query != "" && cfg.RetrievalTopK > 0 {
		rCtx, cancel := context.WithTimeout(ctx, cfg.RetrievalTimeout)
		contexts, err := o.retriever.Retrieve(rCtx, query, cfg.RetrievalTopK)
		cancel()

		switch {
		case err == context.DeadlineExceeded:
			outcome.TimedOut = true
			o.logger.Warn("retrieval timed out", "sessionID", session.ID)
		case err != nil:
			o.logger.Warn("retrieval failed", "sessionID", session.ID, "error", err)
		case len(contexts) > 0:
			outcome.Used = true
			messages = injectRetrievedContext(messages, contexts)
		}
	}

	return messages, outcome
}


func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}


func injectRetrievedContext(messages []Message, contexts []retrieval.Context) []Message {
	var b strings.Builder
	b.WriteString("Relevant context:\n")
	for _, c := range contexts {
		fmt.Fprintf(&b, "- (%s) %s\n", c.Source, c.Text)
	}

	augmented := make([]Message, 0, len(messages)+1)

	insertAt := len(messages)
	for i, m := range messages {
		if m.Role == "user" && i == len(messages)-1 {
			insertAt = i
			break
		}
	}
	augmented = append(augmented, messages[:insertAt]...)
	augmented = append(augmented, Message{Role: "system", Content: b.String()})
	augmented = append(augmented, messages[insertAt:]...)
	return augmented
}


func (o *Orchestrator) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return o.tts.Synthesize(ctx, text, voice, lang)
}


func (o *Orchestrator) SynthesizeStream(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	return o.tts.StreamSynthesize(ctx, text, voice, lang, onChunk)
}


func (o *Orchestrator) HandleInterruption(session *ConversationSession) {
	o.logger.Info("conversation interrupted", "sessionID", session.ID)
	
}


func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}


func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}


func (o *Orchestrator) GetProviders() map[string]string {
	return map[string]string{
		"stt": o.stt.Name(),
		"llm": o.llm.Name(),
		"tts": o.tts.Name(),
	}
}



func (o *Orchestrator) NewSessionWithDefaults(userID string) *ConversationSession {
	session := NewConversationSession(userID)
	session.MaxMessages = o.config.MaxContextMessages
	session.CurrentVoice = o.config.VoiceStyle
	session.CurrentLanguage = o.config.Language
	return session
}



func (o *Orchestrator) SetSystemPrompt(session *ConversationSession, prompt string) {
	session.AddMessage("system", prompt)
}



func (o *Orchestrator) SetVoice(session *ConversationSession, voice Voice) {
	session.CurrentVoice = voice
}



func (o *Orchestrator) SetLanguage(session *ConversationSession, lang Language) {
	session.CurrentLanguage = lang
}



func (o *Orchestrator) ResetSession(session *ConversationSession) {
	session.ClearContext()
}



func (o *Orchestrator) NewManagedStream(ctx context.Context, session *ConversationSession) *ManagedStream {
	return NewManagedStream(ctx, o, session)
}
