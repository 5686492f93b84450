package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type ManagedStream struct {
	orch    *Orchestrator
	session *ConversationSession
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan OrchestratorEvent
	vad     VADProvider

	audioBuf *RingBuffer
	mu       sync.Mutex

	pipelineCtx       context.Context
	pipelineCancel    context.CancelFunc
	sttChan           chan<- []byte
	sttGeneration     int  // Version number to detect stale STT callbacks
	sttAwaitingFinal  bool // set while waiting on a final transcript after speech_end
	isSpeaking        bool
	isThinking        bool
	lastInterruptedAt time.Time
	lastAudioSentAt   time.Time
	userSpeechEndTime time.Time // When user stopped speaking (VADSpeechEnd)
	botSpeakStartTime time.Time // When bot started TTS playback

	// Last captured user turn audio (raw PCM). Filled when STT starts or during
	// streaming STT so the CLI can export raw + postprocessed audio for debugging.
	lastUserAudio []byte

	// Per-turn instrumentation timestamps (set/cleared each user turn)
	sttStartTime      time.Time // when STT started (batch or streaming)
	sttEndTime        time.Time // when final transcript was produced
	llmStartTime      time.Time // when LLM generation started
	llmEndTime        time.Time // when LLM generation finished
	ttsStartTime      time.Time // when TTS synthesis began
	ttsFirstChunkTime time.Time // when first audio chunk was emitted by TTS
	ttsEndTime        time.Time // when TTS finished

	responseCancel   context.CancelFunc
	ttsCancel        context.CancelFunc // Track TTS context for fast abort
	userInterrupting bool               // Flag to block audio emission during user barge-in
	echoSuppressor   *EchoSuppressor    // Echo detection and suppression
	closeOnce        sync.Once

	// state is the explicit turn-taking state machine. isSpeaking and
	// isThinking remain the source of truth for existing call sites;
	// state mirrors them so observers get a single SessionState value
	// instead of reverse-engineering it from the two bools.
	state SessionState

	accumulator *SentenceAccumulator
}

func NewManagedStream(ctx context.Context, o *Orchestrator, session *ConversationSession) *ManagedStream {
	mCtx, mCancel := context.WithCancel(ctx)

	var streamVAD VADProvider
	if o.vad != nil {
		streamVAD = o.vad.Clone()
	}

	flushTokens := 40
	if o != nil {
		if cfg := o.GetConfig().SentenceFlushTokens; cfg > 0 {
			flushTokens = cfg
		}
	}

	ms := &ManagedStream{
		orch:           o,
		session:        session,
		ctx:            mCtx,
		cancel:         mCancel,
		events:         make(chan OrchestratorEvent, 1024),
		audioBuf:       NewRingBuffer(),
		vad:            streamVAD,
		echoSuppressor: NewEchoSuppressor(),
		state:          StateIdle,
		accumulator:    NewSentenceAccumulator(flushTokens),
	}

	return ms
}

// setState updates the turn-taking state and emits StateChanged when
// it actually transitions. Callers must NOT hold ms.mu.
func (ms *ManagedStream) setState(s SessionState) {
	ms.mu.Lock()
	changed := ms.state != s
	ms.state = s
	ms.mu.Unlock()
	if changed {
		ms.emit(StateChanged, string(s))
	}
}

// State returns the current turn-taking state.
func (ms *ManagedStream) State() SessionState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

// LastRMS returns the last RMS value computed by the stream's internal VAD
// (returns 0.0 when unavailable).
func (ms *ManagedStream) LastRMS() float64 {
	if ms.vad == nil {
		return 0.0
	}
	if rmsVAD, ok := ms.vad.(*RMSVAD); ok {
		return rmsVAD.LastRMS()
	}
	return 0.0
}

// IsUserSpeaking reports the internal VAD speaking state for this stream.
func (ms *ManagedStream) IsUserSpeaking() bool {
	if ms.vad == nil {
		return false
	}
	if rmsVAD, ok := ms.vad.(*RMSVAD); ok {
		return rmsVAD.IsSpeaking()
	}
	return false
}

// Interrupt immediately stops the bot from speaking. This is an explicit way to
// interrupt regardless of VAD state - useful for UI buttons or external signals.
// It clears audio playback, cancels TTS/LLM, and emits an Interrupted event.
func (ms *ManagedStream) Interrupt() {
	ms.mu.Lock()
	ms.userInterrupting = true
	ms.mu.Unlock()
	ms.internalInterrupt()
}

// countWords returns the number of whitespace-separated words in s.
func countWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

const speechEndHold = 300 * time.Millisecond

func (ms *ManagedStream) Write(chunk []byte) error {
	// Avoid holding ms.mu for the entire function — callers (and
	// startStreamingSTT) also need to acquire ms.mu and that caused a
	// re-entrancy deadlock in practice.

	if ms.vad == nil {
		return fmt.Errorf("VAD not configured for this stream")
	}

	// Temporarily adjust VAD threshold when recent audio was played. This
	// prevents immediate echo from freshly-played audio from being mistaken
	// for user speech — but it MUST NOT prevent legitimate user barge-in.
	// Only apply the aggressive "echo guard" when we are *not* currently
	// speaking (i.e. playback leftover), so active TTS remains interruptible.
	if rmsVAD, ok := ms.vad.(*RMSVAD); ok {
		originalThreshold := rmsVAD.Threshold()
		originalMinConfirmed := rmsVAD.MinConfirmed()

		ms.mu.Lock()
		speaking := ms.isSpeaking
		lastSent := ms.lastAudioSentAt
		ms.mu.Unlock()

		if speaking {
			// Require more sustained sound to interrupt the bot (e.g., 3 frames ~ 60ms)
			// to avoid transient noises or small echo slips causing false interruptions,
			// but keeping it low enough so the user can still barge in easily.
			if originalMinConfirmed < 3 {
				rmsVAD.SetMinConfirmed(3)
			}
		} else if time.Since(lastSent) < 250*time.Millisecond {
			// Only apply aggressive "echo guard" when we recently finished speaking
			rmsVAD.SetAdaptiveMode(false)
			rmsVAD.SetThreshold(0.25)
		}

		defer func() {
			rmsVAD.SetThreshold(originalThreshold)
			rmsVAD.SetMinConfirmed(originalMinConfirmed)
			rmsVAD.SetAdaptiveMode(true)
		}()
	}

	// apply realtime echo removal to the incoming mic chunk BEFORE VAD/STT
	isLikelyEchoByEnergy := false
	if ms.echoSuppressor != nil {
		// keep original energy for a relative check
		origSamples := bytesToSamples(chunk)
		origEnergy := calculateEnergy(origSamples)

		cleaned := ms.echoSuppressor.RemoveEchoRealtime(chunk)

		cleanedEnergy := calculateEnergy(bytesToSamples(cleaned))
		// if cleaned energy is both very small OR a small fraction of original,
		// it's almost certainly echo and we should treat it as such.
		if cleanedEnergy < 1e-8 || (origEnergy > 0 && cleanedEnergy/origEnergy < 0.02) {
			isLikelyEchoByEnergy = true
			// use cleaned (near-zero) so VAD sees silence
			chunk = cleaned
		} else {
			// otherwise pass the cleaned audio through
			chunk = cleaned
		}
	}
	event, err := ms.vad.Process(chunk)

	// Checked before the Process error is returned, since saturation is
	// only ever reached on a call that itself failed.
	if rmsVAD, ok := ms.vad.(*RMSVAD); ok && rmsVAD.Saturated() {
		// vad.saturated is session-fatal, unlike the per-turn
		// stt/llm/tts failures below: the detector has failed
		// vadSaturationLimit classifications in a row, so there is no
		// turn left to recover.
		ms.handleVADSaturated()
		return nil
	}
	if err != nil {
		return err
	}

	if event != nil && event.Type != VADSilence {
		switch event.Type {
		case VADSpeechStart:
			// Check if this is echo from speakers before treating as speech
			// Build a short buffer combining recent captured mic (lead-in) + current chunk
			ms.mu.Lock()
			lead := ms.audioBuf.Bytes()
			ms.mu.Unlock()

			// keep only last ~100ms of lead audio to improve match stability
			leadBytes := 3200 // ~100ms at 16kHz, 16-bit mono
			if len(lead) > leadBytes {
				lead = lead[len(lead)-leadBytes:]
			}
			checkBuf := make([]byte, 0, len(lead)+len(chunk))
			checkBuf = append(checkBuf, lead...)
			checkBuf = append(checkBuf, chunk...)

			if ms.echoSuppressor.IsEcho(checkBuf) {
				// This audio is primarily echo from our speaker output - ignore it
				break
			}

			// If we're currently playing TTS and the mic input arrives
			// immediately after an audio chunk, it's likely our own
			// playback being captured — ignore short-lived echoes to avoid
			// self-interruption.
			ms.mu.Lock()
			speaking := ms.isSpeaking
			lastSent := ms.lastAudioSentAt
			ms.mu.Unlock()

			if speaking && time.Since(lastSent) < 120*time.Millisecond {
				// treat as silence/ignore this VAD event
				break
			}

			// If assistant is currently speaking, treat this as an IMMEDIATE user barge-in:
			// 1. Set userInterrupting flag to block new audio chunks
			// 2. Cancel streaming STT context to stop processing
			// 3. Keep audio buffer - we need it for the new STT session!
			// 4. Cancel all pending responses
			// 5. Restart streaming STT for fresh user input
			if speaking {
				ms.mu.Lock()
				ms.userInterrupting = true
				ms.sttGeneration++ // Invalidate old STT callbacks
				// Cancel pipeline context to stop any in-flight STT (don't close the channel)
				pipelineCancel := ms.pipelineCancel
				ms.pipelineCancel = nil
				ms.sttChan = nil
				// NOTE: Don't clear audio buffer here - we need it for the new STT!
				ms.mu.Unlock()

				// Cancel context outside the lock to avoid deadlocks
				if pipelineCancel != nil {
					pipelineCancel()
				}

				ms.emit(UserSpeaking, nil)
				ms.internalInterrupt()
				ms.setState(StateListening)
				if sProvider, ok := ms.orch.stt.(StreamingSTTProvider); ok {
					ms.startStreamingSTT(sProvider)
				}
				break
			}

			// not speaking: normal user turn — emit and interrupt pending response
			ms.emit(UserSpeaking, nil)
			// reset per-turn instrumentation timestamps
			ms.mu.Lock()
			ms.sttStartTime = time.Time{}
			ms.sttEndTime = time.Time{}
			ms.llmStartTime = time.Time{}
			ms.llmEndTime = time.Time{}
			ms.ttsStartTime = time.Time{}
			ms.ttsFirstChunkTime = time.Time{}
			ms.ttsEndTime = time.Time{}
			ms.lastUserAudio = nil
			ms.mu.Unlock()

			ms.internalInterrupt()
			ms.setState(StateListening)

			// start streaming STT without holding ms.mu to avoid deadlock
			if sProvider, ok := ms.orch.stt.(StreamingSTTProvider); ok {
				ms.startStreamingSTT(sProvider)
			}

		case VADSpeechEnd:
			ms.mu.Lock()
			ms.userSpeechEndTime = time.Now()
			ms.mu.Unlock()
			ms.emit(UserStopped, nil)

			// Capture current audio buffer under lock and schedule a short
			// hold before finalizing the user's turn. If speech resumes during
			// the hold, re-insert the captured audio back into the buffer and
			// don't transcribe yet. This prevents premature truncation of
			// user utterances caused by brief pauses.
			ms.mu.Lock()
			sttChan := ms.sttChan
			if sttChan != nil {
				ms.sttChan = nil // Stop sending new audio to STT provider
				gen := ms.sttGeneration
				ms.sttAwaitingFinal = true
				ms.mu.Unlock()
				// DO NOT cancel the context - let STT provider finish processing audio it has.
				// awaitSTTFinal bounds how long we'll wait for that final transcript
				// before treating the turn as stt.fatal.
				go ms.awaitSTTFinal(gen)
			} else {
				audioData := make([]byte, ms.audioBuf.Len())
				copy(audioData, ms.audioBuf.Bytes())
				ms.audioBuf.Reset()
				ms.mu.Unlock()

				go func(buf []byte) {
					// short grace period to allow resumption of speech
					t := time.NewTimer(speechEndHold)
					defer t.Stop()

					select {
					case <-t.C:
						// if VAD now reports speaking, reinsert buffer and abort
						if rmsVAD, ok := ms.vad.(*RMSVAD); ok {
							if rmsVAD.IsSpeaking() {
								ms.mu.Lock()
								ms.audioBuf.Append(buf)
								ms.mu.Unlock()
								return
							}
						}
						// otherwise proceed with batch transcription
						ms.runBatchPipeline(buf)
					case <-ms.ctx.Done():
						return
					}
				}(audioData)
			}

		case VADSilence:
			// no-op
		}
	}

	// forward chunk to streaming STT if present (read sttChan under lock,
	// perform non-blocking send outside the lock)
	// First, check whether this chunk appears to be echo of our own playback.
	isEcho := false
	if ms.echoSuppressor != nil {
		// build a small context buffer (tail of audioBuf + current chunk) to
		// improve correlation stability
		ms.mu.Lock()
		lead := ms.audioBuf.Bytes()
		ms.mu.Unlock()

		leadBytes := 3200 // ~100ms at 16kHz, 16-bit mono
		if len(lead) > leadBytes {
			lead = lead[len(lead)-leadBytes:]
		}
		check := make([]byte, 0, len(lead)+len(chunk))
		check = append(check, lead...)
		check = append(check, chunk...)
		if ms.echoSuppressor.IsEcho(check) {
			isEcho = true
		}
	}

	// also respect the earlier energy-based decision made during realtime removal
	if isLikelyEchoByEnergy {
		isEcho = true
	}
	ms.mu.Lock()
	sttChan := ms.sttChan
	// Only accumulate user audio and forward to STT when this chunk is NOT echo
	if sttChan != nil && !isEcho {
		ms.lastUserAudio = append(ms.lastUserAudio, chunk...)
	}
	ms.mu.Unlock()

	if sttChan != nil && !isEcho {
		select {
		case sttChan <- chunk:
		default:
		}
	}

	// append to audio buffer under lock
	isUserSpeaking := false
	if rmsVAD, ok := ms.vad.(*RMSVAD); ok {
		isUserSpeaking = rmsVAD.IsSpeaking()
	}

	ms.mu.Lock()
	// If this chunk was detected as echo earlier, don't add it to the rolling
	// buffer that we later feed into STT — prevents self-transcription.
	if !isEcho {
		ms.audioBuf.Append(chunk)
		// While no utterance is in progress this buffer is purely the
		// pre-speech window: trim it to the most recent window so
		// it never holds more than 500ms of idle-room audio. Once
		// speech starts we stop trimming so the buffer captures the
		// full utterance for batch STT.
		if !isUserSpeaking {
			ms.audioBuf.TrimToWindow()
		}
	}
	ms.mu.Unlock()

	return nil
}

func (ms *ManagedStream) startStreamingSTT(provider StreamingSTTProvider) {

	ctx, cancel := context.WithCancel(ms.ctx)

	// Capture current generation to detect stale callbacks from previous sessions
	ms.mu.Lock()
	currentGeneration := ms.sttGeneration
	ms.mu.Unlock()

	sttChan, err := provider.StreamTranscribe(ctx, ms.session.GetCurrentLanguage(), func(transcript string, isFinal bool) error {
		ms.mu.Lock()
		speaking := ms.isSpeaking
		thinking := ms.isThinking
		// Ignore callbacks from stale STT sessions (happens when interrupted)
		isStale := ms.sttGeneration != currentGeneration
		ms.mu.Unlock()

		// Ignore this callback if we've already moved to a new STT session
		if isStale {
			return nil
		}

		// When bot is actively speaking, apply word threshold to prevent short utterances
		// from interrupting. When bot is thinking/generating response, interrupt immediately
		// on any detected speech.
		if speaking {
			minWords := 1
			if ms.orch != nil {
				minWords = ms.orch.GetConfig().MinWordsToInterrupt
			}

			if minWords > 1 {
				wc := countWords(transcript)
				if wc < minWords {
					// keep partial transcripts visible, but suppress final user turn
					if !isFinal {
						ms.emit(TranscriptPartial, transcript)
					}
					return nil
				}
				// reached threshold -> interrupt assistant
				ms.internalInterrupt()
			} else {
				// minWords == 1 while assistant is speaking -> any transcript
				// (including partial) should trigger an interrupt (barge-in).
				if strings.TrimSpace(transcript) != "" {
					ms.internalInterrupt()
				}
			}
		} else if thinking && strings.TrimSpace(transcript) != "" {
			// Bot is thinking (generating response) - interrupt immediately on any speech
			ms.internalInterrupt()
		}

		if isFinal {
			// record STT final timestamp for instrumentation
			ms.mu.Lock()
			ms.sttEndTime = time.Now()
			ms.sttAwaitingFinal = false
			ms.mu.Unlock()

			if strings.TrimSpace(transcript) == "" {
				// Empty/whitespace-only finals are discarded outright:
				// no history entry, no LLM call, straight back to Idle.
				ms.setState(StateIdle)
				return nil
			}

			ms.emit(TranscriptFinal, transcript)
			ms.session.AddMessage("user", transcript)
			go ms.runLLMAndTTS(ms.ctx, transcript)
		} else {
			ms.emit(TranscriptPartial, transcript)
		}
		return nil
	})

	if err != nil {
		ms.emit(ErrorEvent, fmt.Sprintf("failed to start streaming STT: %v", err))
		cancel()
		return
	}

	ms.pipelineCtx = ctx
	ms.pipelineCancel = cancel
	ms.sttChan = sttChan
	// mark streaming STT start time for instrumentation
	ms.sttStartTime = time.Now()

	if ms.audioBuf.Len() > 0 {
		data := make([]byte, ms.audioBuf.Len())
		copy(data, ms.audioBuf.Bytes())
		// Save copy as lastUserAudio for CLI export/debug
		ms.lastUserAudio = make([]byte, len(data))
		copy(ms.lastUserAudio, data)
		// Clear the buffer after copying - fresh audio will accumulate from now on
		ms.audioBuf.Reset()
		select {
		case sttChan <- data:
		default:
		}
	}
}

func (ms *ManagedStream) runBatchPipeline(audioData []byte) {
	// Interrupt pending operations FIRST (outside lock for now)
	ms.internalInterrupt()

	ms.mu.Lock()
	ctx, cancel := context.WithCancel(ms.ctx)
	ms.pipelineCtx = ctx
	ms.pipelineCancel = cancel
	// instrumentation: mark STT start for batch pipeline
	ms.sttStartTime = time.Now()
	// capture the audio used for this STT call
	ms.lastUserAudio = make([]byte, len(audioData))
	copy(ms.lastUserAudio, audioData)
	ms.mu.Unlock()
	defer cancel()

	ms.emit(BotThinking, nil)

	sttCtx, sttCancel := context.WithTimeout(ctx, ms.sttTimeout())
	defer sttCancel()

	transcript, err := ms.orch.Transcribe(sttCtx, audioData, ms.session.GetCurrentLanguage())
	// instrumentation: mark STT end immediately after Transcribe returns
	ms.mu.Lock()
	if err == nil {
		ms.sttEndTime = time.Now()
	}
	ms.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			ms.emit(ErrorEvent, ErrSTTFatal.Error()+": "+err.Error())
			ms.speakFallback()
		}
		return
	}

	if transcript == "" {
		return
	}

	// When assistant is currently speaking and a minimum-word interrupt
	// threshold is configured, suppress short user utterances (backchannels)
	// and only interrupt when the transcript meets the threshold.
	ms.mu.Lock()
	speaking := ms.isSpeaking
	ms.mu.Unlock()
	if speaking && ms.orch != nil && ms.orch.GetConfig().MinWordsToInterrupt > 1 {
		if countWords(transcript) < ms.orch.GetConfig().MinWordsToInterrupt {
			// discard short user utterance
			return
		}
		// otherwise interrupt the assistant before processing
		ms.internalInterrupt()
	}

	ms.emit(TranscriptFinal, transcript)
	ms.session.AddMessage("user", transcript)

	ms.runLLMAndTTS(ctx, transcript)
}

// SubmitText injects a user turn directly, bypassing STT entirely. Used by
// the HTTP control surface's text endpoint, where the caller already has
// text rather than audio.
func (ms *ManagedStream) SubmitText(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	ms.mu.Lock()
	speaking := ms.isSpeaking
	ms.mu.Unlock()
	if speaking {
		ms.internalInterrupt()
	}

	ms.emit(TranscriptFinal, text)
	ms.session.AddMessage("user", text)
	ms.runLLMAndTTS(ctx, text)
}

// runLLMAndTTS dispatches to the sentence-streaming pipeline when the
// configured LLM supports it, falling back to the one-shot
// complete-then-synthesize pipeline otherwise.
func (ms *ManagedStream) runLLMAndTTS(ctx context.Context, transcript string) {
	if ms.orch != nil {
		if sProvider, ok := ms.orch.llm.(StreamingLLMProvider); ok {
			ms.runStreamingLLMAndTTS(ctx, sProvider, transcript)
			return
		}
	}
	ms.runBatchLLMAndTTS(ctx, transcript)
}

// runStreamingLLMAndTTS streams LLM token deltas through the sentence
// accumulator, synthesizing and emitting audio for each sentence as
// soon as it completes instead of waiting for the full response.
func (ms *ManagedStream) runStreamingLLMAndTTS(ctx context.Context, llm StreamingLLMProvider, transcript string) {
	ms.mu.Lock()
	if ms.responseCancel != nil {
		ms.responseCancel()
	}
	if ms.ttsCancel != nil {
		ms.ttsCancel()
	}
	rCtx, rCancel := context.WithCancel(ctx)
	ms.responseCancel = rCancel
	ms.isThinking = true
	ms.accumulator.Reset()
	ms.mu.Unlock()
	defer rCancel()

	ms.setState(StateThinking)
	ms.emit(BotThinking, nil)

	ms.mu.Lock()
	ms.llmStartTime = time.Now()
	ms.mu.Unlock()

	turnStart := ms.llmStartTime
	voice := ms.session.GetCurrentVoice()
	lang := ms.session.GetCurrentLanguage()
	messages, retrievalOutcome := ms.orch.AugmentContext(rCtx, ms.session)
	var fullResponse strings.Builder
	var speakErr error
	firstSentence := true

	speakSentence := func(sentence string) error {
		if firstSentence {
			firstSentence = false
			ms.mu.Lock()
			ms.isThinking = false
			ms.isSpeaking = true
			ms.botSpeakStartTime = time.Now()
			ms.ttsStartTime = ms.botSpeakStartTime
			ms.mu.Unlock()
			ms.setState(StateSpeaking)
			ms.emit(BotSpeaking, nil)
		}
		sentCtx, sentCancel := context.WithTimeout(rCtx, ms.ttsTimeout())
		defer sentCancel()
		return ms.orch.SynthesizeStream(sentCtx, sentence, voice, lang, func(chunk []byte) error {
			ms.mu.Lock()
			ms.lastAudioSentAt = time.Now()
			if ms.ttsFirstChunkTime.IsZero() {
				ms.ttsFirstChunkTime = time.Now()
			}
			ms.mu.Unlock()
			ms.echoSuppressor.RecordPlayedAudio(chunk)
			ms.emit(AudioChunk, chunk)
			return nil
		})
	}

	llmCtx, llmCancel := context.WithTimeout(rCtx, ms.llmTimeout())
	defer llmCancel()

	// Tool calls run in rounds: the model streams until it requests one
	// or more tools, the stream executes them and appends the results,
	// then the model resumes with the extended history. A turn with no
	// tool requests is a single round.
	var err error
	var toolCalls []LLMStreamEvent
	for round := 0; ; round++ {
		toolCalls = toolCalls[:0]
		err = llm.StreamComplete(llmCtx, messages, func(ev LLMStreamEvent) error {
			switch ev.Kind {
			case LLMDelta:
				fullResponse.WriteString(ev.Delta)
				for _, sentence := range ms.accumulator.Push(ev.Delta) {
					if speakErr = speakSentence(sentence); speakErr != nil {
						return speakErr
					}
				}
			case LLMToolStart:
				toolCalls = append(toolCalls, ev)
			case LLMFinish:
				for _, sentence := range ms.accumulator.Finish() {
					if speakErr = speakSentence(sentence); speakErr != nil {
						return speakErr
					}
				}
			}
			return nil
		})
		if err != nil || len(toolCalls) == 0 || round >= maxToolRounds {
			break
		}
		messages = append(messages, ms.executeToolCalls(rCtx, toolCalls)...)
	}

	ms.mu.Lock()
	if err == nil {
		ms.llmEndTime = time.Now()
	}
	ms.mu.Unlock()

	if err != nil {
		ms.mu.Lock()
		ms.isThinking = false
		ms.isSpeaking = false
		ms.mu.Unlock()
		if rCtx.Err() == nil {
			// llm.fatal: abort the turn, speak the fallback apology,
			// and return to Idle rather than parking the session in Error.
			// Error is reserved for session-fatal faults (vad.saturated).
			ms.emit(ErrorEvent, ErrLLMFatal.Error()+": "+err.Error())
			ms.session.AppendTurn(Turn{
				UserText:          transcript,
				AgentText:         fullResponse.String(),
				StartedAt:         turnStart,
				EndedAt:           time.Now(),
				Incomplete:        true,
				RetrievalUsed:     retrievalOutcome.Used,
				RetrievalTimedOut: retrievalOutcome.TimedOut,
			})
			ms.speakFallback()
		} else {
			// barge-in or cancellation mid-stream: record whatever text
			// had already been flushed to TTS. The
			// interrupt that cancelled us already moved the state on
			// (Idle, or Listening when a new user turn started), so no
			// transition happens here.
			ms.session.AppendTurn(Turn{
				UserText:          transcript,
				AgentText:         fullResponse.String(),
				StartedAt:         turnStart,
				EndedAt:           time.Now(),
				Interrupted:       true,
				RetrievalUsed:     retrievalOutcome.Used,
				RetrievalTimedOut: retrievalOutcome.TimedOut,
			})
		}
		return
	}

	response := fullResponse.String()
	ms.session.AddMessage("assistant", response)
	ms.emit(BotResponse, response)

	ms.mu.Lock()
	if !ms.ttsStartTime.IsZero() {
		ms.ttsEndTime = time.Now()
	}
	ms.isSpeaking = false
	ms.mu.Unlock()
	ms.setState(StateIdle)

	ms.session.AppendTurn(Turn{
		UserText:          transcript,
		AgentText:         response,
		StartedAt:         turnStart,
		EndedAt:           time.Now(),
		Interrupted:       false,
		RetrievalUsed:     retrievalOutcome.Used,
		RetrievalTimedOut: retrievalOutcome.TimedOut,
	})
}

// maxToolRounds bounds how many times one turn may loop through a
// tool-request/resume cycle before the response is forced to finish.
const maxToolRounds = 4

// executeToolCalls runs each requested tool via the configured executor
// and returns the messages to append before resuming the model: the
// assistant's call, then the tool's result. A missing executor or a
// failed tool becomes an error-text result so the model can recover in
// its next round instead of the turn dying.
func (ms *ManagedStream) executeToolCalls(ctx context.Context, calls []LLMStreamEvent) []Message {
	executor := ms.orch.GetToolExecutor()

	out := make([]Message, 0, len(calls)*2)
	for _, call := range calls {
		ms.emit(ToolCalled, call.ToolName)

		var result string
		if executor == nil {
			result = "error: no tool executor configured"
		} else if r, err := executor(ctx, call.ToolName, call.ToolArgs); err != nil {
			ms.orch.logger.Warn("tool execution failed", "sessionID", ms.session.ID, "tool", call.ToolName, "error", err)
			result = "error: " + err.Error()
		} else {
			result = r
		}

		out = append(out,
			Message{Role: "assistant", Content: fmt.Sprintf("[tool_call] %s(%s)", call.ToolName, call.ToolArgs)},
			Message{Role: "tool", Content: result},
		)
	}
	return out
}

func (ms *ManagedStream) runBatchLLMAndTTS(ctx context.Context, transcript string) {
	ms.mu.Lock()

	if ms.responseCancel != nil {
		ms.responseCancel()
	}
	if ms.ttsCancel != nil {
		ms.ttsCancel()
	}

	rCtx, rCancel := context.WithCancel(ctx)
	ms.responseCancel = rCancel
	ms.isThinking = true
	ms.mu.Unlock()

	defer rCancel()

	ms.setState(StateThinking)
	ms.emit(BotThinking, nil)

	// instrumentation: mark LLM start
	ms.mu.Lock()
	ms.llmStartTime = time.Now()
	ms.mu.Unlock()

	turnStart := ms.llmStartTime

	llmCtx, llmCancel := context.WithTimeout(rCtx, ms.llmTimeout())
	defer llmCancel()

	response, retrievalOutcome, err := ms.orch.GenerateResponseWithRetrieval(llmCtx, ms.session)
	// instrumentation: mark LLM end
	ms.mu.Lock()
	if err == nil {
		ms.llmEndTime = time.Now()
	}
	ms.mu.Unlock()

	if err != nil {
		if rCtx.Err() == nil {
			// llm.fatal: abort the turn, speak the fallback apology,
			// and return to Idle. Error is reserved for session-fatal
			// faults (vad.saturated), not a single bad turn.
			ms.emit(ErrorEvent, ErrLLMFatal.Error()+": "+err.Error())
			ms.session.AppendTurn(Turn{
				UserText:          transcript,
				StartedAt:         turnStart,
				EndedAt:           time.Now(),
				Incomplete:        true,
				RetrievalUsed:     retrievalOutcome.Used,
				RetrievalTimedOut: retrievalOutcome.TimedOut,
			})
			ms.mu.Lock()
			ms.isThinking = false
			ms.mu.Unlock()
			ms.speakFallback()
		} else {
			// Cancelled mid-generation: the interrupt that cancelled us
			// already owns the state transition.
			ms.mu.Lock()
			ms.isThinking = false
			ms.mu.Unlock()
		}
		return
	}

	ms.session.AddMessage("assistant", response)
	// Emit the assistant text so callers (CLI, tests) can display the
	// agent's textual response prior to/while TTS is synthesized.
	ms.emit(BotResponse, response)

	ms.mu.Lock()
	ms.isThinking = false
	ms.isSpeaking = true

	if ms.vad != nil {
		ms.vad.Reset()
	}

	// Create separate TTS context for fast abort on barge-in, bounded by
	// the configured TTS timeout.
	ttsCtx, ttsCancel := context.WithTimeout(rCtx, ms.ttsTimeout())
	ms.ttsCancel = ttsCancel
	ms.mu.Unlock()

	defer ttsCancel()

	ms.mu.Lock()
	ms.botSpeakStartTime = time.Now()
	// instrumentation: mark TTS synthesis start
	ms.ttsStartTime = ms.botSpeakStartTime
	ms.mu.Unlock()
	ms.setState(StateSpeaking)
	ms.emit(BotSpeaking, nil)

	err = ms.orch.SynthesizeStream(ttsCtx, response, ms.session.GetCurrentVoice(), ms.session.GetCurrentLanguage(), func(chunk []byte) error {
		select {
		case <-ttsCtx.Done():
			return ttsCtx.Err()
		default:
			ms.mu.Lock()
			ms.lastAudioSentAt = time.Now()
			// record first-chunk timestamp for instrumentation
			if ms.ttsFirstChunkTime.IsZero() {
				ms.ttsFirstChunkTime = time.Now()
			}
			ms.mu.Unlock()

			// Record this audio chunk for echo detection
			ms.echoSuppressor.RecordPlayedAudio(chunk)

			ms.emit(AudioChunk, chunk)
			return nil
		}
	})

	// instrumentation: mark TTS end
	ms.mu.Lock()
	if !ms.ttsStartTime.IsZero() {
		ms.ttsEndTime = time.Now()
	}
	ms.mu.Unlock()

	if err != nil && ttsCtx.Err() == nil {
		// tts.fatal: the turn ends without audio; Error is reserved
		// for session-fatal faults, so just surface the event and fall
		// through to Idle below.
		ms.emit(ErrorEvent, ErrTTSFatal.Error()+": "+err.Error())
	}

	ms.mu.Lock()
	ms.isSpeaking = false
	ms.ttsCancel = nil
	ms.mu.Unlock()
	// A cancelled parent context means an interrupt owns the state
	// transition; a TTS timeout alone still returns the turn to Idle.
	if rCtx.Err() == nil {
		ms.setState(StateIdle)
	}

	ms.session.AppendTurn(Turn{
		UserText:          transcript,
		AgentText:         response,
		StartedAt:         turnStart,
		EndedAt:           time.Now(),
		Interrupted:       ttsCtx.Err() != nil,
		RetrievalUsed:     retrievalOutcome.Used,
		RetrievalTimedOut: retrievalOutcome.TimedOut,
	})
}

// sttTimeout, llmTimeout, ttsTimeout, bargeInDeadline and sttFinalTimeout
// read the bounds configured in Config, falling back to the same
// defaults DefaultConfig ships when a stream was built with a zero Config.

func (ms *ManagedStream) sttTimeout() time.Duration {
	if ms.orch != nil {
		if secs := ms.orch.GetConfig().STTTimeout; secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}

func (ms *ManagedStream) llmTimeout() time.Duration {
	if ms.orch != nil {
		if secs := ms.orch.GetConfig().LLMTimeout; secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}

func (ms *ManagedStream) ttsTimeout() time.Duration {
	if ms.orch != nil {
		if secs := ms.orch.GetConfig().TTSTimeout; secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}

func (ms *ManagedStream) bargeInDeadline() time.Duration {
	if ms.orch != nil {
		if d := ms.orch.GetConfig().BargeInDeadline; d > 0 {
			return d
		}
	}
	return 300 * time.Millisecond
}

func (ms *ManagedStream) sttFinalTimeout() time.Duration {
	if ms.orch != nil {
		if d := ms.orch.GetConfig().STTFinalTimeout; d > 0 {
			return d
		}
	}
	return 2 * time.Second
}

// awaitSTTFinal aborts the turn with a spoken fallback (stt.fatal) if
// no final transcript arrives within the STT-final timeout after
// speech_end. generation lets a later interrupt or fresh utterance
// invalidate a stale watcher instead of firing a spurious fallback.
func (ms *ManagedStream) awaitSTTFinal(generation int) {
	t := time.NewTimer(ms.sttFinalTimeout())
	defer t.Stop()

	select {
	case <-t.C:
	case <-ms.ctx.Done():
		return
	}

	ms.mu.Lock()
	stillWaiting := ms.sttAwaitingFinal && ms.sttGeneration == generation
	if stillWaiting {
		ms.sttAwaitingFinal = false
	}
	pipelineCancel := ms.pipelineCancel
	ms.mu.Unlock()

	if !stillWaiting {
		return
	}
	if pipelineCancel != nil {
		pipelineCancel()
	}

	ms.emit(ErrorEvent, ErrSTTFatal.Error()+": no final transcript within timeout")
	ms.speakFallback()
}

// speakFallback synthesizes and plays the language-appropriate apology
// after a fatal stt/llm failure mid-turn, then returns to Idle. A
// missing or broken TTS provider just falls straight back to Idle.
func (ms *ManagedStream) speakFallback() {
	ms.mu.Lock()
	ms.isThinking = false
	ms.mu.Unlock()

	if ms.orch == nil || ms.orch.tts == nil {
		ms.setState(StateIdle)
		return
	}

	lang := ms.session.GetCurrentLanguage()
	message := FallbackMessage(lang)

	ms.mu.Lock()
	if ms.ttsCancel != nil {
		ms.ttsCancel()
	}
	ms.isSpeaking = true
	ms.botSpeakStartTime = time.Now()
	ttsCtx, ttsCancel := context.WithTimeout(ms.ctx, ms.ttsTimeout())
	ms.ttsCancel = ttsCancel
	ms.mu.Unlock()
	defer ttsCancel()

	ms.setState(StateSpeaking)
	ms.emit(BotSpeaking, nil)

	err := ms.orch.SynthesizeStream(ttsCtx, message, ms.session.GetCurrentVoice(), lang, func(chunk []byte) error {
		ms.mu.Lock()
		ms.lastAudioSentAt = time.Now()
		ms.mu.Unlock()
		ms.echoSuppressor.RecordPlayedAudio(chunk)
		ms.emit(AudioChunk, chunk)
		return nil
	})
	if err != nil && ttsCtx.Err() == nil {
		ms.orch.logger.Warn("fallback tts failed", "sessionID", ms.session.ID, "error", err)
	}

	ms.mu.Lock()
	ms.isSpeaking = false
	ms.ttsCancel = nil
	ms.mu.Unlock()
	ms.setState(StateIdle)
}

// handleVADSaturated reacts to a detector that has failed
// vadSaturationLimit consecutive classifications (vad.saturated). Unlike the per-turn stt/llm/tts failures, this is
// session-fatal: there's no transcript or turn to recover, so the stream
// moves through Error to Closed instead of back to Idle.
func (ms *ManagedStream) handleVADSaturated() {
	ms.emit(ErrorEvent, ErrVADSaturated.Error())
	ms.setState(StateError)
	go ms.Close()
}

// NotifyDiscontinuity reports a gap in the inbound audio stream. Silence
// of the gap's length is appended in place of the lost samples so the
// rolling buffer's timing stays aligned, and the gap is surfaced to
// observers; the turn in progress continues.
func (ms *ManagedStream) NotifyDiscontinuity(gap time.Duration) {
	if gap <= 0 {
		return
	}

	sampleRate := 16000
	bytesPerSamp := 2
	if ms.orch != nil {
		cfg := ms.orch.GetConfig()
		if cfg.SampleRate > 0 {
			sampleRate = cfg.SampleRate
		}
		if cfg.BytesPerSamp > 0 {
			bytesPerSamp = cfg.BytesPerSamp
		}
	}

	n := int(gap.Seconds() * float64(sampleRate))
	silence := make([]byte, n*bytesPerSamp)

	ms.mu.Lock()
	ms.audioBuf.Append(silence)
	sttChan := ms.sttChan
	ms.mu.Unlock()

	if sttChan != nil {
		select {
		case sttChan <- silence:
		default:
		}
	}

	if ms.orch != nil {
		ms.orch.logger.Warn("transport discontinuity", "sessionID", ms.session.ID, "gap", gap)
	}
	ms.emit(ErrorEvent, ErrTransportDiscontinuity.Error())
}

func (ms *ManagedStream) NotifyAudioPlayed() {
	ms.mu.Lock()
	ms.lastAudioSentAt = time.Now()
	ms.mu.Unlock()
}

// RecordPlayedOutput should be called by the audio playback thread with the
// actual samples being sent to the speaker. This ensures the echo suppressor's
// reference buffer matches what the microphone may pick up.
func (ms *ManagedStream) RecordPlayedOutput(chunk []byte) {
	if ms.echoSuppressor == nil || len(chunk) == 0 {
		return
	}
	ms.echoSuppressor.RecordPlayedAudio(chunk)
}

// GetLatency returns the time in milliseconds from when user stopped speaking
// to when bot started playing audio (0 if not applicable)
func (ms *ManagedStream) GetLatency() int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.userSpeechEndTime.IsZero() || ms.botSpeakStartTime.IsZero() {
		return 0
	}

	if ms.botSpeakStartTime.Before(ms.userSpeechEndTime) {
		return 0
	}

	latency := ms.botSpeakStartTime.Sub(ms.userSpeechEndTime)
	return latency.Milliseconds()
}

// LatencyBreakdown holds per-stage timings (all values in milliseconds).
type LatencyBreakdown struct {
	UserToSTT          int64 // user stop -> STT final
	STT                int64 // STT duration (start→end)
	UserToLLM          int64 // user stop -> LLM end
	LLM                int64 // LLM duration (start→end)
	UserToTTSFirstByte int64 // user stop -> first TTS chunk
	LLMToTTSFirstByte  int64 // LLM end -> first TTS chunk
	TTSTotal           int64 // TTS total duration (ttsStart→ttsEnd)
	BotStartLatency    int64 // user stop -> botSpeakStart
	UserToPlay         int64 // user stop -> actual audio played (lastAudioSentAt)
}

// GetEndToEndLatency returns the time in milliseconds from when the user
// stopped speaking to when the first audio sample was actually played by the
// audio device (0 if not available).
func (ms *ManagedStream) GetEndToEndLatency() int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.userSpeechEndTime.IsZero() || ms.lastAudioSentAt.IsZero() {
		return 0
	}

	if ms.lastAudioSentAt.Before(ms.userSpeechEndTime) {
		return 0
	}

	latency := ms.lastAudioSentAt.Sub(ms.userSpeechEndTime)
	return latency.Milliseconds()
}

// GetLatencyBreakdown returns measured timings for STT, LLM and TTS stages.
func (ms *ManagedStream) GetLatencyBreakdown() LatencyBreakdown {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var bd LatencyBreakdown
	if ms.userSpeechEndTime.IsZero() {
		return bd
	}

	// STT
	if !ms.sttEndTime.IsZero() {
		bd.UserToSTT = ms.sttEndTime.Sub(ms.userSpeechEndTime).Milliseconds()
	}
	if !ms.sttStartTime.IsZero() && !ms.sttEndTime.IsZero() {
		bd.STT = ms.sttEndTime.Sub(ms.sttStartTime).Milliseconds()
	}

	// LLM
	if !ms.llmEndTime.IsZero() {
		bd.UserToLLM = ms.llmEndTime.Sub(ms.userSpeechEndTime).Milliseconds()
	}
	if !ms.llmStartTime.IsZero() && !ms.llmEndTime.IsZero() {
		bd.LLM = ms.llmEndTime.Sub(ms.llmStartTime).Milliseconds()
	}

	// TTS first byte
	if !ms.ttsFirstChunkTime.IsZero() {
		bd.UserToTTSFirstByte = ms.ttsFirstChunkTime.Sub(ms.userSpeechEndTime).Milliseconds()
	}
	if !ms.llmEndTime.IsZero() && !ms.ttsFirstChunkTime.IsZero() {
		bd.LLMToTTSFirstByte = ms.ttsFirstChunkTime.Sub(ms.llmEndTime).Milliseconds()
	}

	// TTS total
	if !ms.ttsStartTime.IsZero() && !ms.ttsEndTime.IsZero() {
		bd.TTSTotal = ms.ttsEndTime.Sub(ms.ttsStartTime).Milliseconds()
	}

	// Bot start and playback
	if !ms.botSpeakStartTime.IsZero() {
		bd.BotStartLatency = ms.botSpeakStartTime.Sub(ms.userSpeechEndTime).Milliseconds()
	}
	if !ms.lastAudioSentAt.IsZero() {
		bd.UserToPlay = ms.lastAudioSentAt.Sub(ms.userSpeechEndTime).Milliseconds()
	}

	return bd
}

// ExportLastUserAudio returns a copy of the last captured user-turn audio (raw)
// and a post-processed version (echo-suppressed) suitable for debugging.
// Both slices are raw 16-bit little-endian PCM. Caller may be nil-checked.
func (ms *ManagedStream) ExportLastUserAudio() (raw []byte, processed []byte) {
	ms.mu.Lock()
	if len(ms.lastUserAudio) == 0 {
		ms.mu.Unlock()
		return nil, nil
	}
	rawCopy := make([]byte, len(ms.lastUserAudio))
	copy(rawCopy, ms.lastUserAudio)
	ms.mu.Unlock()

	if ms.echoSuppressor != nil {
		processed = ms.echoSuppressor.PostProcess(rawCopy)
	} else {
		processed = rawCopy
	}
	return rawCopy, processed
}

func (ms *ManagedStream) Events() <-chan OrchestratorEvent {
	return ms.events
}

func (ms *ManagedStream) Close() {
	// idempotent close to avoid panic if Close is called multiple times
	ms.closeOnce.Do(func() {
		// First interrupt to stop all active operations
		ms.interrupt()

		// Clean up resources under lock
		ms.mu.Lock()
		ms.audioBuf.Reset()
		ms.mu.Unlock()

		// Clear echo buffer
		ms.echoSuppressor.ClearEchoBuffer()

		ms.mu.Lock()
		ms.state = StateClosed
		ms.mu.Unlock()
		ms.emit(SessionClosed, nil)

		// Then cancel the context to signal all goroutines to exit
		ms.cancel()

		// Give goroutines a moment to exit cleanly
		time.Sleep(10 * time.Millisecond)

		// Finally close the events channel
		close(ms.events)
	})
}

func (ms *ManagedStream) emit(eventType EventType, data interface{}) {
	// Silently drop events if context is cancelled (shutdown in progress)
	select {
	case <-ms.ctx.Done():
		return
	default:
	}

	if eventType == AudioChunk {
		ms.mu.Lock()
		speaking := ms.isSpeaking
		userInterrupting := ms.userInterrupting
		ms.mu.Unlock()
		// Don't emit audio chunks if not speaking OR if user is interrupting (barge-in)
		if !speaking || userInterrupting {
			return
		}
	}

	event := OrchestratorEvent{
		Type:      eventType,
		SessionID: ms.session.ID,
		Data:      data,
	}

	// Use non-blocking send with panic recovery in case channel is closed
	defer func() {
		if r := recover(); r != nil {
			// Channel closed, stream shutting down - safe to ignore
		}
	}()

	select {
	case ms.events <- event:
	case <-ms.ctx.Done():
		// Context cancelled, give up
	default:
		// Channel full, drop event non-blocking
	}
}

func (ms *ManagedStream) interrupt() {
	ms.internalInterrupt()
}

func (ms *ManagedStream) internalInterrupt() {
	// Acquire lock FIRST before reading any protected fields
	// (fixes race condition that caused deadlocks)
	ms.mu.Lock()

	// Check if there's anything to interrupt
	if ms.pipelineCancel == nil && ms.responseCancel == nil && ms.ttsCancel == nil && !ms.isSpeaking && !ms.isThinking && !ms.userInterrupting {
		ms.mu.Unlock()
		return
	}

	// Retrieve all cancellable contexts under lock - NEVER close channels, let context cancellation handle it
	pipelineCancel := ms.pipelineCancel
	responseCancel := ms.responseCancel
	ttsCancel := ms.ttsCancel

	ms.pipelineCancel = nil
	ms.responseCancel = nil
	ms.ttsCancel = nil
	ms.sttChan = nil
	ms.sttGeneration++ // Invalidate all concurrent STT callbacks

	// NOTE: Don't clear audio buffer here - it contains important audio that might include user speech!
	// The buffer is managed by the Write() function and cleared when we're truly done (Close or other cleanup)

	ms.isSpeaking = false
	ms.isThinking = false
	ms.userInterrupting = false
	ms.mu.Unlock()

	// Clear echo buffer when interrupting - we want to detect new user speech
	ms.echoSuppressor.ClearEchoBuffer()

	// Cancel all contexts OUTSIDE the lock to prevent deadlocks
	// Context cancellation will cause the STT/TTS goroutines to exit cleanly
	if pipelineCancel != nil {
		pipelineCancel()
	}
	if responseCancel != nil {
		responseCancel()
	}
	if ttsCancel != nil {
		ttsCancel()
	}

	// Try to forcibly abort provider-level synthesis, but don't let a slow
	// or wedged provider hold up the barge-in past the configured
	// deadline; proceed regardless once it fires.
	if ms.orch != nil && ms.orch.tts != nil {
		abortDone := make(chan error, 1)
		go func() { abortDone <- ms.orch.tts.Abort() }()
		select {
		case err := <-abortDone:
			if err != nil {
				ms.orch.logger.Warn("tts abort failed", "sessionID", ms.session.ID, "error", err)
			}
		case <-time.After(ms.bargeInDeadline()):
			ms.orch.logger.Warn("tts abort exceeded barge-in deadline", "sessionID", ms.session.ID)
		}
	}

	ms.lastInterruptedAt = time.Now()
	ms.drainAudioChunks()
	ms.accumulator.Reset()
	ms.emit(Interrupted, nil)
	ms.setState(StateIdle)
}

func (ms *ManagedStream) drainAudioChunks() {
	// Non-blocking drain: remove audio chunks, keep control events
	// Use timeout to avoid blocking if channel reader is slow
	deadline := time.Now().Add(100 * time.Millisecond)
	var controlEvents []OrchestratorEvent

	for {
		select {
		case ev := <-ms.events:
			if ev.Type != AudioChunk {
				controlEvents = append(controlEvents, ev)
			}
		default:
			// No more events to drain
			goto DrainDone
		}

		// Safety timeout to prevent infinite blocking
		if time.Now().After(deadline) {
			goto DrainDone
		}
	}

DrainDone:
	// Re-emit control events (don't hold lock, events channel might be full)
	for _, ev := range controlEvents {
		select {
		case ms.events <- ev:
		default:
			// Channel full, drop event
		}
	}
}
