package orchestrator

import "errors"


var (

	ErrEmptyTranscription = errors.New("transcription returned empty text")


	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")


	ErrLLMFailed = errors.New("language model generation failed")


	ErrTTSFailed = errors.New("text-to-speech synthesis failed")


	ErrNilProvider = errors.New("required provider is nil")


	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrTransportClosed is returned when the underlying transport
	// (WebSocket, local device, WebRTC) goes away mid-session.
	ErrTransportClosed = errors.New("transport.closed")

	// ErrTransportDiscontinuity marks a gap in the inbound audio; the
	// stream inserts silence and carries on.
	ErrTransportDiscontinuity = errors.New("transport.discontinuity")

	// ErrSTTTransient marks an STT failure worth retrying once within
	// the same turn (network blip, 5xx).
	ErrSTTTransient = errors.New("stt.transient")

	// ErrSTTFatal marks an STT failure the turn cannot recover from.
	ErrSTTFatal = errors.New("stt.fatal")

	// ErrRetrievalFailed marks a retrieval call that errored outright.
	ErrRetrievalFailed = errors.New("retrieval.failed")

	// ErrRetrievalTimeout marks a retrieval call that exceeded its
	// configured timeout; the turn proceeds without retrieved context.
	ErrRetrievalTimeout = errors.New("retrieval.timeout")

	// ErrLLMTransient marks an LLM failure worth one retry.
	ErrLLMTransient = errors.New("llm.transient")

	// ErrLLMFatal marks an LLM failure the turn cannot recover from.
	ErrLLMFatal = errors.New("llm.fatal")

	// ErrTTSFatal marks a TTS failure that ends the turn without audio.
	ErrTTSFatal = errors.New("tts.fatal")

	// ErrVADSaturated marks a VAD detector whose consecutive
	// classification errors reached the saturation limit; it ends the
	// session.
	ErrVADSaturated = errors.New("vad.saturated")
)
