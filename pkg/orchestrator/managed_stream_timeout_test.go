package orchestrator

import (
	"context"
	"testing"
	"time"
)

// TestManagedStream_STTFinalTimeoutSpeaksFallback:
// a streaming STT session that never produces a final transcript aborts
// the turn and speaks the fallback apology instead of hanging forever.
func TestManagedStream_STTFinalTimeoutSpeaksFallback(t *testing.T) {
	stt := &MockStreamingSTT{} // no steps configured: never calls onTranscript
	llm := &MockLLMProvider{completeResult: "unused"}
	tts := &MockTTSProvider{synthesizeResult: []byte{0xAA, 0xBB}}

	cfg := DefaultConfig()
	cfg.STTFinalTimeout = 20 * time.Millisecond
	vad := NewRMSVAD(0.02, 50*time.Millisecond)
	orch := NewWithVAD(stt, llm, tts, vad, cfg)
	session := NewConversationSession("timeout-1")

	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	stream.startStreamingSTT(stt)

	// Mirror what Write's VADSpeechEnd branch does when streaming STT is
	// in flight: stop feeding audio and start the bounded wait for a
	// final transcript that in this test will never arrive.
	stream.mu.Lock()
	gen := stream.sttGeneration
	stream.sttChan = nil
	stream.sttAwaitingFinal = true
	stream.mu.Unlock()
	go stream.awaitSTTFinal(gen)

	var gotError, gotSpeaking, gotAudio bool
	deadline := time.After(500 * time.Millisecond)
	for !(gotError && gotSpeaking && gotAudio) {
		select {
		case ev := <-stream.Events():
			switch ev.Type {
			case ErrorEvent:
				gotError = true
			case BotSpeaking:
				gotSpeaking = true
			case AudioChunk:
				gotAudio = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for fallback sequence: error=%v speaking=%v audio=%v", gotError, gotSpeaking, gotAudio)
		}
	}

	if stream.State() != StateIdle {
		t.Fatalf("expected stream back in Idle after fallback, got %v", stream.State())
	}
}

// TestManagedStream_STTFinalArrivesBeforeTimeout confirms a final
// transcript that lands within the timeout cancels the watcher instead of
// firing a spurious fallback.
func TestManagedStream_STTFinalArrivesBeforeTimeout(t *testing.T) {
	stt := &MockStreamingSTT{steps: []struct {
		text    string
		isFinal bool
		delay   time.Duration
	}{
		{text: "hello there", isFinal: true, delay: 5 * time.Millisecond},
	}}
	llm := &MockLLMProvider{completeResult: "hi"}
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}

	cfg := DefaultConfig()
	cfg.STTFinalTimeout = 200 * time.Millisecond
	vad := NewRMSVAD(0.02, 50*time.Millisecond)
	orch := NewWithVAD(stt, llm, tts, vad, cfg)
	session := NewConversationSession("timeout-2")

	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	stream.startStreamingSTT(stt)

	stream.mu.Lock()
	gen := stream.sttGeneration
	stream.sttChan = nil
	stream.sttAwaitingFinal = true
	stream.mu.Unlock()
	go stream.awaitSTTFinal(gen)

	var gotFinal bool
	deadline := time.After(500 * time.Millisecond)
	for !gotFinal {
		select {
		case ev := <-stream.Events():
			if ev.Type == TranscriptFinal {
				gotFinal = true
			}
			if ev.Type == ErrorEvent {
				t.Fatalf("unexpected fallback error event when final arrived in time: %v", ev.Data)
			}
		case <-deadline:
			t.Fatal("timed out waiting for TranscriptFinal")
		}
	}

	// Give the (expired but now-stale) watcher a chance to fire; it must
	// observe sttAwaitingFinal already cleared and do nothing.
	time.Sleep(cfg.STTFinalTimeout + 50*time.Millisecond)

	stream.mu.Lock()
	awaiting := stream.sttAwaitingFinal
	stream.mu.Unlock()
	if awaiting {
		t.Fatal("expected sttAwaitingFinal cleared once the final transcript arrived")
	}
}

// TestManagedStream_EmptyFinalTranscriptDiscarded confirms an empty or
// whitespace-only final transcript is discarded without reaching the LLM
// or polluting conversation history.
func TestManagedStream_EmptyFinalTranscriptDiscarded(t *testing.T) {
	stt := &MockStreamingSTT{steps: []struct {
		text    string
		isFinal bool
		delay   time.Duration
	}{
		{text: "   ", isFinal: true, delay: 5 * time.Millisecond},
	}}
	llm := &MockLLMProvider{completeResult: "should not be called"}
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}

	orch := NewWithVAD(stt, llm, tts, NewRMSVAD(0.02, 50*time.Millisecond), DefaultConfig())
	session := NewConversationSession("empty-final")

	stream := orch.NewManagedStream(context.Background(), session)
	defer stream.Close()

	stream.startStreamingSTT(stt)

	deadline := time.After(300 * time.Millisecond)
	var sawStateChangeToIdle bool
	for !sawStateChangeToIdle {
		select {
		case ev := <-stream.Events():
			if ev.Type == TranscriptFinal {
				t.Fatal("empty transcript must not emit TranscriptFinal")
			}
			if ev.Type == StateChanged && ev.Data == string(StateIdle) {
				sawStateChangeToIdle = true
			}
		case <-deadline:
			// No further state changes is also acceptable: the stream
			// started Idle and an empty final is a no-op transition.
			sawStateChangeToIdle = true
		}
	}

	if ctx := session.GetContextCopy(); len(ctx) != 0 {
		t.Fatalf("expected no context entries for an empty final transcript, got %d", len(ctx))
	}
}
