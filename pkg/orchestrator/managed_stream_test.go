package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// awaitEventType drains the stream's event channel until want arrives,
// failing the test when the deadline passes first.
func awaitEventType(t *testing.T, stream *ManagedStream, want EventType, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-stream.Events():
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func newVADStream(t *testing.T, stt STTProvider, llm LLMProvider, tts TTSProvider, cfg Config) (*ManagedStream, *ConversationSession) {
	t.Helper()
	vad := NewRMSVAD(0.1, 50*time.Millisecond)
	orch := NewWithVAD(stt, llm, tts, vad, cfg)
	session := NewConversationSession(t.Name())
	stream := orch.NewManagedStream(context.Background(), session)
	t.Cleanup(stream.Close)
	return stream, session
}

func TestManagedStream_LoudAudioTriggersUserSpeaking(t *testing.T) {
	stream, _ := newVADStream(t,
		&MockSTTProvider{transcribeResult: "hello"},
		&MockLLMProvider{completeResult: "world"},
		&MockTTSProvider{synthesizeResult: []byte{1, 2, 3}},
		DefaultConfig())

	loud := loudTurnChunk()
	for i := 0; i < 10; i++ {
		stream.Write(loud)
	}

	awaitEventType(t, stream, UserSpeaking, 500*time.Millisecond)
}

func TestManagedStream_EchoGuardSuppressesRecentPlayback(t *testing.T) {
	stream, _ := newVADStream(t,
		&MockSTTProvider{transcribeResult: "hello"},
		&MockLLMProvider{completeResult: "world"},
		&MockTTSProvider{synthesizeResult: []byte{1, 2, 3}},
		DefaultConfig())

	// Mid-loudness input right after playback: the raised echo-guard
	// threshold must keep it from reading as user speech.
	stream.mu.Lock()
	stream.lastAudioSentAt = time.Now()
	stream.mu.Unlock()

	mid := make([]byte, 100)
	for i := 0; i < len(mid); i += 2 {
		val := int16(32768.0 * 0.25)
		mid[i] = byte(val & 0xFF)
		mid[i+1] = byte(val >> 8)
	}
	for i := 0; i < 10; i++ {
		stream.Write(mid)
	}

	select {
	case ev := <-stream.Events():
		if ev.Type == UserSpeaking {
			t.Fatal("echo-guard window treated playback leftover as user speech")
		}
	case <-time.After(100 * time.Millisecond):
	}

	// The same input well past the window is genuine speech again.
	stream.mu.Lock()
	stream.lastAudioSentAt = time.Now().Add(-5 * time.Second)
	stream.mu.Unlock()

	for i := 0; i < 10; i++ {
		stream.Write(mid)
	}
	awaitEventType(t, stream, UserSpeaking, 200*time.Millisecond)
}

// MockStreamingSTT replays scripted partial/final transcripts on a
// timeline, for driving the interrupt policies without audio.
type MockStreamingSTT struct {
	steps []struct {
		text    string
		isFinal bool
		delay   time.Duration
	}
}

func (m *MockStreamingSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	return "", nil
}
func (m *MockStreamingSTT) Name() string { return "MockStreamingSTT" }
func (m *MockStreamingSTT) StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error) {
	ch := make(chan []byte, 8)
	go func() {
		for _, s := range m.steps {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}
			_ = onTranscript(s.text, s.isFinal)
		}
	}()
	return ch, nil
}

func TestManagedStream_MinWordsGateOnBackchannels(t *testing.T) {
	stt := &MockStreamingSTT{steps: []struct {
		text    string
		isFinal bool
		delay   time.Duration
	}{
		{text: "uh", isFinal: false, delay: 10 * time.Millisecond},
		{text: "i want coffee", isFinal: true, delay: 20 * time.Millisecond},
	}}

	cfg := DefaultConfig()
	cfg.MinWordsToInterrupt = 3
	stream, _ := newVADStream(t, stt,
		&MockLLMProvider{completeResult: "ok"},
		&MockTTSProvider{synthesizeResult: []byte{1}},
		cfg)

	stream.mu.Lock()
	stream.isSpeaking = true
	stream.mu.Unlock()

	stream.startStreamingSTT(stt)

	// The one-word backchannel must not cut the agent off.
	select {
	case ev := <-stream.Events():
		if ev.Type == Interrupted {
			t.Fatal("backchannel below the word threshold interrupted the agent")
		}
	case <-time.After(30 * time.Millisecond):
	}

	// The three-word utterance clears the threshold and interrupts.
	awaitEventType(t, stream, Interrupted, 200*time.Millisecond)
}

// MockLongRunningTTS streams chunks forever until aborted, modeling a
// synthesis that outlives the user's patience.
type MockLongRunningTTS struct {
	abortCalled bool
	abortCh     chan struct{}
}

func (m *MockLongRunningTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return nil, nil
}
func (m *MockLongRunningTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.abortCh:
			return fmt.Errorf("aborted")
		case <-ticker.C:
			if err := onChunk([]byte{0x01, 0x02}); err != nil {
				return err
			}
		}
	}
}
func (m *MockLongRunningTTS) Abort() error {
	m.abortCalled = true
	select {
	case <-m.abortCh:
	default:
		close(m.abortCh)
	}
	return nil
}
func (m *MockLongRunningTTS) Name() string { return "MockLongTTS" }

func TestManagedStream_InterruptAbortsProviderTTS(t *testing.T) {
	tts := &MockLongRunningTTS{abortCh: make(chan struct{})}
	stream, _ := newVADStream(t,
		&MockSTTProvider{transcribeResult: "user"},
		&MockLLMProvider{completeResult: "assistant reply here"},
		tts,
		DefaultConfig())

	go stream.runLLMAndTTS(context.Background(), "hello")

	// BotSpeaking confirms synthesis is in flight before interrupting.
	awaitEventType(t, stream, BotSpeaking, 500*time.Millisecond)

	stream.interrupt()

	awaitEventType(t, stream, Interrupted, 500*time.Millisecond)
	if !tts.abortCalled {
		t.Fatal("interrupt must reach the provider's Abort")
	}
}

func TestManagedStream_SpeechStartCancelsPendingResponse(t *testing.T) {
	stream, _ := newVADStream(t,
		&MockSTTProvider{},
		&MockLLMProvider{completeResult: "ok"},
		&MockTTSProvider{synthesizeResult: []byte("audio")},
		DefaultConfig())

	cancelled := false
	stream.mu.Lock()
	stream.responseCancel = func() { cancelled = true }
	stream.mu.Unlock()

	loud := loudTurnChunk()
	for i := 0; i < 8; i++ {
		stream.Write(loud)
	}

	awaitEventType(t, stream, Interrupted, 500*time.Millisecond)
	if !cancelled {
		t.Fatal("speech start must cancel the in-flight response")
	}
}

func TestManagedStream_NoSelfInterruptRightAfterPlayback(t *testing.T) {
	stream, _ := newVADStream(t,
		&MockSTTProvider{},
		&MockLLMProvider{completeResult: "ok"},
		&MockTTSProvider{synthesizeResult: []byte("audio")},
		DefaultConfig())

	// Speaking, with audio sent a moment ago: loud mic input inside
	// the echo window is our own voice, not a barge-in.
	stream.mu.Lock()
	stream.isSpeaking = true
	stream.lastAudioSentAt = time.Now()
	stream.mu.Unlock()

	mid := make([]byte, 100)
	for i := 0; i < len(mid); i += 2 {
		val := int16(32768.0 * 0.5)
		mid[i] = byte(val & 0xFF)
		mid[i+1] = byte(val >> 8)
	}
	for i := 0; i < 8; i++ {
		stream.Write(mid)
	}

	select {
	case ev := <-stream.Events():
		if ev.Type == Interrupted {
			t.Fatal("agent interrupted itself on its own playback echo")
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestManagedStream_PartialTranscriptInterruptsWhileSpeaking(t *testing.T) {
	stt := &MockStreamingSTT{steps: []struct {
		text    string
		isFinal bool
		delay   time.Duration
	}{
		{text: "hola", isFinal: false, delay: 10 * time.Millisecond},
	}}

	cfg := DefaultConfig()
	cfg.MinWordsToInterrupt = 1
	stream, _ := newVADStream(t, stt,
		&MockLLMProvider{completeResult: "ok"},
		&MockTTSProvider{synthesizeResult: []byte("audio")},
		cfg)

	stream.mu.Lock()
	stream.isSpeaking = true
	stream.mu.Unlock()

	// With the gate at one word, even a partial transcript barges in.
	stream.startStreamingSTT(stt)

	awaitEventType(t, stream, Interrupted, 200*time.Millisecond)
}
