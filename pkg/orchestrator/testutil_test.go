package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Shared stub adapters and the event-recording harness for the
// end-to-end turn-taking scenarios in turn_loop_test.go. These
// generalize the inline Mock* types of the older test files into a
// reusable set the scenario suite can script precisely.

// stubScriptedSTT is a StreamingSTTProvider that records every audio
// chunk pushed to it and emits one final transcript a fixed delay
// after each stream opens. finalText == "" means no final ever fires.
type stubScriptedSTT struct {
	finalText  string
	finalDelay time.Duration

	mu       sync.Mutex
	received [][]byte
	opens    int
}

func (s *stubScriptedSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	return s.finalText, nil
}

func (s *stubScriptedSTT) Name() string { return "scripted-stt" }

func (s *stubScriptedSTT) StreamTranscribe(ctx context.Context, lang Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error) {
	ch := make(chan []byte, 64)

	s.mu.Lock()
	s.opens++
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-ch:
				if !ok {
					return
				}
				cp := make([]byte, len(b))
				copy(cp, b)
				s.mu.Lock()
				s.received = append(s.received, cp)
				s.mu.Unlock()
			}
		}
	}()

	if s.finalText != "" {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.finalDelay):
			}
			_ = onTranscript(s.finalText, true)
		}()
	}

	return ch, nil
}

func (s *stubScriptedSTT) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *stubScriptedSTT) receivedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// stubEchoTTS synthesizes one audio byte per character of input text,
// so tests can equate emitted audio length with spoken text length.
// pauseAfter > 0 stalls the stream for pauseFor once that many bytes
// have gone out, opening a window for barge-in mid-synthesis.
type stubEchoTTS struct {
	pauseAfter int
	pauseFor   time.Duration

	mu      sync.Mutex
	emitted int
}

func (s *stubEchoTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return []byte(text), nil
}

func (s *stubEchoTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	for i := 0; i < len(text); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := onChunk([]byte{text[i]}); err != nil {
			return err
		}

		s.mu.Lock()
		s.emitted++
		n := s.emitted
		s.mu.Unlock()

		if s.pauseAfter > 0 && n == s.pauseAfter {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pauseFor):
			}
		}
	}
	return nil
}

func (s *stubEchoTTS) Abort() error { return nil }

func (s *stubEchoTTS) Name() string { return "echo-tts" }

func (s *stubEchoTTS) emittedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// recordingStreamingLLM replays a scripted sequence of stream events per
// round (one round per StreamComplete call) and records the messages it
// was called with, so tests can assert on prompt construction and
// tool-result re-entry.
type recordingStreamingLLM struct {
	rounds     [][]LLMStreamEvent
	deltaDelay time.Duration

	mu    sync.Mutex
	calls [][]Message
}

func (m *recordingStreamingLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	return "", nil
}

func (m *recordingStreamingLLM) Name() string { return "recording-llm" }

func (m *recordingStreamingLLM) StreamComplete(ctx context.Context, messages []Message, onEvent func(LLMStreamEvent) error) error {
	cp := make([]Message, len(messages))
	copy(cp, messages)

	m.mu.Lock()
	m.calls = append(m.calls, cp)
	idx := len(m.calls) - 1
	m.mu.Unlock()

	if len(m.rounds) == 0 {
		return onEvent(LLMStreamEvent{Kind: LLMFinish})
	}
	if idx >= len(m.rounds) {
		idx = len(m.rounds) - 1
	}

	for _, ev := range m.rounds[idx] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.deltaDelay > 0 && ev.Kind == LLMDelta {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.deltaDelay):
			}
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *recordingStreamingLLM) recordedCalls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// knownEventTypes is the closed set of events the scheduler is allowed
// to publish. The recorder treats anything else as a defect: fatal in
// test, where in production the same condition is only logged.
var knownEventTypes = map[EventType]bool{
	UserSpeaking:      true,
	UserStopped:       true,
	TranscriptPartial: true,
	TranscriptFinal:   true,
	BotThinking:       true,
	BotSpeaking:       true,
	BotResponse:       true,
	Interrupted:       true,
	ToolCalled:        true,
	AudioChunk:        true,
	ErrorEvent:        true,
	StateChanged:      true,
	SessionClosed:     true,
}

// eventRecord drains a stream's event channel in the background and
// tallies what the scenario assertions need.
type eventRecord struct {
	mu         sync.Mutex
	audioBytes int
	states     []string
	types      []EventType
	unknown    []EventType
}

func recordEvents(stream *ManagedStream) *eventRecord {
	rec := &eventRecord{}
	go func() {
		for ev := range stream.Events() {
			rec.mu.Lock()
			rec.types = append(rec.types, ev.Type)
			if !knownEventTypes[ev.Type] {
				rec.unknown = append(rec.unknown, ev.Type)
			}
			switch ev.Type {
			case AudioChunk:
				if b, ok := ev.Data.([]byte); ok {
					rec.audioBytes += len(b)
				}
			case StateChanged:
				if s, ok := ev.Data.(string); ok {
					rec.states = append(rec.states, s)
				}
			}
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (r *eventRecord) totalAudioBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioBytes
}

func (r *eventRecord) recordedStates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.states))
	copy(out, r.states)
	return out
}

func (r *eventRecord) sawType(t EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, et := range r.types {
		if et == t {
			return true
		}
	}
	return false
}

func (r *eventRecord) assertNoUnknownEvents(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.unknown) > 0 {
		t.Errorf("scheduler published event types outside the closed set: %v", r.unknown)
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
