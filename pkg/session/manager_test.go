package session

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type stubSTT struct{}

func (stubSTT) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	return "hello", nil
}
func (stubSTT) Name() string { return "stub-stt" }

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return "hi there", nil
}
func (stubLLM) Name() string { return "stub-llm" }

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return []byte("audio"), nil
}
func (stubTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return onChunk([]byte("audio"))
}
func (stubTTS) Abort() error { return nil }
func (stubTTS) Name() string { return "stub-tts" }

func newTestManager(idleTimeout time.Duration) *Manager {
	cfg := orchestrator.DefaultConfig()
	cfg.IdleTimeout = idleTimeout
	orch := orchestrator.New(stubSTT{}, stubLLM{}, stubTTS{}, cfg)
	return NewManager(orch)
}

func TestManagerCreateAssignsUniqueIDs(t *testing.T) {
	m := newTestManager(time.Minute)
	id1, s1 := m.Create(context.Background(), "user1")
	id2, s2 := m.Create(context.Background(), "user2")

	if id1 == id2 {
		t.Fatal("expected distinct session IDs")
	}
	if s1 == nil || s2 == nil {
		t.Fatal("expected non-nil managed streams")
	}
	if m.Get(id1) != s1 {
		t.Fatal("Get did not return the created stream")
	}
}

func TestManagerCloseRemovesSession(t *testing.T) {
	m := newTestManager(time.Minute)
	id, _ := m.Create(context.Background(), "user1")

	if err := m.Close(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Get(id) != nil {
		t.Fatal("expected session to be gone after Close")
	}
	if err := m.Close(id); err == nil {
		t.Fatal("expected error closing an already-closed session")
	}
}

func TestManagerReapIdleClosesStaleSessions(t *testing.T) {
	m := newTestManager(10 * time.Millisecond)
	id, _ := m.Create(context.Background(), "user1")

	time.Sleep(30 * time.Millisecond)

	closed := m.ReapIdle()
	if len(closed) != 1 || closed[0] != id {
		t.Fatalf("expected %s to be reaped, got %v", id, closed)
	}
	if m.Get(id) != nil {
		t.Fatal("expected reaped session to be removed")
	}
}

func TestManagerTouchResetsIdleClock(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	id, _ := m.Create(context.Background(), "user1")

	time.Sleep(20 * time.Millisecond)
	m.Touch(id)
	time.Sleep(20 * time.Millisecond)

	closed := m.ReapIdle()
	if len(closed) != 0 {
		t.Fatalf("expected touch to keep session alive, reaped %v", closed)
	}
}

func TestManagerSnapshotReportsTurnCount(t *testing.T) {
	m := newTestManager(time.Minute)
	id, _ := m.Create(context.Background(), "user1")

	snaps := m.Snapshot()
	if len(snaps) != 1 || snaps[0].ID != id || snaps[0].TurnCount != 0 {
		t.Fatalf("unexpected snapshot: %+v", snaps)
	}
}
