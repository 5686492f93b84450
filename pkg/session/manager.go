// Package session owns the lifetime of conversations: creating a
// ManagedStream per connected agent, assigning it a unique ID, and tearing
// it down after Config.IdleTimeout of inactivity.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// AgentSnapshot is a point-in-time read-only view of one managed session,
// as returned by Manager.Snapshot. TurnCount is the number of turns in
// the session's history.
type AgentSnapshot struct {
	ID           string
	UserID       string
	State        orchestrator.SessionState
	CreatedAt    time.Time
	LastActivity time.Time
	TurnCount    int
}

type entry struct {
	stream       *orchestrator.ManagedStream
	session      *orchestrator.ConversationSession
	userID       string
	createdAt    time.Time
	lastActivity time.Time
	cancel       context.CancelFunc
}

// Manager tracks every live ManagedStream and reaps ones that have been
// idle past Config.IdleTimeout. One Manager is created per orchestrator.
type Manager struct {
	orch        *orchestrator.Orchestrator
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager returns a Manager that creates sessions against orch and
// reaps them after orch.GetConfig().IdleTimeout of inactivity.
func NewManager(orch *orchestrator.Orchestrator) *Manager {
	cfg := orch.GetConfig()
	return &Manager{
		orch:        orch,
		idleTimeout: cfg.IdleTimeout,
		sessions:    make(map[string]*entry),
	}
}

// Create starts a new managed session for userID and returns its ID along
// with the underlying ManagedStream for the caller to wire a transport to.
func (m *Manager) Create(ctx context.Context, userID string) (string, *orchestrator.ManagedStream) {
	id := uuid.NewString()
	sessCtx, cancel := context.WithCancel(ctx)

	convSession := m.orch.NewSessionWithDefaults(userID)
	convSession.ID = id
	m.orch.SetSystemPrompt(convSession, orchestrator.DefaultSystemPrompt(convSession.CurrentLanguage))
	stream := m.orch.NewManagedStream(sessCtx, convSession)

	now := time.Now()
	m.mu.Lock()
	m.sessions[id] = &entry{
		stream:       stream,
		session:      convSession,
		userID:       userID,
		createdAt:    now,
		lastActivity: now,
		cancel:       cancel,
	}
	m.mu.Unlock()

	return id, stream
}

// Config returns the orchestrator configuration sessions are built
// with, so transport bindings can match its audio parameters.
func (m *Manager) Config() orchestrator.Config {
	return m.orch.GetConfig()
}

// Touch records activity on a session, resetting its idle clock.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastActivity = time.Now()
	}
}

// Get returns the ManagedStream for id, or nil if it doesn't exist.
func (m *Manager) Get(id string) *orchestrator.ManagedStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e.stream
	}
	return nil
}

// Close tears down a session immediately.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	e.cancel()
	e.stream.Close()
	return nil
}

// Snapshot returns the current state of every tracked session.
func (m *Manager) Snapshot() []AgentSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AgentSnapshot, 0, len(m.sessions))
	for id, e := range m.sessions {
		out = append(out, AgentSnapshot{
			ID:           id,
			UserID:       e.userID,
			State:        e.stream.State(),
			CreatedAt:    e.createdAt,
			LastActivity: e.lastActivity,
			TurnCount:    len(e.session.GetHistory()),
		})
	}
	return out
}

// ReapIdle closes every session whose last activity is older than
// idleTimeout and returns the IDs it closed. Intended to be called
// periodically from a background goroutine (see RunIdleSweep).
func (m *Manager) ReapIdle() []string {
	if m.idleTimeout <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []string
	for id, e := range m.sessions {
		if e.lastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Close(id)
	}
	return stale
}

// RunIdleSweep calls ReapIdle every interval until ctx is cancelled.
func (m *Manager) RunIdleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}
