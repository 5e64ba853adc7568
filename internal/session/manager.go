package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager enforces the single-active-session invariant: the microphone and
// the audio output path belong to exactly one session, and a new session
// only starts after the previous one is fully torn down.
type Manager struct {
	mu     sync.Mutex
	active *Session
	logger zerolog.Logger
}

// NewManager creates a session manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Start tears down any active session, then installs and starts the given
// one. Teardown is synchronous: device handles from the previous session
// are released before the new session begins.
func (m *Manager) Start(ctx context.Context, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.logger.Info().Str("session_id", m.active.ID).Msg("Tearing down previous session")
		m.active.Close()
	}
	m.active = s
	s.Start(ctx)
}

// Active returns the current session, or nil
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Release closes the given session if it is still the active one
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == s && s != nil {
		s.Close()
		m.active = nil
	}
}

// Shutdown closes whatever session is active
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}
