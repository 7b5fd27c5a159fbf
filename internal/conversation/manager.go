package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/agrospeak/agrospeak/internal/intent"
)

// ErrInvalidSessionID is returned for blank or oversized ids.
var ErrInvalidSessionID = errors.New("conversation: invalid session id")

const maxSessionIDLen = 128

// SpeakerFactory builds the speech queue for a new session.
type SpeakerFactory func() Speaker

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	DefaultLanguage string

	// IdleTTL evicts sessions unused for this long. Zero disables eviction.
	IdleTTL time.Duration

	// NewSpeaker may be nil to disable speech.
	NewSpeaker SpeakerFactory
}

// Manager owns the live sessions, keyed by client-provided id.
type Manager struct {
	cfg  ManagerConfig
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns an empty Manager.
func NewManager(cfg ManagerConfig, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg,
		deps:     deps.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it on first use.
func (m *Manager) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxSessionIDLen {
		return nil, ErrInvalidSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSessionClosed
	}
	if s, ok := m.sessions[id]; ok {
		if s.touch() {
			return s, nil
		}
		m.deps.Logger.Debug("replacing closed session", "session_id", id)
	}

	var speaker Speaker
	if m.cfg.NewSpeaker != nil {
		speaker = m.cfg.NewSpeaker()
	}
	s := NewSession(id, m.cfg.DefaultLanguage, speaker, m.deps)
	m.sessions[id] = s
	m.deps.Metrics.SetActiveSessions(len(m.sessions))
	m.deps.Logger.Info("session created", "session_id", id, "language", s.Language())
	return s, nil
}

// Lookup returns the session for id without creating it.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// RouteFor reports where a turn with intent i would be answered.
func (m *Manager) RouteFor(i intent.Intent) Route {
	if h, ok := m.deps.Handlers[i]; ok && h != nil {
		return RouteLocal
	}
	return RouteRemote
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict closes idle sessions that have not been used since before
// now-IdleTTL and returns how many were removed.
func (m *Manager) Evict(now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.retireIfIdle(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.deps.Metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	for _, s := range stale {
		_ = s.stopSpeaker()
		m.deps.Logger.Info("session evicted", "session_id", s.ID())
	}
	return len(stale)
}

// Run evicts idle sessions periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(m.deps.Now())
		}
	}
}

// Close closes every session. Later Get calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.deps.Metrics.SetActiveSessions(0)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
