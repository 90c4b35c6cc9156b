// Package session tracks connected clients and the match seats they hold.
// Sessions are leased: a client must keep touching its session or it is
// swept and the seat freed.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionLimit is returned when the server is at capacity.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSeatTaken is returned when another session already holds the seat.
	ErrSeatTaken = errors.New("seat already taken")
)

// Session is a snapshot of one client session.
type Session struct {
	ID          string
	UserName    string
	MatchID     string
	CombatantID string
	CreatedAt   time.Time
	LastSeen    time.Time
}

// Bound reports whether the session holds a match seat.
func (s Session) Bound() bool {
	return s.MatchID != "" && s.CombatantID != ""
}

// Manager owns all client sessions.
type Manager struct {
	logger      *zap.Logger
	leasePeriod time.Duration
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Sessions expire when not touched
// within leasePeriod; maxSessions caps concurrent sessions.
func NewManager(leasePeriod time.Duration, maxSessions int, logger *zap.Logger) *Manager {
	return &Manager{
		logger:      logger,
		leasePeriod: leasePeriod,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Create registers a new session for the given user name.
func (m *Manager) Create(userName string) (Session, error) {
	if userName == "" {
		userName = "guest"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return Session{}, ErrSessionLimit
	}

	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		UserName:  userName,
		CreatedAt: now,
		LastSeen:  now,
	}
	m.sessions[s.ID] = s

	if m.logger != nil {
		m.logger.Info("session created",
			zap.String("session_id", s.ID),
			zap.String("user_name", userName),
		)
	}

	return *s, nil
}

// Get returns a snapshot of the session, if it exists.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Touch renews the session lease. It returns false if the session is
// unknown or its lease has already lapsed.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}

	now := time.Now()
	if now.Sub(s.LastSeen) > m.leasePeriod {
		delete(m.sessions, id)
		return false
	}

	s.LastSeen = now
	return true
}

// Bind attaches the session to a combatant seat in a match. A seat can be
// held by at most one session at a time.
func (m *Manager) Bind(id, matchID, combatantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	for _, other := range m.sessions {
		if other.ID != id && other.MatchID == matchID && other.CombatantID == combatantID {
			return ErrSeatTaken
		}
	}

	s.MatchID = matchID
	s.CombatantID = combatantID
	return nil
}

// Release frees the session's seat without ending the session.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.MatchID = ""
		s.CombatantID = ""
	}
}

// BySeat returns the session holding the given seat, if any.
func (m *Manager) BySeat(matchID, combatantID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.MatchID == matchID && s.CombatantID == combatantID {
			return *s, true
		}
	}
	return Session{}, false
}

// End removes the session. It returns false if the session was unknown.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)

	if m.logger != nil {
		m.logger.Info("session ended", zap.String("session_id", id))
	}
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions whose lease has lapsed and returns how many were
// removed.
func (m *Manager) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.leasePeriod {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// CleanupExpiredSessions sweeps lapsed sessions periodically until ctx is
// done.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) {
	interval := m.leasePeriod / 2
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
			if removed := m.Sweep(); removed > 0 && m.logger != nil {
				m.logger.Info("expired sessions removed", zap.Int("count", removed))
			}
		}
	}
}

// CloseAll removes every session, typically during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	count := len(m.sessions)
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if m.logger != nil && count > 0 {
		m.logger.Info("all sessions closed", zap.Int("count", count))
	}
}
