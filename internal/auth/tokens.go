// Package auth issues and verifies join tokens that let clients claim a
// combatant seat in a match.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// grant holds the bcrypt hash of an issued token for one match seat.
type grant struct {
	hash    []byte
	expires time.Time
}

// TokenStore keeps one active join token per (match, combatant) seat.
// Tokens are stored hashed; the plaintext exists only in the Issue result.
type TokenStore struct {
	mu     sync.RWMutex
	grants map[string]grant
	ttl    time.Duration
}

// NewTokenStore creates a token store whose tokens expire after ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{
		grants: make(map[string]grant),
		ttl:    ttl,
	}
}

func seatKey(matchID, combatantID string) string {
	return matchID + "/" + combatantID
}

// Issue creates a token for the given seat, replacing any previous one.
// The returned string is the only copy of the plaintext token.
func (s *TokenStore) Issue(matchID, combatantID string) (string, error) {
	if matchID == "" || combatantID == "" {
		return "", fmt.Errorf("match id and combatant id are required")
	}

	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}

	s.mu.Lock()
	s.grants[seatKey(matchID, combatantID)] = grant{
		hash:    hash,
		expires: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return token, nil
}

// Verify reports whether token is the current, unexpired token for the seat.
func (s *TokenStore) Verify(matchID, combatantID, token string) bool {
	s.mu.RLock()
	g, ok := s.grants[seatKey(matchID, combatantID)]
	s.mu.RUnlock()

	if !ok || time.Now().After(g.expires) {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, []byte(token)) == nil
}

// Revoke removes the token for one seat.
func (s *TokenStore) Revoke(matchID, combatantID string) {
	s.mu.Lock()
	delete(s.grants, seatKey(matchID, combatantID))
	s.mu.Unlock()
}

// RevokeMatch removes all tokens issued for a match.
func (s *TokenStore) RevokeMatch(matchID string) {
	prefix := matchID + "/"
	s.mu.Lock()
	for key := range s.grants {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.grants, key)
		}
	}
	s.mu.Unlock()
}

// Sweep removes expired grants and returns how many were dropped.
func (s *TokenStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, g := range s.grants {
		if now.After(g.expires) {
			delete(s.grants, key)
			removed++
		}
	}
	return removed
}

// SweepLoop sweeps expired grants periodically until ctx is done.
func (s *TokenStore) SweepLoop(ctx context.Context) {
	interval := s.ttl / 2
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
			s.Sweep()
		}
	}
}

// Count returns the number of stored grants, expired ones included.
func (s *TokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}

// CheckAdminPassword compares a presented admin password against the
// configured one in constant time. An empty configured password disables
// admin access entirely.
func CheckAdminPassword(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
