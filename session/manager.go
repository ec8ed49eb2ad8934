package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL bounds how long an issued play token stays valid.
const DefaultTTL = 20 * time.Minute

var (
	// ErrNotFound is returned when the token was never issued or has
	// already been consumed and deleted.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired is returned when the token outlived its TTL.
	ErrExpired = errors.New("session: expired")
)

// Session is a single-use play token.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager issues and consumes play tokens. A token transitions
// unused -> consumed exactly once; consumption deletes the entry so the map
// stays bounded by the number of live sessions.
type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// Option customises the manager instance.
type Option func(*Manager)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewManager constructs a session manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ttl:      DefaultTTL,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start issues a fresh token.
func (m *Manager) Start() (Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Session{}, fmt.Errorf("session: generate token: %w", err)
	}
	now := m.now()
	sess := Session{
		ID:        hex.EncodeToString(buf),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Consume atomically claims a token. Exactly one caller can ever succeed for
// a given id; later callers observe ErrNotFound. Expired tokens are rejected
// and removed on the way out.
func (m *Manager) Consume(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(m.sessions, id)
	if m.now().After(sess.ExpiresAt) {
		return Session{}, ErrExpired
	}
	return sess, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops expired sessions that were never consumed. Expiry is enforced
// lazily at consume time; the sweep only bounds memory.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Janitor runs Sweep on the given cadence until stop is closed.
func (m *Manager) Janitor(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
