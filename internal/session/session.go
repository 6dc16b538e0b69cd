// Package session implements the gateway's session table (spec §4.5, C5):
// the source of truth for which sessions are currently live.
//
// Deliberately in-memory, not Redis-backed - spec.md's Non-goals exclude
// "distributed session replication," so unlike the teacher's
// internal/auth.SessionStore (Redis-backed via internal/cache), this table
// never leaves the process. The shape (CreateSession/GetSession/
// ExtendSession/DestroySession, UUIDv4 session IDs, lazy + periodic
// eviction) is grounded on the teacher's SessionStore and on the
// cleanupRoutine pattern shared with internal/middleware/ratelimit.go.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace/mcp-gateway/internal/gwerrors"
	"github.com/streamspace/mcp-gateway/internal/logger"
)

// Session is a server-side record of an authenticated principal with an
// explicit expiry (spec.md §3).
type Session struct {
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Metadata  map[string]interface{}
}

func (s Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Config configures a Manager.
type Config struct {
	// DefaultExpiry is added to CreateSession's expiresAt, and is the
	// default delta for ExtendSession. Defaults to 1 hour (spec §6).
	DefaultExpiry time.Duration

	// CleanupInterval controls how often the background sweeper evicts
	// expired sessions. Defaults to DefaultExpiry.
	CleanupInterval time.Duration
}

// Manager is the gateway's session table. Safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	sessions      map[string]Session
	defaultExpiry time.Duration

	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// New creates a Manager and starts its background sweeper.
func New(cfg Config) *Manager {
	defaultExpiry := cfg.DefaultExpiry
	if defaultExpiry <= 0 {
		defaultExpiry = time.Hour
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = defaultExpiry
	}

	m := &Manager{
		sessions:        make(map[string]Session),
		defaultExpiry:   defaultExpiry,
		cleanupInterval: cleanup,
		stop:            make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// CreateSession assigns a fresh UUIDv4 sessionId and sets
// expiresAt = now + DefaultExpiry.
func (m *Manager) CreateSession(userID string, metadata map[string]interface{}) Session {
	now := time.Now()
	s := Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.defaultExpiry),
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()

	logger.Session().Debug().Str("sessionId", s.SessionID).Str("userId", userID).Msg("session created")
	return s
}

// VerifySession returns SessionNotFound if sessionID is absent. If found
// but expired, it deletes the session (lazy eviction) and returns
// SessionExpired.
func (m *Manager) VerifySession(sessionID string) (*Session, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, gwerrors.New(gwerrors.SessionNotFound, "session not found")
	}
	if s.expired(now) {
		delete(m.sessions, sessionID)
		return nil, gwerrors.New(gwerrors.SessionExpired, "session has expired")
	}
	return &s, nil
}

// GetSession is a thin accessor over VerifySession that discards the error.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	s, err := m.VerifySession(sessionID)
	if err != nil {
		return nil, false
	}
	return s, true
}

// GetUserSessions returns only live sessions belonging to userID, also
// opportunistically evicting any expired sessions it encounters.
func (m *Manager) GetUserSessions(userID string) []Session {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var live []Session
	for id, s := range m.sessions {
		if s.expired(now) {
			delete(m.sessions, id)
			continue
		}
		if s.UserID == userID {
			live = append(live, s)
		}
	}
	return live
}

// ExtendSession adds delta to expiresAt. A delta of zero or less uses
// DefaultExpiry. Returns false if sessionID is unknown or already expired.
func (m *Manager) ExtendSession(sessionID string, delta time.Duration) bool {
	if delta <= 0 {
		delta = m.defaultExpiry
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.expired(now) {
		if ok {
			delete(m.sessions, sessionID)
		}
		return false
	}
	s.ExpiresAt = s.ExpiresAt.Add(delta)
	m.sessions[sessionID] = s
	return true
}

// DestroySession removes sessionID, returning whether it existed.
func (m *Manager) DestroySession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	return existed
}

// DestroyUserSessions removes every session belonging to userID, returning
// the count removed.
func (m *Manager) DestroyUserSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// CleanupExpired removes every expired session now, returning the count
// removed. The background sweeper calls this periodically; correctness
// does not depend on that sweep since access paths evict lazily.
func (m *Manager) CleanupExpired() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveSessionCount returns the number of sessions currently tracked,
// including any not yet lazily evicted despite having expired.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Destroy stops the background sweeper and clears the session table
// (spec §5, SecureGateway.Stop). Safe to call more than once.
func (m *Manager) Destroy() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	m.sessions = make(map[string]Session)
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if removed := m.CleanupExpired(); removed > 0 {
				logger.Session().Debug().Int("removed", removed).Msg("swept expired sessions")
			}
		}
	}
}
