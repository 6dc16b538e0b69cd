// Package audit implements the gateway's bounded, structured security log
// (spec §4.2, C2): an in-memory ring of AuditEntry values with best-effort
// fan-out to an optional external Sink.
//
// The ring is deliberately not durable (spec.md Non-goals: "persistence of
// audit entries"); durability, if wanted, is the Sink's job. Log never lets
// a failing sink affect the caller — grounded on the fire-and-forget
// dispatch in the pack's MCP auth middleware (AuditLogger.Log spawning
// `go func(s AuditSink) { s.Log(event) }` per sink), adapted here to a
// single optional sink rather than a slice, since spec.md §6 models
// `auditConfig.sink` as a single async callback.
package audit

import (
	"sync"
	"time"

	"github.com/streamspace/mcp-gateway/internal/logger"
)

// Result is the outcome recorded on an AuditEntry.
type Result string

const (
	Success Result = "success"
	Failure Result = "failure"
	Error   Result = "error"
)

// Fixed action values the core emits (spec.md §6).
const (
	ActionTokenIssued          = "token_issued"
	ActionTokenVerified        = "token_verified"
	ActionTokenInvalid         = "token_invalid"
	ActionTokenExpired         = "token_expired"
	ActionSessionCreated       = "session_created"
	ActionSessionVerified      = "session_verified"
	ActionSessionExpired       = "session_expired"
	ActionSessionDestroyed     = "session_destroyed"
	ActionRateLimitExceeded    = "rate_limit_exceeded"
	ActionAuthorizationSucceed = "authorization_succeeded"
	ActionAuthorizationFailed  = "authorization_failed"
	ActionToolCall             = "tool_call"
)

// Entry is one record in the audit ring (spec.md §3, AuditEntry).
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Result    Result                 `json:"result"`
	UserID    string                 `json:"userId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink receives a copy of every logged entry. Implementations must not
// block the caller of Log for long, and any error they return is swallowed
// - Logger only surfaces it to the diagnostic stream (internal log), never
// to whoever called Log.
type Sink interface {
	Send(entry Entry) error
}

// Config configures a Logger.
type Config struct {
	// MaxEntries bounds the ring. Defaults to 10000 if zero (spec.md §6).
	MaxEntries int

	// Sink, if non-nil, receives every entry asynchronously.
	Sink Sink
}

// Logger is the bounded ring plus sink fan-out described in spec.md §4.2.
// Safe for concurrent use.
type Logger struct {
	mu         sync.Mutex
	maxEntries int
	entries    []Entry

	sink Sink
}

// New creates a Logger. A MaxEntries of zero defaults to 10000.
func New(cfg Config) *Logger {
	max := cfg.MaxEntries
	if max <= 0 {
		max = 10000
	}
	return &Logger{
		maxEntries: max,
		entries:    make([]Entry, 0, max),
		sink:       cfg.Sink,
	}
}

// Log appends an entry stamped with the current instant, dropping the
// oldest entry if the ring is at capacity, then fans out to the sink
// outside the lock (spec.md §5: "the sink is invoked OUTSIDE the lock to
// avoid deadlocks and to let a slow sink not stall loggers").
func (l *Logger) Log(action string, result Result, opts ...EntryOption) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Result:    result,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	l.mu.Lock()
	if len(l.entries) >= l.maxEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Audit().Warn().Interface("panic", r).Msg("audit sink panicked")
				}
			}()
			if err := sink.Send(entry); err != nil {
				logger.Audit().Warn().Err(err).Str("action", entry.Action).Msg("audit sink failed")
			}
		}()
	}
}

// EntryOption customizes a logged Entry's optional fields.
type EntryOption func(*Entry)

func WithUser(userID string) EntryOption {
	return func(e *Entry) { e.UserID = userID }
}

func WithSession(sessionID string) EntryOption {
	return func(e *Entry) { e.SessionID = sessionID }
}

func WithResource(resource string) EntryOption {
	return func(e *Entry) { e.Resource = resource }
}

func WithMetadata(metadata map[string]interface{}) EntryOption {
	return func(e *Entry) { e.Metadata = metadata }
}

// AuthSuccess logs a successful token verification.
func (l *Logger) AuthSuccess(userID, sessionID string) {
	l.Log(ActionTokenVerified, Success, WithUser(userID), WithSession(sessionID))
}

// AuthFailure logs a token verification failure with its sub-reason.
func (l *Logger) AuthFailure(reason string) {
	l.Log(ActionTokenInvalid, Failure, WithMetadata(map[string]interface{}{"reason": reason}))
}

// AuthorizationCheck logs the outcome of an authorization decision for a
// resource.
func (l *Logger) AuthorizationCheck(resource string, allowed bool, opts ...EntryOption) {
	action := ActionAuthorizationSucceed
	result := Success
	if !allowed {
		action = ActionAuthorizationFailed
		result = Failure
	}
	l.Log(action, result, append(opts, WithResource(resource))...)
}

// RateLimitExceeded logs a rate-limit denial for key.
func (l *Logger) RateLimitExceeded(key string) {
	l.Log(ActionRateLimitExceeded, Failure, WithMetadata(map[string]interface{}{"key": key}))
}

// Recent returns the last n entries in insertion order (oldest of the
// selected window first). Returns fewer than n if the ring holds fewer.
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lastN(l.entries, n)
}

// ByUser returns the last n entries whose UserID matches, in insertion
// order.
func (l *Logger) ByUser(userID string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.UserID == userID {
			filtered = append(filtered, e)
		}
	}
	return lastN(filtered, n)
}

// ByAction returns the last n entries with the given action, in insertion
// order.
func (l *Logger) ByAction(action string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Action == action {
			filtered = append(filtered, e)
		}
	}
	return lastN(filtered, n)
}

// Failed returns the last n entries whose result is Failure or Error.
func (l *Logger) Failed(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Result == Failure || e.Result == Error {
			filtered = append(filtered, e)
		}
	}
	return lastN(filtered, n)
}

// EntryCount returns the number of entries currently in the ring.
func (l *Logger) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the ring.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Export returns a defensive copy of every entry currently in the ring, in
// insertion order.
func (l *Logger) Export() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// lastN returns the final n elements of entries, or all of them if n
// exceeds the length. Callers must hold l.mu.
func lastN(entries []Entry, n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	if n >= len(entries) {
		out := make([]Entry, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]Entry, n)
	copy(out, entries[len(entries)-n:])
	return out
}
