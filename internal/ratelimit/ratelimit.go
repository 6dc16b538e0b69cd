// Package ratelimit implements the gateway's per-key fixed-window quota
// (spec §4.3, C3).
//
// Unlike the teacher's IP/user rate limiters (internal/middleware/ratelimit.go),
// which use golang.org/x/time/rate token buckets, this limiter is a fixed
// window: a bucket tracks a count and a resetAt instant, and self-heals the
// moment a caller observes now >= resetAt. The background sweep goroutine
// lifecycle - ticker, stop channel, WaitGroup-free shutdown via closing a
// done channel - is carried over from the teacher's cleanupRoutine pattern,
// but sweeping here is purely an optimization: CheckLimit never depends on
// the sweep having run (spec §4.3).
package ratelimit

import (
	"sync"
	"time"

	"github.com/streamspace/mcp-gateway/internal/logger"
)

// Result is the outcome of a CheckLimit call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Config configures a Limiter.
type Config struct {
	// WindowMs is the fixed window length. Defaults to 60000 (spec §6).
	WindowMs int64

	// MaxRequests is the quota per window per key. Defaults to 100 (spec §6).
	MaxRequests int

	// SweepInterval controls how often the background sweeper removes
	// expired buckets. Defaults to the window length.
	SweepInterval time.Duration
}

// Limiter is a fixed-window rate limiter keyed by an arbitrary string
// (spec.md's RateBucket). Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	buckets     map[string]*bucket

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// New creates a Limiter and starts its background sweeper.
func New(cfg Config) *Limiter {
	windowMs := cfg.WindowMs
	if windowMs <= 0 {
		windowMs = 60000
	}
	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 100
	}
	window := time.Duration(windowMs) * time.Millisecond

	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = window
	}

	l := &Limiter{
		window:        window,
		maxRequests:   maxRequests,
		buckets:       make(map[string]*bucket),
		sweepInterval: sweep,
		stop:          make(chan struct{}),
	}

	go l.sweepLoop()
	return l
}

// CheckLimit evaluates and atomically updates the bucket for key per
// spec.md §4.3's contract.
func (l *Limiter) CheckLimit(key string) Result {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists || now.After(b.resetAt) || now.Equal(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(l.window)}
		l.buckets[key] = b
		return Result{Allowed: true, Remaining: l.maxRequests - 1, ResetAt: b.resetAt}
	}

	if b.count >= l.maxRequests {
		return Result{Allowed: false, Remaining: 0, ResetAt: b.resetAt}
	}

	b.count++
	return Result{Allowed: true, Remaining: l.maxRequests - b.count, ResetAt: b.resetAt}
}

// Reset removes the bucket for key, returning whether one existed.
func (l *Limiter) Reset(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, existed := l.buckets[key]
	delete(l.buckets, key)
	return existed
}

// Count returns key's current count, or 0 if the bucket is absent or
// expired.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, exists := l.buckets[key]
	if !exists || !time.Now().Before(b.resetAt) {
		return 0
	}
	return b.count
}

// TrackedKeys returns the number of buckets currently tracked, including
// any not yet swept despite being expired.
func (l *Limiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Clear removes all buckets.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// Destroy stops the background sweeper. Safe to call more than once.
func (l *Limiter) Destroy() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// sweepLoop periodically removes expired buckets. Purely a memory
// optimization - CheckLimit's self-healing makes this unnecessary for
// correctness (spec.md §4.3).
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now()
	l.mu.Lock()
	removed := 0
	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	l.mu.Unlock()

	if removed > 0 {
		logger.RateLimit().Debug().Int("removed", removed).Msg("swept expired rate buckets")
	}
}
