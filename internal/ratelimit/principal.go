// ABOUTME: Per-principal minimum-interval limiter for ticket requests
// ABOUTME: Supports rollback so failed downstream work does not burn the slot

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMinInterval is the minimum spacing between accepted requests
	// from the same principal.
	DefaultMinInterval = 3 * time.Second
	// sweepInterval is how often the background sweep runs.
	sweepInterval = 5 * time.Minute
	// idleEviction is how long an entry may sit untouched before the sweep
	// drops it.
	idleEviction = 15 * time.Minute
)

type principalEntry struct {
	last time.Time
	prev time.Time // timestamp before the most recent acceptance, for rollback
}

// PrincipalLimiter enforces a minimum interval between accepted requests per
// principal id. A rejected request does not advance the principal's
// timestamp, so a client hammering the endpoint stays locked out only
// relative to its last accepted request.
type PrincipalLimiter struct {
	mu      sync.Mutex
	entries map[string]*principalEntry

	minInterval time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewPrincipalLimiter creates a limiter. A non-positive interval falls back
// to the default.
func NewPrincipalLimiter(minInterval time.Duration) *PrincipalLimiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &PrincipalLimiter{
		entries:     make(map[string]*principalEntry),
		minInterval: minInterval,
		now:         time.Now,
		logger:      slog.Default().With("component", "ratelimit"),
	}
}

// CheckAndRecord accepts or rejects a request for the principal. On
// acceptance it returns the recorded stamp, which the caller passes back to
// Rollback if the request later fails downstream. On rejection it returns
// the duration the caller should wait before retrying.
func (l *PrincipalLimiter) CheckAndRecord(principalID string) (stamp time.Time, retryAfter time.Duration, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[principalID]
	if exists {
		if elapsed := now.Sub(e.last); elapsed < l.minInterval {
			l.logger.Debug("request throttled",
				"principal", principalID, "retry_after", l.minInterval-elapsed)
			return time.Time{}, l.minInterval - elapsed, false
		}
		e.prev = e.last
		e.last = now
		return now, 0, true
	}

	l.entries[principalID] = &principalEntry{last: now}
	return now, 0, true
}

// Rollback undoes the acceptance identified by stamp so that a request
// rejected downstream does not count against the interval. If a later
// acceptance has already superseded the stamp, the rollback is a no-op;
// undoing it would erase the newer, legitimate acceptance.
func (l *PrincipalLimiter) Rollback(principalID string, stamp time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[principalID]
	if !ok || !e.last.Equal(stamp) {
		return
	}
	if e.prev.IsZero() {
		delete(l.entries, principalID)
		return
	}
	e.last = e.prev
	e.prev = time.Time{}
}

// Run sweeps idle entries until the context is cancelled. Meant to be
// started once as a background goroutine alongside the server.
func (l *PrincipalLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *PrincipalLimiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.entries)
	for id, e := range l.entries {
		if now.Sub(e.last) > idleEviction {
			delete(l.entries, id)
		}
	}
	if removed := before - len(l.entries); removed > 0 {
		l.logger.Debug("swept idle principals", "removed", removed, "remaining", len(l.entries))
	}
}

// Len reports how many principals are currently tracked.
func (l *PrincipalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
