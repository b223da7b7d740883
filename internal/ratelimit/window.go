// ABOUTME: Sliding-window request counter keyed by caller address
// ABOUTME: Backs the per-IP throttles on the unauthenticated endpoints

package ratelimit

import (
	"sync"
	"time"
)

// WindowLimiter allows at most limit requests per key within a sliding
// window. Stale timestamps are pruned on access, so a key that goes quiet
// costs nothing after its window drains.
type WindowLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewWindowLimiter creates a limiter allowing limit requests per window.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a request for the key and reports whether it is within the
// limit. Rejected requests are not recorded.
func (l *WindowLimiter) Allow(key string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false
	}

	l.hits[key] = append(kept, now)
	return true
}

// Reset forgets all recorded requests for the key.
func (l *WindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}
