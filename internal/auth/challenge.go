// ABOUTME: One-time login challenge registry with lazy expiry
// ABOUTME: A challenge is removed the instant a login attempt references it

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultChallengeTTL is how long an issued challenge stays consumable.
const DefaultChallengeTTL = 60 * time.Second

type challengeEntry struct {
	nickname  string
	expiresAt time.Time
}

// ChallengeRegistry issues and consumes one-time login challenges. There is
// no background sweep: expired entries are reaped when a lookup touches them,
// and consumption removes the entry whether or not the login that referenced
// it ultimately succeeds.
type ChallengeRegistry struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewChallengeRegistry creates a registry with the given challenge lifetime.
func NewChallengeRegistry(ttl time.Duration) *ChallengeRegistry {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeRegistry{
		entries: make(map[string]challengeEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default().With("component", "challenges"),
	}
}

// Issue stores a fresh random challenge for the given nickname hint and
// returns it. The nickname is advisory only; consumption does not check it.
func (r *ChallengeRegistry) Issue(nickname string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	challenge := hex.EncodeToString(buf)

	r.mu.Lock()
	r.entries[challenge] = challengeEntry{
		nickname:  nickname,
		expiresAt: r.now().Add(r.ttl),
	}
	r.mu.Unlock()

	r.logger.Debug("challenge issued", "nickname", nickname)
	return challenge, nil
}

// Consume atomically removes the challenge and reports whether it existed
// and had not expired. Absent and expired are both failures; either way the
// entry is gone afterwards.
func (r *ChallengeRegistry) Consume(challenge string) bool {
	r.mu.Lock()
	entry, ok := r.entries[challenge]
	if ok {
		delete(r.entries, challenge)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	return !r.now().After(entry.expiresAt)
}

// Len reports the number of live entries, counting expired-but-unreaped ones.
func (r *ChallengeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
