// ABOUTME: In-memory broker for short-lived, twice-redeemable config tickets
// ABOUTME: Tickets expire after seconds and self-destruct on exhaustion

package ticket

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the ticket id is unknown, already exhausted, or was
	// never issued. Callers cannot distinguish those cases.
	ErrNotFound = errors.New("ticket not found")
	// ErrExpired means the ticket outlived its absolute deadline.
	ErrExpired = errors.New("ticket expired")
	// ErrWindowClosed means a second redemption arrived after the reuse
	// window following the first redemption had closed.
	ErrWindowClosed = errors.New("ticket reuse window closed")
)

const (
	// DefaultTTL is how long a ticket stays redeemable after issue.
	DefaultTTL = 10 * time.Second
	// DefaultReuseWindow is how long after the first redemption a second
	// redemption is still honored.
	DefaultReuseWindow = 2 * time.Second
	// initialUses is how many times a fresh ticket may be redeemed.
	initialUses = 2
)

// usage records a single redemption for post-mortem logging.
type usage struct {
	at     time.Time
	source string
}

type ticket struct {
	payload       string
	ownerID       string
	ownerNickname string
	issuedAt      time.Time
	expiresAt     time.Time
	firstUseAt    time.Time // zero until the first redemption
	usesRemaining int
	history       []usage
}

// usageSummary describes every past redemption of the ticket, for the audit
// log emitted when a stale ticket is rejected.
func (t *ticket) usageSummary() string {
	if len(t.history) == 0 {
		return "never used"
	}
	parts := make([]string, len(t.history))
	for i, u := range t.history {
		parts[i] = fmt.Sprintf("%s at %s", u.source, u.at.UTC().Format(time.RFC3339Nano))
	}
	return strings.Join(parts, "; ")
}

// Broker issues and redeems ephemeral config tickets. A ticket carries an
// opaque payload, lives for a few seconds, and may be redeemed twice so a
// client can fetch once itself and hand the id to a spawned subprocess.
// Everything lives in memory; a restart forgets all outstanding tickets.
type Broker struct {
	mu      sync.Mutex
	tickets map[string]*ticket

	ttl         time.Duration
	reuseWindow time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewBroker creates a broker. Non-positive durations fall back to defaults.
func NewBroker(ttl, reuseWindow time.Duration) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if reuseWindow <= 0 {
		reuseWindow = DefaultReuseWindow
	}
	return &Broker{
		tickets:     make(map[string]*ticket),
		ttl:         ttl,
		reuseWindow: reuseWindow,
		now:         time.Now,
		logger:      slog.Default().With("component", "tickets"),
	}
}

// Issue mints a ticket for the given payload and returns its id. The owner
// fields are only used for logging.
func (b *Broker) Issue(payload, ownerID, ownerNickname string) string {
	id := uuid.New().String()
	now := b.now()

	b.mu.Lock()
	b.tickets[id] = &ticket{
		payload:       payload,
		ownerID:       ownerID,
		ownerNickname: ownerNickname,
		issuedAt:      now,
		expiresAt:     now.Add(b.ttl),
		usesRemaining: initialUses,
	}
	b.mu.Unlock()

	b.logger.Info("ticket issued", "ticket_id", id, "nickname", ownerNickname)
	return id
}

// Redeem returns the ticket's payload or an error describing why the ticket
// is no longer redeemable. A ticket that fails any check is deleted on the
// spot; there is no background sweeper.
func (b *Broker) Redeem(id, source string) (string, error) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	tk, ok := b.tickets[id]
	if !ok {
		b.logger.Warn("unknown ticket redeemed", "ticket_id", id, "source", source)
		return "", ErrNotFound
	}

	if now.After(tk.expiresAt) {
		delete(b.tickets, id)
		b.logger.Warn("expired ticket redeemed",
			"ticket_id", id, "source", source, "age", now.Sub(tk.issuedAt), "usage", tk.usageSummary())
		return "", ErrExpired
	}

	if !tk.firstUseAt.IsZero() && now.Sub(tk.firstUseAt) > b.reuseWindow {
		delete(b.tickets, id)
		b.logger.Warn("ticket reuse window closed",
			"ticket_id", id, "source", source, "since_first_use", now.Sub(tk.firstUseAt))
		return "", ErrWindowClosed
	}

	if tk.usesRemaining <= 0 {
		// Exhausted tickets are deleted at the final redemption, so hitting
		// this means bookkeeping went wrong somewhere.
		delete(b.tickets, id)
		b.logger.Error("exhausted ticket still present", "ticket_id", id, "source", source)
		return "", ErrNotFound
	}

	tk.usesRemaining--
	if tk.firstUseAt.IsZero() {
		tk.firstUseAt = now
	}
	tk.history = append(tk.history, usage{at: now, source: source})

	b.logger.Info("ticket redeemed",
		"ticket_id", id, "source", source, "uses_remaining", tk.usesRemaining)

	if tk.usesRemaining == 0 {
		delete(b.tickets, id)
	}
	return tk.payload, nil
}

// Len reports how many tickets are outstanding.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tickets)
}
