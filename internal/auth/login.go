// ABOUTME: Challenge-response login flow binding build attestation, proof and password checks
// ABOUTME: Implements the ordered hard-fail sequence and issues sliding session tokens

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/frpt/frpt-console/internal/store"
)

// DefaultSessionTTL is the lifetime of a freshly issued session token.
const DefaultSessionTTL = 12 * time.Hour

// DefaultSessionSlideBelow is the remaining-lifetime threshold under which a
// validated session is renewed to the full TTL.
const DefaultSessionSlideBelow = 6 * time.Hour

// UserStore is the slice of persistence the login flow needs.
type UserStore interface {
	GetUserByNickname(ctx context.Context, nickname string) (*store.User, error)
	GetUserBySessionToken(ctx context.Context, token string) (*store.User, error)
	SetSession(ctx context.Context, userID, token string, expiry time.Time) error
	UpdateSessionExpiry(ctx context.Context, userID string, expiry time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// VersionTooLowError rejects a build below the configured minimum and
// carries the current latest-version string for client messaging.
type VersionTooLowError struct {
	Latest string
}

func (e *VersionTooLowError) Error() string {
	return fmt.Sprintf("client version too low, latest is %s", e.Latest)
}

func (e *VersionTooLowError) Is(target error) bool { return target == ErrVersionTooLow }

// LoginRequest carries everything a login attempt asserts.
type LoginRequest struct {
	Nickname      string
	Password      string
	Version       string
	Secret        string
	ComponentHash string
	Challenge     string
	Proof         string
	RemoteAddr    string
}

// Service runs the login protocol and session validation.
type Service struct {
	users      UserStore
	challenges *ChallengeRegistry
	attest     *AttestationTable
	hasher     *PasswordHasher

	minVersion    int
	latestVersion string

	sessionTTL time.Duration
	slideBelow time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// Options tune the service; zero values fall back to defaults.
type Options struct {
	MinVersion    int
	LatestVersion string
	SessionTTL    time.Duration
	SlideBelow    time.Duration
}

// NewService wires the login protocol together.
func NewService(users UserStore, challenges *ChallengeRegistry, attest *AttestationTable, hasher *PasswordHasher, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.SlideBelow <= 0 {
		opts.SlideBelow = DefaultSessionSlideBelow
	}
	return &Service{
		users:         users,
		challenges:    challenges,
		attest:        attest,
		hasher:        hasher,
		minVersion:    opts.MinVersion,
		latestVersion: opts.LatestVersion,
		sessionTTL:    opts.SessionTTL,
		slideBelow:    opts.SlideBelow,
		now:           time.Now,
		logger:        slog.Default().With("component", "auth"),
	}
}

// IssueChallenge mints a fresh login challenge for the nickname.
func (s *Service) IssueChallenge(nickname string) (string, error) {
	return s.challenges.Issue(nickname)
}

// ComputeProof derives the login proof the client is expected to present:
// hex(SHA-256(secret ":" componentHash ":" version ":" challenge)).
func ComputeProof(secret, componentHash, version, challenge string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s:%s", secret, componentHash, version, challenge)
	return hex.EncodeToString(h.Sum(nil))
}

var versionNumPattern = regexp.MustCompile(`\d+`)

// parseVersionNum extracts the numeric prefix of a claimed version string.
// Unparseable versions count as zero and fail the minimum-version gate.
func parseVersionNum(version string) int {
	m := versionNumPattern.FindString(version)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// Login runs the full ordered check sequence and, on success, issues a new
// session token that replaces any prior token for the user. Each check is a
// hard fail; the challenge is consumed at its step regardless of what
// happens afterwards.
func (s *Service) Login(ctx context.Context, req LoginRequest) (string, error) {
	if err := s.attest.Verify(req.Secret, req.Version, req.ComponentHash); err != nil {
		s.logger.Warn("login attestation failed",
			"nickname", req.Nickname, "remote", req.RemoteAddr, "error", err)
		return "", err
	}

	if !s.challenges.Consume(req.Challenge) {
		s.logger.Warn("login challenge rejected",
			"nickname", req.Nickname, "remote", req.RemoteAddr)
		return "", ErrChallengeInvalid
	}

	if ComputeProof(req.Secret, req.ComponentHash, req.Version, req.Challenge) != req.Proof {
		s.logger.Warn("login proof mismatch",
			"nickname", req.Nickname, "remote", req.RemoteAddr)
		return "", ErrProofInvalid
	}

	if parseVersionNum(req.Version) < s.minVersion {
		s.logger.Warn("login rejected for outdated client",
			"nickname", req.Nickname, "version", req.Version, "remote", req.RemoteAddr)
		return "", &VersionTooLowError{Latest: s.latestVersion}
	}

	user, err := s.users.GetUserByNickname(ctx, req.Nickname)
	if err != nil {
		// Burn a hash verification so the missing-user path does not
		// return measurably faster than a wrong password.
		s.hasher.VerifyDummy(req.Password)
		s.logger.Warn("login for unknown user",
			"nickname", req.Nickname, "remote", req.RemoteAddr)
		return "", ErrBadCredentials
	}

	ok, err := s.hasher.Verify(user.PasswordHash, req.Password)
	if err != nil {
		s.logger.Error("stored password hash unreadable",
			"user_id", user.ID, "error", err)
		return "", fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Warn("login with wrong password",
			"user_id", user.ID, "nickname", req.Nickname, "remote", req.RemoteAddr)
		return "", ErrBadCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		if newHash, err := s.hasher.Hash(req.Password); err == nil {
			if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
				s.logger.Error("password rehash persist failed", "user_id", user.ID, "error", err)
			} else {
				s.logger.Info("password hash upgraded", "user_id", user.ID)
			}
		}
	}

	token := uuid.New().String()
	expiry := s.now().Add(s.sessionTTL)
	if err := s.users.SetSession(ctx, user.ID, token, expiry); err != nil {
		return "", fmt.Errorf("issuing session: %w", err)
	}

	s.logger.Info("login succeeded",
		"user_id", user.ID, "nickname", user.Nickname, "remote", req.RemoteAddr)
	return token, nil
}
