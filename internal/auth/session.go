// ABOUTME: Bearer session validation with sliding renewal
// ABOUTME: Sessions slide to the full TTL when under the renewal threshold

package auth

import (
	"context"

	"github.com/frpt/frpt-console/internal/store"
)

// ValidateSession resolves a bearer token to its user and slides the expiry
// forward when the remaining lifetime is under the renewal threshold.
// Continuous use keeps a session alive indefinitely; 12 hours of silence
// ends it.
func (s *Service) ValidateSession(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	user, err := s.users.GetUserBySessionToken(ctx, token)
	if err != nil {
		s.logger.Warn("unknown session token presented", "token_prefix", tokenPrefix(token))
		return nil, ErrUnauthorized
	}

	if user.SessionExpiry == nil {
		// A token without an expiry is corrupt state, not a valid session.
		s.logger.Error("session token without expiry", "user_id", user.ID)
		return nil, ErrUnauthorized
	}

	now := s.now()
	if now.After(*user.SessionExpiry) {
		s.logger.Info("session expired", "user_id", user.ID, "nickname", user.Nickname)
		return nil, ErrSessionExpired
	}

	if user.SessionExpiry.Sub(now) < s.slideBelow {
		newExpiry := now.Add(s.sessionTTL)
		if err := s.users.UpdateSessionExpiry(ctx, user.ID, newExpiry); err != nil {
			s.logger.Error("session slide failed", "user_id", user.ID, "error", err)
		} else {
			user.SessionExpiry = &newExpiry
			s.logger.Info("session renewed", "user_id", user.ID, "nickname", user.Nickname)
		}
	}

	return user, nil
}

// RequireAdmin guards admin-only operations.
func RequireAdmin(user *store.User) error {
	if user.Role != store.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// tokenPrefix truncates a token for logging so full credentials never land
// in logs.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
