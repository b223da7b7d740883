// ABOUTME: Authentication and rate-limit middleware for API handlers.
// ABOUTME: Bearer sessions resolve to a user placed on the request context.

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/frpt/frpt-console/internal/auth"
	"github.com/frpt/frpt-console/internal/ratelimit"
	"github.com/frpt/frpt-console/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// userFrom returns the authenticated user placed on the context by
// requireAuth. It panics if the handler was not wrapped, which is a wiring
// bug rather than a request error.
func userFrom(ctx context.Context) *store.User {
	u, ok := ctx.Value(userContextKey).(*store.User)
	if !ok {
		panic("handler reached without requireAuth")
	}
	return u
}

// requireAuth validates the bearer session token and attaches the user to
// the request context. Expired and unknown tokens get the same 401 body.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.sendJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, err := s.auth.ValidateSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrSessionExpired) {
				s.sendJSONError(w, http.StatusUnauthorized, "session expired, please log in again")
				return
			}
			s.sendJSONError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// requireAdmin must wrap a handler already wrapped by requireAuth.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if err := auth.RequireAdmin(user); err != nil {
			s.logger.Warn("admin endpoint denied",
				"nickname", user.Nickname, "remote", clientIP(r))
			s.sendJSONError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next(w, r)
	}
}

// limitByIP rejects the request with 429 when the caller's address has
// exceeded any of the given window limiters.
func (s *Server) limitByIP(w http.ResponseWriter, r *http.Request, limiters ...*ratelimit.WindowLimiter) bool {
	ip := clientIP(r)
	for _, l := range limiters {
		if !l.Allow(ip) {
			s.logger.Warn("ip rate limit hit", "remote", ip, "path", r.URL.Path)
			s.sendJSONError(w, http.StatusTooManyRequests, "too many requests, slow down")
			return false
		}
	}
	return true
}

// clientIP prefers the proxy-provided address so limits key on the real
// caller when the server sits behind a CDN.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
