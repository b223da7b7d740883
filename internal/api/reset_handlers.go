// ABOUTME: Handlers for admin-issued password reset tokens.
// ABOUTME: Initiate requires an admin session; perform is anonymous but token-gated.

package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/frpt/frpt-console/internal/store"
)

// resetTokenTTL is how long an issued reset token stays redeemable.
const resetTokenTTL = 24 * time.Hour

func (s *Server) handleInitiatePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	admin := userFrom(r.Context())

	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" {
		s.sendJSONError(w, http.StatusBadRequest, "a target nickname is required")
		return
	}

	target, err := s.store.GetUserByNickname(r.Context(), req.Nickname)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "target user does not exist")
		return
	}
	if err != nil {
		s.logger.Error("target user lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		s.logger.Error("reset token generation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	token := &store.ResetToken{
		Token:     "RESET-" + hex.EncodeToString(raw),
		UserID:    target.ID,
		ExpiresAt: time.Now().UTC().Add(resetTokenTTL),
	}

	// Replacing rather than inserting keeps at most one live token per user.
	if err := s.store.ReplaceResetToken(r.Context(), token); err != nil {
		s.logger.Error("reset token persist failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("password reset token issued",
		"admin", admin.Nickname, "target", target.Nickname)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reset_token": token.Token})
}

func (s *Server) handlePerformPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limitByIP(w, r, s.resetLimit) {
		return
	}

	var req struct {
		Nickname    string `json:"nickname"`
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "request body must not be empty")
		return
	}
	nickname := strings.TrimSpace(req.Nickname)
	tokenValue := strings.TrimSpace(req.ResetToken)
	if nickname == "" || tokenValue == "" || req.NewPassword == "" {
		s.sendJSONError(w, http.StatusBadRequest, "all fields are required")
		return
	}

	token, err := s.store.GetResetToken(r.Context(), tokenValue)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "reset token is invalid or already used")
		return
	}
	if err != nil {
		s.logger.Error("reset token lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if time.Now().UTC().After(token.ExpiresAt) {
		// Expired tokens are deleted on sight so they cannot be probed.
		if err := s.store.DeleteResetToken(r.Context(), tokenValue); err != nil {
			s.logger.Error("expired reset token cleanup failed", "error", err)
		}
		s.sendJSONError(w, http.StatusGone, "reset token has expired")
		return
	}

	target, err := s.store.GetUserByID(r.Context(), token.UserID)
	if err != nil || target.Nickname != nickname {
		s.sendJSONError(w, http.StatusForbidden, "token does not match the given user")
		return
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		s.logger.Error("password hash failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := s.store.ConsumeResetToken(r.Context(), tokenValue, token.UserID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with a concurrent redemption of the same token.
			s.sendJSONError(w, http.StatusNotFound, "reset token is invalid or already used")
			return
		}
		s.logger.Error("password reset failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("password reset completed", "nickname", nickname)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "password reset, log in with the new password",
	})
}
