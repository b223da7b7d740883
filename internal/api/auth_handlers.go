// ABOUTME: Handlers for the login handshake, registration and session check.
// ABOUTME: Wire shapes and status codes follow the deployed client protocol.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frpt/frpt-console/internal/auth"
	"github.com/frpt/frpt-console/internal/invite"
	"github.com/frpt/frpt-console/internal/store"
)

var nicknamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// LoginRequest is the JSON request body for POST /api/login. The field
// names are fixed by the deployed client fleet.
type LoginRequest struct {
	Nickname      string `json:"nickname"`
	Password      string `json:"password"`
	Version       string `json:"version"`
	VersionSecret string `json:"version_secret"`
	DLLHash       string `json:"dll_hash"`
	Challenge     string `json:"challenge"`
	Proof         string `json:"proof"`
}

// RegisterRequest is the JSON request body for POST /api/register.
type RegisterRequest struct {
	Nickname   string `json:"nickname"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limitByIP(w, r, s.challengeLimit) {
		return
	}

	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" {
		s.sendJSONError(w, http.StatusBadRequest, "a nickname is required to request a challenge")
		return
	}

	challenge, err := s.auth.IssueChallenge(req.Nickname)
	if err != nil {
		s.logger.Error("challenge issue failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limitByIP(w, r, s.loginLimit) {
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "request body must not be empty")
		return
	}
	if req.Challenge == "" || req.Proof == "" || req.VersionSecret == "" || req.DLLHash == "" || req.Version == "" {
		s.sendJSONError(w, http.StatusBadRequest, "login request is missing required verification fields")
		return
	}

	token, err := s.auth.Login(r.Context(), auth.LoginRequest{
		Nickname:      req.Nickname,
		Password:      req.Password,
		Version:       req.Version,
		Secret:        req.VersionSecret,
		ComponentHash: req.DLLHash,
		Challenge:     req.Challenge,
		Proof:         req.Proof,
		RemoteAddr:    clientIP(r),
	})
	if err != nil {
		s.writeLoginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"session_token": token,
	})
}

// writeLoginError maps login failures onto the protocol's status codes. The
// attestation and challenge failures all read differently so client authors
// can diagnose a broken build, but credentials stay deliberately vague.
func (s *Server) writeLoginError(w http.ResponseWriter, err error) {
	var vErr *auth.VersionTooLowError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusUpgradeRequired, map[string]string{
			"error":          "client version is too old, please upgrade",
			"latest_version": vErr.Latest,
		})
	case errors.Is(err, auth.ErrClientUntrusted):
		s.sendJSONError(w, http.StatusForbidden, "client build is not trusted or has been retired")
	case errors.Is(err, auth.ErrVersionMismatch):
		s.sendJSONError(w, http.StatusForbidden, "client version does not match its identity")
	case errors.Is(err, auth.ErrComponentMismatch):
		s.sendJSONError(w, http.StatusForbidden, "core component does not match the client version")
	case errors.Is(err, auth.ErrChallengeInvalid):
		s.sendJSONError(w, http.StatusForbidden, "invalid or expired challenge")
	case errors.Is(err, auth.ErrProofInvalid):
		s.sendJSONError(w, http.StatusForbidden, "client identity proof verification failed")
	case errors.Is(err, auth.ErrBadCredentials):
		s.sendJSONError(w, http.StatusUnauthorized, "incorrect nickname or password")
	default:
		s.logger.Error("login failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.limitByIP(w, r, s.registerHourly, s.registerBurst) {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "request body must not be empty")
		return
	}

	nickname := strings.TrimSpace(req.Nickname)
	code := strings.ToUpper(strings.TrimSpace(req.InviteCode))

	if strings.EqualFold(nickname, "all") {
		s.sendJSONError(w, http.StatusBadRequest, "nickname 'all' is reserved")
		return
	}
	if !nicknamePattern.MatchString(nickname) {
		s.sendJSONError(w, http.StatusBadRequest, "nickname must be 3-20 letters, digits or underscores")
		return
	}
	if req.Password == "" {
		s.sendJSONError(w, http.StatusBadRequest, "password must not be empty")
		return
	}
	if !invite.Validate(code) {
		s.sendJSONError(w, http.StatusForbidden, "invite code is malformed, check for typing mistakes")
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.logger.Error("password hash failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Nickname:     nickname,
		PasswordHash: hash,
		Role:         store.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	defaultConfig := &store.PersonalConfig{
		ID:          "conf-" + uuid.New().String(),
		OwnerID:     user.ID,
		ProfileName: "My cloud config",
		ConfigJSON:  "{}",
	}

	err = s.store.RegisterUser(r.Context(), user, defaultConfig, code)
	switch {
	case errors.Is(err, store.ErrInviteNotFound):
		s.sendJSONError(w, http.StatusForbidden, "invite code is invalid or does not exist")
		return
	case errors.Is(err, store.ErrInviteUsed):
		s.sendJSONError(w, http.StatusForbidden, "this invite code has already been used")
		return
	case errors.Is(err, store.ErrNicknameExists):
		s.sendJSONError(w, http.StatusConflict, "this nickname is already registered")
		return
	case err != nil:
		s.logger.Error("registration failed", "nickname", nickname, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("new user registered", "nickname", nickname, "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "registration complete"})
}

func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
