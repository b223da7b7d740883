// ABOUTME: Handlers for the one-time config ticket flow.
// ABOUTME: Issue is authenticated and rate limited; redeem is anonymous by design.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/frpt/frpt-console/internal/ticket"
)

func (s *Server) handleRequestConfigTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())

	stamp, retryAfter, ok := s.limiter.CheckAndRecord(user.ID)
	if !ok {
		s.logger.Warn("ticket request throttled",
			"nickname", user.Nickname, "user_id", user.ID, "retry_after", retryAfter)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       fmt.Sprintf("too many requests, retry in %.1f seconds", retryAfter.Seconds()),
			"retry_after": retryAfter.Seconds(),
		})
		return
	}

	var req struct {
		ConfigContent string `json:"config_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConfigContent == "" {
		// The request never produced a ticket, so it should not count
		// against the interval.
		s.limiter.Rollback(user.ID, stamp)
		s.sendJSONError(w, http.StatusBadRequest, "config content is required")
		return
	}

	id := s.tickets.Issue(req.ConfigContent, user.ID, user.Nickname)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "config_id": id})
}

// handleGetTempConfig serves ticket redemption. There is deliberately no
// authentication: the redeemer is a freshly spawned local process that only
// knows the ticket id, and the id is unguessable and short-lived.
func (s *Server) handleGetTempConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/get_temp_config/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Configuration not found, expired, or already used.", http.StatusNotFound)
		return
	}

	payload, err := s.tickets.Redeem(id, clientIP(r))
	switch {
	case errors.Is(err, ticket.ErrExpired):
		http.Error(w, "Configuration link has expired.", http.StatusGone)
		return
	case errors.Is(err, ticket.ErrWindowClosed):
		http.Error(w, "Secondary use window for configuration link has expired.", http.StatusGone)
		return
	case err != nil:
		http.Error(w, "Configuration not found, expired, or already used.", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(payload))
}
