// ABOUTME: Handlers for personal config storage, shares and subscriptions.
// ABOUTME: The config payloads are opaque JSON; the server never interprets them.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/frpt/frpt-console/internal/store"
)

// PersonalConfigPayload mirrors one personal config row on the wire.
type PersonalConfigPayload struct {
	ConfigID    string `json:"config_id"`
	ProfileName string `json:"profile_name"`
	ConfigJSON  string `json:"config_json"`
}

// SubscriptionPayload is the client's view of one subscription in the
// POST /api/configs body, keyed by subscription id.
type SubscriptionPayload struct {
	ShareID    string          `json:"share_id"`
	UserParams json.RawMessage `json:"user_params"`
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleConfigsGet(w, r)
	case http.MethodPost:
		s.handleConfigsPost(w, r)
	default:
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleConfigsGet(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	configs, err := s.store.ListPersonalConfigs(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("listing personal configs failed", "user_id", user.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	subs, err := s.store.ListSubscriptions(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("listing subscriptions failed", "user_id", user.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	configsOut := make([]map[string]any, 0, len(configs))
	for _, c := range configs {
		configsOut = append(configsOut, map[string]any{
			"config_id":    c.ID,
			"owner_uuid":   c.OwnerID,
			"profile_name": c.ProfileName,
			"config_json":  c.ConfigJSON,
		})
	}
	subsOut := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		subsOut = append(subsOut, map[string]any{
			"subscription_id":   sub.ID,
			"share_id":          sub.ShareID,
			"user_params_json":  sub.UserParamsJSON,
			"share_name":        sub.ShareName,
			"is_template":       sub.ShareIsTemplate,
			"share_config_json": sub.ShareConfigJSON,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"personal_configs": configsOut,
		"subscriptions":    subsOut,
	})
}

// handleConfigsPost replaces the caller's entire config set with the posted
// one. The client always uploads its full state, so anything absent from
// the body is gone after this call.
func (s *Server) handleConfigsPost(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req struct {
		PersonalConfigs []PersonalConfigPayload        `json:"personal_configs"`
		Subscriptions   map[string]SubscriptionPayload `json:"subscriptions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "request body must not be empty")
		return
	}

	configs := make([]*store.PersonalConfig, 0, len(req.PersonalConfigs))
	for _, c := range req.PersonalConfigs {
		name := c.ProfileName
		if len(name) > 50 {
			name = name[:50]
		}
		configJSON := c.ConfigJSON
		if !json.Valid([]byte(configJSON)) {
			configJSON = "{}"
		}
		configs = append(configs, &store.PersonalConfig{
			ID:          c.ConfigID,
			OwnerID:     user.ID,
			ProfileName: name,
			ConfigJSON:  configJSON,
		})
	}

	subs := make([]*store.Subscription, 0, len(req.Subscriptions))
	for id, sub := range req.Subscriptions {
		params := sub.UserParams
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		subs = append(subs, &store.Subscription{
			ID:             id,
			UserID:         user.ID,
			ShareID:        sub.ShareID,
			UserParamsJSON: string(params),
		})
	}

	if err := s.store.ReplaceUserConfigs(r.Context(), user.ID, configs, subs); err != nil {
		s.logger.Error("config replace failed", "user_id", user.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "configs saved"})
}

func (s *Server) handleShareCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())

	var req struct {
		ShareName  string          `json:"share_name"`
		IsTemplate bool            `json:"is_template"`
		ConfigData json.RawMessage `json:"config_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "request body must not be empty")
		return
	}
	if req.ShareName == "" || len(req.ConfigData) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "share name and config data are required")
		return
	}
	name := req.ShareName
	if len(name) > 50 {
		name = name[:50]
	}

	share := &store.Share{
		ID:         "share-" + uuid.New().String(),
		OwnerID:    user.ID,
		Name:       name,
		IsTemplate: req.IsTemplate,
		ConfigJSON: string(req.ConfigData),
	}
	if err := s.store.CreateShare(r.Context(), share); err != nil {
		s.logger.Error("share create failed", "user_id", user.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "share_id": share.ID})
}

func (s *Server) handleShareList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())

	shares, err := s.store.ListShares(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("share list failed", "user_id", user.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]map[string]any, 0, len(shares))
	for _, sh := range shares {
		out = append(out, map[string]any{
			"share_id":    sh.ID,
			"share_name":  sh.Name,
			"is_template": sh.IsTemplate,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShareRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())

	var req struct {
		ShareID string `json:"share_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ShareID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "share_id is required")
		return
	}

	err := s.store.DeleteShare(r.Context(), req.ShareID, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("share revoke failed", "user_id", user.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Revoking an unknown or foreign share is a silent no-op, matching the
	// ownership predicate in the delete.
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
