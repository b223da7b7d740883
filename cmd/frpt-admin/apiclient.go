// ABOUTME: Minimal API client for frpt-admin operations that must go
// ABOUTME: through the server, performing the full challenge-proof login

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/frpt/frpt-console/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	build   ClientConfig
}

func newAPIClient(baseURL string, build ClientConfig) *apiClient {
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		build:   build,
	}
}

func (c *apiClient) post(ctx context.Context, path, token string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("server: %s (status %d)", errBody.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Login performs the full handshake: fetch a challenge, compute the build
// proof over it, then present credentials.
func (c *apiClient) Login(ctx context.Context, nickname, password string) (string, error) {
	var challengeResp struct {
		Challenge string `json:"challenge"`
	}
	err := c.post(ctx, "/api/login/get_challenge", "",
		map[string]string{"nickname": nickname}, &challengeResp)
	if err != nil {
		return "", fmt.Errorf("fetching challenge: %w", err)
	}

	proof := auth.ComputeProof(c.build.VersionSecret, c.build.ComponentHash,
		c.build.Version, challengeResp.Challenge)

	var loginResp struct {
		SessionToken string `json:"session_token"`
	}
	err = c.post(ctx, "/api/login", "", map[string]string{
		"nickname":       nickname,
		"password":       password,
		"version":        c.build.Version,
		"version_secret": c.build.VersionSecret,
		"dll_hash":       c.build.ComponentHash,
		"challenge":      challengeResp.Challenge,
		"proof":          proof,
	}, &loginResp)
	if err != nil {
		return "", err
	}
	if loginResp.SessionToken == "" {
		return "", fmt.Errorf("server did not return a session token")
	}
	return loginResp.SessionToken, nil
}

// InitiatePasswordReset asks the server to mint a reset token for the
// target user. Requires an admin session.
func (c *apiClient) InitiatePasswordReset(ctx context.Context, token, targetNickname string) (string, error) {
	var resp struct {
		ResetToken string `json:"reset_token"`
	}
	err := c.post(ctx, "/api/initiate_password_reset", token,
		map[string]string{"nickname": targetNickname}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ResetToken == "" {
		return "", fmt.Errorf("server did not return a reset token")
	}
	return resp.ResetToken, nil
}
