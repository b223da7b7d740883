// ABOUTME: End-to-end handler tests over a real SQLite store.
// ABOUTME: Exercises registration, the login handshake, tickets and resets.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/frpt/frpt-console/internal/auth"
	"github.com/frpt/frpt-console/internal/config"
	"github.com/frpt/frpt-console/internal/invite"
	"github.com/frpt/frpt-console/internal/ratelimit"
	"github.com/frpt/frpt-console/internal/store"
	"github.com/frpt/frpt-console/internal/ticket"
)

const (
	testSecret    = "build-secret"
	testVersion   = "114514"
	testHash      = "component-hash"
	oldSecret     = "old-build-secret"
	oldVersion    = "90000"
	oldHash       = "old-component-hash"
	latestVersion = "v1.14.514"
)

var testHashParams = auth.Argon2Params{Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32, SaltLen: 16}

type testEnv struct {
	handler http.Handler
	store   *store.SQLiteStore
	hasher  *auth.PasswordHasher
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hasher := auth.NewPasswordHasher(testHashParams)
	attest := auth.NewAttestationTable([]config.TrustedClient{
		{Secret: testSecret, Version: testVersion, ComponentHash: testHash},
		{Secret: oldSecret, Version: oldVersion, ComponentHash: oldHash},
	})
	authSvc := auth.NewService(st, auth.NewChallengeRegistry(time.Minute), attest, hasher,
		auth.Options{MinVersion: 100000, LatestVersion: latestVersion})

	srv := NewServer(st, authSvc, hasher, ticket.NewBroker(0, 0), ratelimit.NewPrincipalLimiter(0))
	return &testEnv{handler: srv.Routes(), store: st, hasher: hasher}
}

// doJSON performs a request with a JSON body and returns the recorder. A
// distinct fakeIP keeps the per-IP limiters from coupling unrelated calls.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any, token, fakeIP string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if fakeIP != "" {
		req.Header.Set("CF-Connecting-IP", fakeIP)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *testEnv) newInvite(t *testing.T) string {
	t.Helper()
	code, err := invite.Generate()
	require.NoError(t, err)
	require.NoError(t, e.store.CreateInviteCode(context.Background(), code))
	return code
}

func (e *testEnv) register(t *testing.T, nickname, password, fakeIP string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doJSON(t, http.MethodPost, "/api/register", map[string]string{
		"nickname":    nickname,
		"password":    password,
		"invite_code": e.newInvite(t),
	}, "", fakeIP)
}

func (e *testEnv) login(t *testing.T, nickname, password string) *httptest.ResponseRecorder {
	t.Helper()
	rec := e.doJSON(t, http.MethodPost, "/api/login/get_challenge",
		map[string]string{"nickname": nickname}, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decodeBody(t, rec)["challenge"].(string)

	return e.doJSON(t, http.MethodPost, "/api/login", map[string]string{
		"nickname":       nickname,
		"password":       password,
		"version":        testVersion,
		"version_secret": testSecret,
		"dll_hash":       testHash,
		"challenge":      challenge,
		"proof":          auth.ComputeProof(testSecret, testHash, testVersion, challenge),
	}, "", "")
}

func (e *testEnv) mustLogin(t *testing.T, nickname, password string) string {
	t.Helper()
	rec := e.login(t, nickname, password)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeBody(t, rec)["session_token"].(string)
}

func (e *testEnv) addAdmin(t *testing.T, nickname, password string) {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	require.NoError(t, e.store.CreateUser(context.Background(), &store.User{
		ID:           uuid.New().String(),
		Nickname:     nickname,
		PasswordHash: hash,
		Role:         store.RoleAdmin,
	}))
}

func TestHealth(t *testing.T) {
	e := setupTestServer(t)
	rec := e.doJSON(t, http.MethodGet, "/health", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	e := setupTestServer(t)

	rec := e.register(t, "alice", "hunter2", "10.1.0.1")
	require.Equal(t, http.StatusOK, rec.Code)

	user, err := e.store.GetUserByNickname(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, user.CreatedAt.IsZero(), "registration must stamp created_at")
	require.WithinDuration(t, time.Now().UTC(), user.CreatedAt, time.Minute)

	token := e.mustLogin(t, "alice", "hunter2")

	rec = e.doJSON(t, http.MethodPost, "/api/session/check", nil, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["valid"])

	// Registration also seeded a default personal config.
	rec = e.doJSON(t, http.MethodGet, "/api/configs", nil, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["personal_configs"], 1)
}

func TestRegisterValidation(t *testing.T) {
	e := setupTestServer(t)
	goodCode := e.newInvite(t)

	tests := []struct {
		name       string
		nickname   string
		inviteCode string
		wantStatus int
	}{
		{"reserved nickname", "all", goodCode, http.StatusBadRequest},
		{"nickname too short", "ab", goodCode, http.StatusBadRequest},
		{"nickname bad chars", "has space", goodCode, http.StatusBadRequest},
		{"malformed invite", "alice", "FRPT-AAAA-AAAB", http.StatusForbidden},
		{"unknown invite", "alice", "FRPT-AAAA-AAAA", http.StatusForbidden},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.doJSON(t, http.MethodPost, "/api/register", map[string]string{
				"nickname":    tt.nickname,
				"password":    "pw",
				"invite_code": tt.inviteCode,
			}, "", fmt.Sprintf("10.2.0.%d", i+1))
			require.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRegisterInviteReuseAndDuplicateNickname(t *testing.T) {
	e := setupTestServer(t)

	code := e.newInvite(t)
	rec := e.doJSON(t, http.MethodPost, "/api/register", map[string]string{
		"nickname": "alice", "password": "pw", "invite_code": code,
	}, "", "10.3.0.1")
	require.Equal(t, http.StatusOK, rec.Code)

	// Same invite again.
	rec = e.doJSON(t, http.MethodPost, "/api/register", map[string]string{
		"nickname": "bob", "password": "pw", "invite_code": code,
	}, "", "10.3.0.2")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Fresh invite, taken nickname.
	rec = e.register(t, "alice", "pw2", "10.3.0.3")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterPerIPBurstLimit(t *testing.T) {
	e := setupTestServer(t)

	for i := 0; i < 2; i++ {
		rec := e.register(t, fmt.Sprintf("user%d", i), "pw", "10.4.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := e.register(t, "user2", "pw", "10.4.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another address is unaffected.
	rec = e.register(t, "user3", "pw", "10.4.0.2")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "hunter2", "10.5.0.1").Code)

	rec := e.login(t, "alice", "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.login(t, "nobody", "whatever")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Untrusted secret fails before credentials are even looked at.
	chRec := e.doJSON(t, http.MethodPost, "/api/login/get_challenge",
		map[string]string{"nickname": "alice"}, "", "")
	challenge := decodeBody(t, chRec)["challenge"].(string)
	rec = e.doJSON(t, http.MethodPost, "/api/login", map[string]string{
		"nickname": "alice", "password": "hunter2",
		"version": testVersion, "version_secret": "stolen", "dll_hash": testHash,
		"challenge": challenge,
		"proof":     auth.ComputeProof("stolen", testHash, testVersion, challenge),
	}, "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Missing handshake fields are a 400, not a 403.
	rec = e.doJSON(t, http.MethodPost, "/api/login", map[string]string{
		"nickname": "alice", "password": "hunter2",
	}, "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginVersionTooLow(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "hunter2", "10.6.0.1").Code)

	chRec := e.doJSON(t, http.MethodPost, "/api/login/get_challenge",
		map[string]string{"nickname": "alice"}, "", "")
	challenge := decodeBody(t, chRec)["challenge"].(string)

	rec := e.doJSON(t, http.MethodPost, "/api/login", map[string]string{
		"nickname": "alice", "password": "hunter2",
		"version": oldVersion, "version_secret": oldSecret, "dll_hash": oldHash,
		"challenge": challenge,
		"proof":     auth.ComputeProof(oldSecret, oldHash, oldVersion, challenge),
	}, "", "")
	require.Equal(t, http.StatusUpgradeRequired, rec.Code)
	require.Equal(t, latestVersion, decodeBody(t, rec)["latest_version"])
}

func TestAuthRequired(t *testing.T) {
	e := setupTestServer(t)

	rec := e.doJSON(t, http.MethodPost, "/api/session/check", nil, "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.doJSON(t, http.MethodPost, "/api/session/check", nil, "not-a-real-token", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTicketFlow(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "hunter2", "10.7.0.1").Code)
	token := e.mustLogin(t, "alice", "hunter2")

	rec := e.doJSON(t, http.MethodPost, "/api/request_config_ticket",
		map[string]string{"config_content": "serverAddr = \"1.2.3.4\""}, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	configID := decodeBody(t, rec)["config_id"].(string)

	// A second request inside the 3s interval is throttled with a hint.
	rec = e.doJSON(t, http.MethodPost, "/api/request_config_ticket",
		map[string]string{"config_content": "x"}, token, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, decodeBody(t, rec), "retry_after")

	// The ticket redeems twice, anonymously, as raw text.
	for i := 0; i < 2; i++ {
		rec = e.doJSON(t, http.MethodGet, "/api/get_temp_config/"+configID, nil, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "serverAddr = \"1.2.3.4\"", rec.Body.String())
	}
	rec = e.doJSON(t, http.MethodGet, "/api/get_temp_config/"+configID, nil, "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketBadRequestRollsBackRateStamp(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "hunter2", "10.8.0.1").Code)
	token := e.mustLogin(t, "alice", "hunter2")

	rec := e.doJSON(t, http.MethodPost, "/api/request_config_ticket",
		map[string]string{}, token, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// The failed request did not consume the interval slot.
	rec = e.doJSON(t, http.MethodPost, "/api/request_config_ticket",
		map[string]string{"config_content": "data"}, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTempConfigUnknown(t *testing.T) {
	e := setupTestServer(t)
	rec := e.doJSON(t, http.MethodGet, "/api/get_temp_config/"+uuid.New().String(), nil, "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	e := setupTestServer(t)
	e.addAdmin(t, "root", "rootpw")
	require.Equal(t, http.StatusOK, e.register(t, "alice", "oldpw", "10.9.0.1").Code)

	adminToken := e.mustLogin(t, "root", "rootpw")

	rec := e.doJSON(t, http.MethodPost, "/api/initiate_password_reset",
		map[string]string{"nickname": "alice"}, adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resetToken := decodeBody(t, rec)["reset_token"].(string)
	require.Regexp(t, `^RESET-[0-9a-f]{32}$`, resetToken)

	// Wrong nickname for the token.
	rec = e.doJSON(t, http.MethodPost, "/api/perform_password_reset", map[string]string{
		"nickname": "bob", "reset_token": resetToken, "new_password": "newpw",
	}, "", "10.9.0.2")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.doJSON(t, http.MethodPost, "/api/perform_password_reset", map[string]string{
		"nickname": "alice", "reset_token": resetToken, "new_password": "newpw",
	}, "", "10.9.0.3")
	require.Equal(t, http.StatusOK, rec.Code)

	// Token is single use.
	rec = e.doJSON(t, http.MethodPost, "/api/perform_password_reset", map[string]string{
		"nickname": "alice", "reset_token": resetToken, "new_password": "again",
	}, "", "10.9.0.4")
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusUnauthorized, e.login(t, "alice", "oldpw").Code)
	e.mustLogin(t, "alice", "newpw")
}

func TestInitiateResetRequiresAdmin(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "pw", "10.10.0.1").Code)
	token := e.mustLogin(t, "alice", "pw")

	rec := e.doJSON(t, http.MethodPost, "/api/initiate_password_reset",
		map[string]string{"nickname": "alice"}, token, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConfigsDestructiveReplace(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "pw", "10.11.0.1").Code)
	token := e.mustLogin(t, "alice", "pw")

	rec := e.doJSON(t, http.MethodPost, "/api/configs", map[string]any{
		"personal_configs": []map[string]string{
			{"config_id": "conf-1", "profile_name": "home", "config_json": `{"nodes":[]}`},
			{"config_id": "conf-2", "profile_name": "office", "config_json": `{}`},
		},
	}, token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.doJSON(t, http.MethodGet, "/api/configs", nil, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["personal_configs"], 2)

	// Posting an empty set wipes everything, including the registration
	// default that the first POST already replaced.
	rec = e.doJSON(t, http.MethodPost, "/api/configs", map[string]any{}, token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.doJSON(t, http.MethodGet, "/api/configs", nil, token, "")
	require.Empty(t, decodeBody(t, rec)["personal_configs"])
}

func TestShareLifecycle(t *testing.T) {
	e := setupTestServer(t)
	require.Equal(t, http.StatusOK, e.register(t, "alice", "pw", "10.12.0.1").Code)
	token := e.mustLogin(t, "alice", "pw")

	rec := e.doJSON(t, http.MethodPost, "/api/share/create", map[string]any{
		"share_name":  "my node",
		"is_template": true,
		"config_data": map[string]any{"nodes": []string{}},
	}, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	shareID := decodeBody(t, rec)["share_id"].(string)

	rec = e.doJSON(t, http.MethodGet, "/api/share/list", nil, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var shares []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shares))
	require.Len(t, shares, 1)
	require.Equal(t, shareID, shares[0]["share_id"])

	rec = e.doJSON(t, http.MethodPost, "/api/share/revoke",
		map[string]string{"share_id": shareID}, token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.doJSON(t, http.MethodGet, "/api/share/list", nil, token, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shares))
	require.Empty(t, shares)
}
