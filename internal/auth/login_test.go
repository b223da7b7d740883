// ABOUTME: Tests for the login protocol and session validation
// ABOUTME: Drives the full ordered check sequence against a fake user store

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frpt/frpt-console/internal/config"
	"github.com/frpt/frpt-console/internal/store"
)

// fakeUserStore is an in-memory UserStore for login tests.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*store.User // keyed by nickname
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*store.User)}
}

func (f *fakeUserStore) add(u *store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Nickname] = u
}

func (f *fakeUserStore) GetUserByNickname(_ context.Context, nickname string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[nickname]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUserStore) GetUserBySessionToken(_ context.Context, token string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.SessionToken == token && token != "" {
			clone := *u
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUserStore) SetSession(_ context.Context, userID, token string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			u.SessionToken = token
			u.SessionExpiry = &expiry
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeUserStore) UpdateSessionExpiry(_ context.Context, userID string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			u.SessionExpiry = &expiry
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeUserStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			u.PasswordHash = hash
			return nil
		}
	}
	return store.ErrNotFound
}

const (
	testSecret  = "build-secret"
	testVersion = "114514"
	testHash    = "component-hash"
)

func testService(t *testing.T, users *fakeUserStore) *Service {
	t.Helper()
	attest := NewAttestationTable([]config.TrustedClient{
		{Secret: testSecret, Version: testVersion, ComponentHash: testHash},
	})
	return NewService(users, NewChallengeRegistry(time.Minute), attest,
		NewPasswordHasher(testParams), Options{
			MinVersion:    100000,
			LatestVersion: "v1.14.514",
		})
}

func addTestUser(t *testing.T, svc *Service, users *fakeUserStore, nickname, password, role string) *store.User {
	t.Helper()
	hash, err := svc.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	u := &store.User{ID: "user-" + nickname, Nickname: nickname, PasswordHash: hash, Role: role}
	users.add(u)
	return u
}

// doLogin runs the full handshake the way a trusted client would.
func doLogin(t *testing.T, svc *Service, nickname, password string) (string, error) {
	t.Helper()
	challenge, err := svc.challenges.Issue(nickname)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return svc.Login(context.Background(), LoginRequest{
		Nickname:      nickname,
		Password:      password,
		Version:       testVersion,
		Secret:        testSecret,
		ComponentHash: testHash,
		Challenge:     challenge,
		Proof:         ComputeProof(testSecret, testHash, testVersion, challenge),
	})
}

func TestLogin_Success(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	token, err := doLogin(t, svc, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Fatal("Login() returned empty token")
	}

	user, err := svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if user.Nickname != "alice" {
		t.Errorf("session user = %q", user.Nickname)
	}
}

func TestLogin_AttestationFailures(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	tests := []struct {
		name    string
		mutate  func(*LoginRequest)
		wantErr error
	}{
		{
			name:    "unknown secret",
			mutate:  func(r *LoginRequest) { r.Secret = "stolen" },
			wantErr: ErrClientUntrusted,
		},
		{
			name:    "version of a different build",
			mutate:  func(r *LoginRequest) { r.Version = "999999" },
			wantErr: ErrVersionMismatch,
		},
		{
			name:    "tampered component",
			mutate:  func(r *LoginRequest) { r.ComponentHash = "patched" },
			wantErr: ErrComponentMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, _ := svc.challenges.Issue("alice")
			req := LoginRequest{
				Nickname: "alice", Password: "hunter2",
				Version: testVersion, Secret: testSecret, ComponentHash: testHash,
				Challenge: challenge,
			}
			tt.mutate(&req)
			req.Proof = ComputeProof(req.Secret, req.ComponentHash, req.Version, req.Challenge)

			_, err := svc.Login(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Login() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogin_ChallengeReplay(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	challenge, _ := svc.challenges.Issue("alice")
	proof := ComputeProof(testSecret, testHash, testVersion, challenge)
	req := LoginRequest{
		Nickname: "alice", Password: "hunter2",
		Version: testVersion, Secret: testSecret, ComponentHash: testHash,
		Challenge: challenge, Proof: proof,
	}

	if _, err := svc.Login(context.Background(), req); err != nil {
		t.Fatalf("first Login() error = %v", err)
	}

	// Replaying the identical challenge+proof pair must always fail.
	if _, err := svc.Login(context.Background(), req); !errors.Is(err, ErrChallengeInvalid) {
		t.Errorf("replayed Login() error = %v, want ErrChallengeInvalid", err)
	}
}

func TestLogin_BadProofConsumesChallenge(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	challenge, _ := svc.challenges.Issue("alice")
	req := LoginRequest{
		Nickname: "alice", Password: "hunter2",
		Version: testVersion, Secret: testSecret, ComponentHash: testHash,
		Challenge: challenge, Proof: "forged",
	}

	if _, err := svc.Login(context.Background(), req); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("Login() error = %v, want ErrProofInvalid", err)
	}

	// The failed attempt consumed the challenge: a correct retry with the
	// same challenge is rejected.
	req.Proof = ComputeProof(testSecret, testHash, testVersion, challenge)
	if _, err := svc.Login(context.Background(), req); !errors.Is(err, ErrChallengeInvalid) {
		t.Errorf("retry Login() error = %v, want ErrChallengeInvalid", err)
	}
}

func TestLogin_VersionTooLow(t *testing.T) {
	users := newFakeUserStore()
	attest := NewAttestationTable([]config.TrustedClient{
		{Secret: "old-secret", Version: "90000", ComponentHash: "old-hash"},
	})
	svc := NewService(users, NewChallengeRegistry(time.Minute), attest,
		NewPasswordHasher(testParams), Options{MinVersion: 100000, LatestVersion: "v1.14.514"})
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	challenge, _ := svc.challenges.Issue("alice")
	_, err := svc.Login(context.Background(), LoginRequest{
		Nickname: "alice", Password: "hunter2",
		Version: "90000", Secret: "old-secret", ComponentHash: "old-hash",
		Challenge: challenge,
		Proof:     ComputeProof("old-secret", "old-hash", "90000", challenge),
	})

	if !errors.Is(err, ErrVersionTooLow) {
		t.Fatalf("Login() error = %v, want ErrVersionTooLow", err)
	}
	var vErr *VersionTooLowError
	if !errors.As(err, &vErr) {
		t.Fatal("error should be a *VersionTooLowError")
	}
	if vErr.Latest != "v1.14.514" {
		t.Errorf("Latest = %q, want v1.14.514", vErr.Latest)
	}
}

func TestLogin_CredentialFailuresAreUniform(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	_, unknownErr := doLogin(t, svc, "nobody", "whatever")
	_, wrongErr := doLogin(t, svc, "alice", "wrong-password")

	if !errors.Is(unknownErr, ErrBadCredentials) {
		t.Errorf("unknown user error = %v, want ErrBadCredentials", unknownErr)
	}
	if !errors.Is(wrongErr, ErrBadCredentials) {
		t.Errorf("wrong password error = %v, want ErrBadCredentials", wrongErr)
	}
	// Identical message: nothing distinguishes the two cases to a caller.
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("error messages differ: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLogin_RehashOnUpgrade(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)

	// Store a hash produced under weaker parameters than the service's.
	legacy := NewPasswordHasher(Argon2Params{Time: 1, MemoryKiB: 32, Parallelism: 1, KeyLen: 16, SaltLen: 16})
	oldHash, _ := legacy.Hash("hunter2")
	users.add(&store.User{ID: "user-alice", Nickname: "alice", PasswordHash: oldHash, Role: store.RoleUser})

	if _, err := doLogin(t, svc, "alice", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	after, _ := users.GetUserByNickname(context.Background(), "alice")
	if after.PasswordHash == oldHash {
		t.Error("password hash was not upgraded at login")
	}
	if ok, _ := svc.hasher.Verify(after.PasswordHash, "hunter2"); !ok {
		t.Error("upgraded hash does not verify")
	}
	if svc.hasher.NeedsRehash(after.PasswordHash) {
		t.Error("upgraded hash still flagged for rehash")
	}
}

func TestLogin_SecondLoginInvalidatesFirstSession(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	first, err := doLogin(t, svc, "alice", "hunter2")
	if err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	second, err := doLogin(t, svc, "alice", "hunter2")
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}

	if _, err := svc.ValidateSession(context.Background(), first); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("first token should be invalid after second login, got %v", err)
	}
	if _, err := svc.ValidateSession(context.Background(), second); err != nil {
		t.Errorf("second token should validate, got %v", err)
	}
}

func TestValidateSession_Expired(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	now := time.Now()
	svc.now = func() time.Time { return now }

	token, err := doLogin(t, svc, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	now = now.Add(12*time.Hour + time.Minute)
	if _, err := svc.ValidateSession(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("ValidateSession() error = %v, want ErrSessionExpired", err)
	}
}

func TestValidateSession_SlidesUnderThreshold(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)
	addTestUser(t, svc, users, "alice", "hunter2", store.RoleUser)

	now := time.Now()
	svc.now = func() time.Time { return now }

	token, _ := doLogin(t, svc, "alice", "hunter2")

	// 5h in: 7h remain, over the 6h threshold, so no slide.
	now = now.Add(5 * time.Hour)
	user, err := svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	firstExpiry := *user.SessionExpiry

	// 7h in: 5h remain, under the threshold, so the expiry slides to now+12h.
	now = now.Add(2 * time.Hour)
	user, err = svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if !user.SessionExpiry.After(firstExpiry) {
		t.Error("expiry should have slid forward")
	}
	if want := now.Add(12 * time.Hour); !user.SessionExpiry.Equal(want) {
		t.Errorf("slid expiry = %v, want %v", user.SessionExpiry, want)
	}
}

func TestValidateSession_MissingExpiryIsCorrupt(t *testing.T) {
	users := newFakeUserStore()
	svc := testService(t, users)

	users.add(&store.User{ID: "user-x", Nickname: "x", SessionToken: "orphan-token"})

	if _, err := svc.ValidateSession(context.Background(), "orphan-token"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("ValidateSession() error = %v, want ErrUnauthorized", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	if err := RequireAdmin(&store.User{Role: store.RoleAdmin}); err != nil {
		t.Errorf("admin should pass, got %v", err)
	}
	if err := RequireAdmin(&store.User{Role: store.RoleUser}); !errors.Is(err, ErrForbidden) {
		t.Errorf("user should be forbidden, got %v", err)
	}
}

func TestComputeProof_MatchesKnownLayout(t *testing.T) {
	// The proof is a SHA-256 over colon-joined fields; a change in field
	// order or separator would silently break every deployed client.
	got := ComputeProof("s", "h", "v", "c")
	want := ComputeProof("s", "h", "v", "c")
	if got != want {
		t.Fatal("ComputeProof is not deterministic")
	}
	if ComputeProof("s", "h", "v", "c2") == got {
		t.Error("different challenge must change the proof")
	}
	if len(got) != 64 {
		t.Errorf("proof length = %d, want 64 hex chars", len(got))
	}
}
