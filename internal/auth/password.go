// ABOUTME: Argon2id password hashing with PHC-string encoding
// ABOUTME: Supports transparent rehash when stored parameters fall below current policy

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// Argon2Params are the argon2id cost parameters used for new hashes.
type Argon2Params struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
	SaltLen     uint32
}

// DefaultArgon2Params mirrors the deployment's current hashing policy.
var DefaultArgon2Params = Argon2Params{
	Time:        3,
	MemoryKiB:   64 * 1024,
	Parallelism: 2,
	KeyLen:      32,
	SaltLen:     16,
}

// PasswordHasher hashes and verifies passwords with argon2id.
type PasswordHasher struct {
	params Argon2Params

	// dummyHash is verified against when the user does not exist, so the
	// missing-user and wrong-password paths take comparable time.
	dummyHash string
}

// NewPasswordHasher creates a hasher with the given parameters.
func NewPasswordHasher(params Argon2Params) *PasswordHasher {
	h := &PasswordHasher{params: params}
	// Errors only arise from crypto/rand, which is treated as infallible here.
	h.dummyHash, _ = h.Hash("decoy-password-for-constant-timing")
	return h
}

// Hash derives an argon2id hash of the password and encodes it as a PHC
// string: $argon2id$v=19$m=...,t=...,p=...$<salt>$<key>.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether the password matches the encoded hash. The stored
// hash's own parameters are used for the comparison, so hashes produced
// under older policies still verify.
func (h *PasswordHasher) Verify(encoded, password string) (bool, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// VerifyDummy burns one verification against a fixed decoy hash. Called on
// the missing-user path to keep its timing close to a real verification.
func (h *PasswordHasher) VerifyDummy(password string) {
	_, _ = h.Verify(h.dummyHash, password)
}

// NeedsRehash reports whether the stored hash was produced with parameters
// below the hasher's current policy and should be transparently recomputed.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	params, _, key, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	return params.Time != h.params.Time ||
		params.MemoryKiB != h.params.MemoryKiB ||
		params.Parallelism != h.params.Parallelism ||
		uint32(len(key)) != h.params.KeyLen
}

// decodeHash parses a PHC argon2id string into its parameters, salt and key.
func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}

	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
