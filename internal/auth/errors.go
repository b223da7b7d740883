// ABOUTME: Sentinel errors for the authentication subsystem
// ABOUTME: Each login/session rejection path maps to exactly one of these

package auth

import "errors"

// Attestation errors. Order matters: a client is checked for trust before
// its claimed version and component hash are compared.
var (
	ErrClientUntrusted   = errors.New("client build not trusted or retired")
	ErrVersionMismatch   = errors.New("claimed version does not match client identity")
	ErrComponentMismatch = errors.New("core component does not match client version")
)

// Login protocol errors.
var (
	ErrChallengeInvalid = errors.New("invalid or expired challenge")
	ErrProofInvalid     = errors.New("client identity proof verification failed")
	ErrVersionTooLow    = errors.New("client version too low")

	// ErrBadCredentials covers both unknown nickname and wrong password;
	// the two cases are indistinguishable to the caller to prevent user
	// enumeration.
	ErrBadCredentials = errors.New("nickname or password incorrect")
)

// Session errors.
var (
	ErrUnauthorized   = errors.New("session invalid or expired")
	ErrSessionExpired = errors.New("session expired")
	ErrForbidden      = errors.New("admin role required")
)
