// ABOUTME: Store types and sentinel errors for frpt-console persistence
// ABOUTME: Defines User, InviteCode, ResetToken and config entities backed by SQLite

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNicknameExists is returned when trying to register an already-taken nickname
var ErrNicknameExists = errors.New("nickname already exists")

// ErrInviteNotFound is returned when an invite code does not exist
var ErrInviteNotFound = errors.New("invite code not found")

// ErrInviteUsed is returned when an invite code has already been consumed
var ErrInviteUsed = errors.New("invite code already used")

// Role constants for users.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account. The current session token and its
// expiry live on the row itself: a user has at most one live session, and
// writing a new token invalidates the previous one.
type User struct {
	ID            string
	Nickname      string
	PasswordHash  string
	Role          string
	SessionToken  string // empty if never logged in
	SessionExpiry *time.Time
	CreatedAt     time.Time
}

// PersonalConfig is one saved tunnel profile owned by a user. The config
// payload is opaque JSON; this subsystem never interprets it.
type PersonalConfig struct {
	ID          string
	OwnerID     string
	ProfileName string
	ConfigJSON  string
}

// Share is a config published by its owner for other users to subscribe to.
type Share struct {
	ID         string
	OwnerID    string
	Name       string
	IsTemplate bool
	ConfigJSON string
}

// Subscription links a user to a share, with optional per-user parameters.
type Subscription struct {
	ID             string
	UserID         string
	ShareID        string
	UserParamsJSON string

	// Joined share fields, populated by ListSubscriptions.
	ShareName       string
	ShareIsTemplate bool
	ShareConfigJSON string
}

// InviteCode is a single-use registration code.
type InviteCode struct {
	Code      string
	Used      bool
	CreatedAt time.Time
	UsedBy    string // user ID, empty if unused
	UsedAt    *time.Time
}

// ResetToken is an admin-issued, single-use password reset credential.
// A user has at most one live reset token; issuing a new one replaces it.
type ResetToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}
