// ABOUTME: User and session persistence for the SQLite store
// ABOUTME: Covers registration, session token lookup, sliding renewal and password updates

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const userColumns = `uuid, nickname, password_hash, role, current_session_token, session_token_expiry, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var sessionToken, sessionExpiry sql.NullString
	var createdAt string

	err := row.Scan(&u.ID, &u.Nickname, &u.PasswordHash, &u.Role, &sessionToken, &sessionExpiry, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if sessionToken.Valid {
		u.SessionToken = sessionToken.String
	}
	if sessionExpiry.Valid {
		t, err := time.Parse(time.RFC3339, sessionExpiry.String)
		if err != nil {
			return nil, fmt.Errorf("parsing session_token_expiry: %w", err)
		}
		u.SessionExpiry = &t
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &u, nil
}

// CreateUser inserts a new user. Returns ErrNicknameExists if the nickname
// is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (uuid, nickname, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Nickname,
		user.PasswordHash,
		user.Role,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrNicknameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "nickname", user.Nickname)
	return nil
}

// GetUserByNickname retrieves a user by nickname.
// Returns ErrNotFound if no such user exists.
func (s *SQLiteStore) GetUserByNickname(ctx context.Context, nickname string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE nickname = ?`, nickname)
	return scanUser(row)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE uuid = ?`, id)
	return scanUser(row)
}

// GetUserBySessionToken retrieves the user currently holding the given
// session token. Returns ErrNotFound if no user holds it.
func (s *SQLiteStore) GetUserBySessionToken(ctx context.Context, token string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE current_session_token = ?`, token)
	return scanUser(row)
}

// SetSession stores a new session token and expiry for a user, replacing
// (and thereby invalidating) any previous token.
func (s *SQLiteStore) SetSession(ctx context.Context, userID, token string, expiry time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET current_session_token = ?, session_token_expiry = ? WHERE uuid = ?`,
		token, expiry.UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("setting session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("session issued", "user_id", userID)
	return nil
}

// UpdateSessionExpiry slides an existing session forward without changing
// the token.
func (s *SQLiteStore) UpdateSessionExpiry(ctx context.Context, userID string, expiry time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET session_token_expiry = ? WHERE uuid = ?`,
		expiry.UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("updating session expiry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces a user's stored password hash. Used both for
// transparent rehash-on-upgrade at login and for password resets.
func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE uuid = ?`, hash, userID)
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users ordered by nickname.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY nickname`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user and, via foreign keys, their configs,
// subscriptions and reset tokens. Invite codes they consumed are kept with
// used_by cleared.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE uuid = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted user", "user_id", userID)
	return nil
}
