// ABOUTME: Password reset token persistence
// ABOUTME: One live token per user; issuing a new one replaces the old

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReplaceResetToken deletes any prior reset token for the user and inserts
// the new one, in a single transaction.
func (s *SQLiteStore) ReplaceResetToken(ctx context.Context, token *ResetToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE user_uuid = ?`, token.UserID); err != nil {
		return fmt.Errorf("clearing prior reset tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (token, user_uuid, expires_at)
		VALUES (?, ?, ?)
	`, token.Token, token.UserID, token.ExpiresAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("inserting reset token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset token: %w", err)
	}

	s.logger.Info("reset token issued", "user_id", token.UserID)
	return nil
}

// GetResetToken retrieves a reset token by value.
// Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) GetResetToken(ctx context.Context, token string) (*ResetToken, error) {
	var rt ResetToken
	var expiresAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_uuid, expires_at
		FROM password_reset_tokens WHERE token = ?
	`, token).Scan(&rt.Token, &rt.UserID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reset token: %w", err)
	}

	rt.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &rt, nil
}

// DeleteResetToken removes a reset token. Returns ErrNotFound if it was
// already gone, which a caller racing another redemption treats as a loss.
func (s *SQLiteStore) DeleteResetToken(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting reset token: %w", err)
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

// ConsumeResetToken atomically deletes the token and sets the user's new
// password hash. The delete doubles as the single-use guard: if another
// request consumed the token first, RowsAffected is zero and nothing changes.
func (s *SQLiteStore) ConsumeResetToken(ctx context.Context, token, userID, newHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting reset token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE uuid = ?`, newHash, userID); err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing password reset: %w", err)
	}

	s.logger.Info("password reset completed", "user_id", userID)
	return nil
}
