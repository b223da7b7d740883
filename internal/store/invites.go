// ABOUTME: Invite code persistence with atomic single-use consumption
// ABOUTME: Registration runs as one transaction: user insert, default config, invite mark

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateInviteCode inserts a new unused invite code. Returns an error if the
// code already exists; callers regenerate on collision.
func (s *SQLiteStore) CreateInviteCode(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invitation_codes (code, created_at) VALUES (?, ?)`,
		code, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("invite code %q already exists", code)
		}
		return fmt.Errorf("inserting invite code: %w", err)
	}
	return nil
}

// GetInviteCode retrieves an invite code. Returns ErrInviteNotFound if absent.
func (s *SQLiteStore) GetInviteCode(ctx context.Context, code string) (*InviteCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, is_used, created_at, used_by_uuid, used_at
		FROM invitation_codes WHERE code = ?
	`, code)
	return scanInviteCode(row)
}

func scanInviteCode(row interface{ Scan(...any) error }) (*InviteCode, error) {
	var ic InviteCode
	var createdAt string
	var usedBy, usedAt sql.NullString

	err := row.Scan(&ic.Code, &ic.Used, &createdAt, &usedBy, &usedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning invite code: %w", err)
	}

	ic.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if usedBy.Valid {
		ic.UsedBy = usedBy.String
	}
	if usedAt.Valid {
		t, _ := time.Parse(time.RFC3339, usedAt.String)
		ic.UsedAt = &t
	}
	return &ic, nil
}

// ListInviteCodes returns all invite codes, newest first.
func (s *SQLiteStore) ListInviteCodes(ctx context.Context) ([]*InviteCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, is_used, created_at, used_by_uuid, used_at
		FROM invitation_codes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying invite codes: %w", err)
	}
	defer rows.Close()

	var codes []*InviteCode
	for rows.Next() {
		ic, err := scanInviteCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, ic)
	}
	return codes, rows.Err()
}

// DeleteInviteCode removes an unused invite code. Used codes are kept as an
// audit record and cannot be deleted this way.
func (s *SQLiteStore) DeleteInviteCode(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitation_codes WHERE code = ? AND is_used = 0`, code)
	if err != nil {
		return fmt.Errorf("deleting invite code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInviteNotFound
	}
	return nil
}

// DeleteUnusedInviteCodes removes every unused invite code and returns how
// many were deleted.
func (s *SQLiteStore) DeleteUnusedInviteCodes(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM invitation_codes WHERE is_used = 0`)
	if err != nil {
		return 0, fmt.Errorf("deleting unused invite codes: %w", err)
	}
	return result.RowsAffected()
}

// RegisterUser creates a user, their default personal config, and consumes
// the invite code, all in one transaction. The invite mark is an atomic
// UPDATE guarded on is_used = 0, so two concurrent registrations with the
// same code cannot both succeed.
// Returns ErrInviteNotFound, ErrInviteUsed or ErrNicknameExists on conflict.
func (s *SQLiteStore) RegisterUser(ctx context.Context, user *User, defaultConfig *PersonalConfig, inviteCode string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	// Mark the invite first: the guarded UPDATE is the consumption point.
	result, err := tx.ExecContext(ctx, `
		UPDATE invitation_codes
		SET is_used = 1, used_at = ?
		WHERE code = ? AND is_used = 0
	`, now, inviteCode)
	if err != nil {
		return fmt.Errorf("consuming invite code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish missing from already-used for the caller's error message.
		var used bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_used FROM invitation_codes WHERE code = ?`, inviteCode).Scan(&used)
		if err == sql.ErrNoRows {
			return ErrInviteNotFound
		}
		if err != nil {
			return fmt.Errorf("checking invite code: %w", err)
		}
		return ErrInviteUsed
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (uuid, nickname, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Nickname, user.PasswordHash, user.Role, user.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrNicknameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invitation_codes SET used_by_uuid = ? WHERE code = ?
	`, user.ID, inviteCode)
	if err != nil {
		return fmt.Errorf("recording invite consumer: %w", err)
	}

	if defaultConfig != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO personal_configs (config_id, owner_uuid, profile_name, config_json)
			VALUES (?, ?, ?, ?)
		`, defaultConfig.ID, user.ID, defaultConfig.ProfileName, defaultConfig.ConfigJSON)
		if err != nil {
			return fmt.Errorf("inserting default config: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}

	s.logger.Info("registered user", "id", user.ID, "nickname", user.Nickname, "invite", inviteCode)
	return nil
}
