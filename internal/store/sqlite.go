// ABOUTME: SQLite-backed store for frpt-console using modernc.org/sqlite
// ABOUTME: Owns the schema and shared helpers; entity methods live in sibling files

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the transactional datastore for users, invite codes,
// reset tokens and saved configs. The ephemeral tables (challenges, tickets,
// rate-limit entries) are deliberately not here; they are in-memory only.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			uuid                  TEXT PRIMARY KEY,
			nickname              TEXT UNIQUE NOT NULL,
			password_hash         TEXT NOT NULL,
			role                  TEXT NOT NULL DEFAULT 'user',
			current_session_token TEXT,
			session_token_expiry  TEXT,
			created_at            TEXT NOT NULL,

			CHECK (role IN ('user', 'admin'))
		);

		CREATE INDEX IF NOT EXISTS idx_users_session_token ON users(current_session_token);

		CREATE TABLE IF NOT EXISTS personal_configs (
			config_id    TEXT PRIMARY KEY,
			owner_uuid   TEXT NOT NULL REFERENCES users(uuid) ON DELETE CASCADE,
			profile_name TEXT NOT NULL,
			config_json  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_personal_configs_owner ON personal_configs(owner_uuid);

		CREATE TABLE IF NOT EXISTS shares (
			share_id         TEXT PRIMARY KEY,
			owner_uuid       TEXT NOT NULL REFERENCES users(uuid) ON DELETE CASCADE,
			share_name       TEXT NOT NULL,
			is_template      INTEGER NOT NULL DEFAULT 0,
			config_data_json TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_shares_owner ON shares(owner_uuid);

		CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id  TEXT PRIMARY KEY,
			user_uuid        TEXT NOT NULL REFERENCES users(uuid) ON DELETE CASCADE,
			share_id         TEXT NOT NULL REFERENCES shares(share_id) ON DELETE CASCADE,
			user_params_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_uuid);

		CREATE TABLE IF NOT EXISTS invitation_codes (
			code         TEXT PRIMARY KEY,
			is_used      INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			used_by_uuid TEXT REFERENCES users(uuid) ON DELETE SET NULL,
			used_at      TEXT
		);

		CREATE TABLE IF NOT EXISTS password_reset_tokens (
			token      TEXT PRIMARY KEY,
			user_uuid  TEXT NOT NULL REFERENCES users(uuid) ON DELETE CASCADE,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reset_tokens_user ON password_reset_tokens(user_uuid);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
