// ABOUTME: Personal config, share and subscription persistence
// ABOUTME: Config replacement is destructive by contract: delete-then-insert in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ListPersonalConfigs returns all personal configs owned by a user.
func (s *SQLiteStore) ListPersonalConfigs(ctx context.Context, ownerID string) ([]*PersonalConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config_id, owner_uuid, profile_name, config_json
		FROM personal_configs WHERE owner_uuid = ?
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying personal configs: %w", err)
	}
	defer rows.Close()

	var configs []*PersonalConfig
	for rows.Next() {
		var c PersonalConfig
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ProfileName, &c.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scanning personal config: %w", err)
		}
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}

// ListSubscriptions returns a user's subscriptions joined with the share
// they point at.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t1.subscription_id, t1.user_uuid, t1.share_id, t1.user_params_json,
		       t2.share_name, t2.is_template, t2.config_data_json
		FROM subscriptions t1
		JOIN shares t2 ON t1.share_id = t2.share_id
		WHERE t1.user_uuid = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		var params sql.NullString
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ShareID, &params,
			&sub.ShareName, &sub.ShareIsTemplate, &sub.ShareConfigJSON); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		if params.Valid {
			sub.UserParamsJSON = params.String
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// ReplaceUserConfigs performs a full destructive replace of the user's
// personal configs and subscriptions. Not a merge: anything not in the
// provided sets is gone afterwards.
func (s *SQLiteStore) ReplaceUserConfigs(ctx context.Context, userID string, configs []*PersonalConfig, subs []*Subscription) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM personal_configs WHERE owner_uuid = ?`, userID); err != nil {
		return fmt.Errorf("clearing personal configs: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_uuid = ?`, userID); err != nil {
		return fmt.Errorf("clearing subscriptions: %w", err)
	}

	for _, c := range configs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO personal_configs (config_id, owner_uuid, profile_name, config_json)
			VALUES (?, ?, ?, ?)
		`, c.ID, userID, c.ProfileName, c.ConfigJSON); err != nil {
			return fmt.Errorf("inserting personal config: %w", err)
		}
	}

	for _, sub := range subs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (subscription_id, user_uuid, share_id, user_params_json)
			VALUES (?, ?, ?, ?)
		`, sub.ID, userID, sub.ShareID, nullString(sub.UserParamsJSON)); err != nil {
			return fmt.Errorf("inserting subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing config replace: %w", err)
	}

	s.logger.Debug("replaced user configs", "user_id", userID,
		"configs", len(configs), "subscriptions", len(subs))
	return nil
}

// CreateShare publishes a new share.
func (s *SQLiteStore) CreateShare(ctx context.Context, share *Share) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (share_id, owner_uuid, share_name, is_template, config_data_json)
		VALUES (?, ?, ?, ?, ?)
	`, share.ID, share.OwnerID, share.Name, share.IsTemplate, share.ConfigJSON)
	if err != nil {
		return fmt.Errorf("inserting share: %w", err)
	}
	return nil
}

// ListShares returns all shares owned by a user.
func (s *SQLiteStore) ListShares(ctx context.Context, ownerID string) ([]*Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT share_id, owner_uuid, share_name, is_template, config_data_json
		FROM shares WHERE owner_uuid = ?
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying shares: %w", err)
	}
	defer rows.Close()

	var shares []*Share
	for rows.Next() {
		var sh Share
		if err := rows.Scan(&sh.ID, &sh.OwnerID, &sh.Name, &sh.IsTemplate, &sh.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scanning share: %w", err)
		}
		shares = append(shares, &sh)
	}
	return shares, rows.Err()
}

// DeleteShare revokes a share. Ownership is part of the predicate so users
// cannot revoke each other's shares.
func (s *SQLiteStore) DeleteShare(ctx context.Context, shareID, ownerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM shares WHERE share_id = ? AND owner_uuid = ?`, shareID, ownerID)
	if err != nil {
		return fmt.Errorf("deleting share: %w", err)
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
