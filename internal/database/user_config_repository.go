package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// UserConfigRepository stores per-user preferences
type UserConfigRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewUserConfigRepository creates a new repository instance
func NewUserConfigRepository(db *sqlx.DB) *UserConfigRepository {
	return &UserConfigRepository{db: db, now: time.Now}
}

// GetUserConfig retrieves user configuration. Users without a stored row
// get DefaultUserConfig.
func (r *UserConfigRepository) GetUserConfig(ctx context.Context, userID int64) (*UserConfig, error) {
	query := `
		SELECT user_id, provider, reminders_enabled, updated_at
		FROM user_configs
		WHERE user_id = ?
	`

	config := &UserConfig{}
	err := r.db.GetContext(ctx, config, r.db.Rebind(query), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultUserConfig(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user config: %w", err)
	}
	return config, nil
}

// SaveUserConfig inserts or updates user configuration
func (r *UserConfigRepository) SaveUserConfig(ctx context.Context, config *UserConfig) error {
	config.UpdatedAt = r.now().UTC()
	query := `
		INSERT INTO user_configs (user_id, provider, reminders_enabled, updated_at)
		VALUES (:user_id, :provider, :reminders_enabled, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = excluded.provider,
			reminders_enabled = excluded.reminders_enabled,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, config); err != nil {
		return fmt.Errorf("failed to save user config: %w", err)
	}
	return nil
}
