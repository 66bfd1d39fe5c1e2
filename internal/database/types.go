package database

import (
	"time"
)

// DueCount is the number of due cards a user has
type DueCount struct {
	UserID int64 `db:"user_id"`
	Count  int   `db:"due"`
}

// UserConfig represents user configuration
type UserConfig struct {
	UserID           int64     `db:"user_id"`
	Provider         string    `db:"provider"` // preferred LLM provider, empty for the default
	RemindersEnabled bool      `db:"reminders_enabled"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// DefaultUserConfig is the configuration of a user who never changed anything
func DefaultUserConfig(userID int64) *UserConfig {
	return &UserConfig{UserID: userID, RemindersEnabled: true}
}
