package bot

import (
	"context"
	"sync"

	"github.com/example/kotoba/internal/database"
)

// Preferences persists per-user settings; *database.UserConfigRepository satisfies it
type Preferences interface {
	GetUserConfig(ctx context.Context, userID int64) (*database.UserConfig, error)
	SaveUserConfig(ctx context.Context, config *database.UserConfig) error
}

// memoryPreferences keeps settings for the life of the process
type memoryPreferences struct {
	mu      sync.Mutex
	configs map[int64]database.UserConfig
}

func newMemoryPreferences() *memoryPreferences {
	return &memoryPreferences{configs: make(map[int64]database.UserConfig)}
}

func (m *memoryPreferences) GetUserConfig(ctx context.Context, userID int64) (*database.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[userID]; ok {
		return &cfg, nil
	}
	return database.DefaultUserConfig(userID), nil
}

func (m *memoryPreferences) SaveUserConfig(ctx context.Context, config *database.UserConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[config.UserID] = *config
	return nil
}
