package bot

import (
	"time"

	"github.com/example/kotoba/internal/ai"
)

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Number of cards offered per /review session
	CardsPerSession int
	// Provider used for uploads until the user picks one with /provider
	DefaultProvider ai.Provider
	// Largest spreadsheet accepted for a batch job
	MaxUploadBytes int64
	// Timeout for downloading an uploaded document from Telegram
	DownloadTimeout time.Duration
	// Number of jobs listed by /status without an ID
	RecentJobs int
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		CardsPerSession: 10,
		DefaultProvider: ai.DefaultProvider,
		MaxUploadBytes:  20 << 20,
		DownloadTimeout: time.Minute,
		RecentJobs:      5,
	}
}
