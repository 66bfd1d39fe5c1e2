// Package bot is the Telegram front end for flashcard review and batch corrections.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/batch"
	"github.com/example/kotoba/internal/database"
	"github.com/example/kotoba/internal/review"
	sr "github.com/example/kotoba/internal/spaced_repetition"
	"github.com/example/kotoba/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Sender is the part of the Telegram API the bot uses; *tgbotapi.BotAPI satisfies it
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Reviewer applies grades and picks cards; *review.Service satisfies it
type Reviewer interface {
	Review(ctx context.Context, userID, cardID int64, quality sr.Quality) (models.ReviewState, error)
	NextCards(ctx context.Context, userID int64, limit int) ([]review.DueCard, error)
	Statistics(ctx context.Context, userID int64) ([]models.Statistics, error)
}

// Jobs submits and tracks batch jobs; *batch.Manager satisfies it
type Jobs interface {
	Submit(ctx context.Context, req batch.SubmitRequest) (*models.BatchJob, error)
	Status(ctx context.Context, id string) (batch.Progress, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, owner int64, limit int) ([]models.BatchJob, error)
}

// Bot represents the Telegram bot application
type Bot struct {
	api     Sender
	reviews Reviewer
	jobs    Jobs
	config  *BotConfig
	http    *http.Client
	prefs   Preferences

	mu       sync.Mutex
	sessions map[int64][]review.DueCard
}

// New creates a bot on top of an authorized API client
func New(api Sender, reviews Reviewer, jobs Jobs, config *BotConfig) *Bot {
	if config == nil {
		config = DefaultConfig()
	}
	return &Bot{
		api:      api,
		reviews:  reviews,
		jobs:     jobs,
		config:   config,
		http:     &http.Client{Timeout: config.DownloadTimeout},
		prefs:    newMemoryPreferences(),
		sessions: make(map[int64][]review.DueCard),
	}
}

// WithPreferences stores user settings in p instead of process memory
func (b *Bot) WithPreferences(p Preferences) *Bot {
	b.prefs = p
	return b
}

// NewAPI authorizes against Telegram with token
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is not set")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}
	log.Printf("Authorized on account %s", api.Self.UserName)
	return api, nil
}

// Start handles updates until ctx is canceled
func (b *Bot) Start(ctx context.Context, api *tgbotapi.BotAPI) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := api.GetUpdatesChan(updateConfig)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			log.Println("Bot stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// SendReminders implements the scheduler.Notifier interface.
// For private chats the chat ID equals the user ID.
func (b *Bot) SendReminders(userID int64, count int) error {
	word := "cards"
	if count == 1 {
		word = "card"
	}
	msg := tgbotapi.NewMessage(userID, fmt.Sprintf("You have %d %s to review! 復習の時間です。", count, word))
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{{Text: "Start review", CallbackData: "review"}}})
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	log.Printf("Sent reminder to user %d for %d cards", userID, count)
	return nil
}

func (b *Bot) send(chatID int64, text string, buttons [][]MenuButton) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = createKeyboard(buttons)
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message to %d: %v", chatID, err)
	}
}

func (b *Bot) providerFor(ctx context.Context, userID int64) ai.Provider {
	cfg, err := b.prefs.GetUserConfig(ctx, userID)
	if err != nil {
		log.Printf("Error loading settings for user %d: %v", userID, err)
		return b.config.DefaultProvider
	}
	if p, err := ai.ParseProvider(cfg.Provider); err == nil && cfg.Provider != "" {
		return p
	}
	return b.config.DefaultProvider
}

// updateConfig loads the user's settings, applies fn and saves them
func (b *Bot) updateConfig(ctx context.Context, userID int64, fn func(cfg *database.UserConfig)) error {
	cfg, err := b.prefs.GetUserConfig(ctx, userID)
	if err != nil {
		return err
	}
	fn(cfg)
	return b.prefs.SaveUserConfig(ctx, cfg)
}

// download fetches an uploaded document from Telegram's file endpoint
func (b *Bot) download(ctx context.Context, doc *tgbotapi.Document) ([]byte, error) {
	if int64(doc.FileSize) > b.config.MaxUploadBytes {
		return nil, fmt.Errorf("file is too large (%d bytes, limit %d)", doc.FileSize, b.config.MaxUploadBytes)
	}
	url, err := b.api.GetFileDirectURL(doc.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.config.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(body)) > b.config.MaxUploadBytes {
		return nil, errors.New("file is too large")
	}
	return body, nil
}
