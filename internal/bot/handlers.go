package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/batch"
	"github.com/example/kotoba/internal/database"
	"github.com/example/kotoba/internal/review"
	sr "github.com/example/kotoba/internal/spaced_repetition"
	"github.com/example/kotoba/pkg/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `Welcome to Kotoba! 🎌

/review - Study due flashcards
/stats - Show your progress by JLPT level
/provider <openai|gemini|bedrock> - Choose the model for corrections
/reminders <on|off> - Turn review reminders on or off
/status [job id] - Show batch job progress
/cancel <job id> - Stop a running batch job

Send a .csv or .xlsx file to have column F corrected sentence by sentence.`

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic while handling update %d: %v", update.UpdateID, r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message == nil:
		return
	case update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message.Document != nil:
		b.handleDocument(ctx, update.Message)
	default:
		b.send(update.Message.Chat.ID, "I don't understand. Use /help to see what I can do.", nil)
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	args := strings.TrimSpace(message.CommandArguments())

	switch message.Command() {
	case "start", "help":
		b.send(chatID, helpText, nil)
	case "review":
		b.startReview(ctx, chatID, userID)
	case "provider":
		b.handleProvider(ctx, chatID, userID, args)
	case "reminders":
		b.handleReminders(ctx, chatID, userID, args)
	case "status":
		b.handleStatus(ctx, chatID, userID, args)
	case "cancel":
		b.handleCancel(ctx, chatID, userID, args)
	case "stats":
		b.handleStats(ctx, chatID, userID)
	default:
		b.send(chatID, "Unknown command. Use /help to see available commands.", nil)
	}
}

func (b *Bot) handleProvider(ctx context.Context, chatID, userID int64, arg string) {
	if arg == "" {
		b.send(chatID, fmt.Sprintf("Current provider: %s", b.providerFor(ctx, userID)), nil)
		return
	}
	p, err := ai.ParseProvider(arg)
	if err != nil {
		b.send(chatID, "Unknown provider. Choose openai, gemini or bedrock.", nil)
		return
	}
	err = b.updateConfig(ctx, userID, func(cfg *database.UserConfig) { cfg.Provider = string(p) })
	if err != nil {
		log.Printf("Error saving provider for user %d: %v", userID, err)
		b.send(chatID, "❌ Could not save your choice. Please try again later.", nil)
		return
	}
	b.send(chatID, fmt.Sprintf("✅ Corrections will use %s", p), nil)
}

func (b *Bot) handleStats(ctx context.Context, chatID, userID int64) {
	stats, err := b.reviews.Statistics(ctx, userID)
	if err != nil {
		log.Printf("Error loading statistics for user %d: %v", userID, err)
		b.send(chatID, "❌ Could not load your statistics. Please try again later.", nil)
		return
	}
	if len(stats) == 0 {
		b.send(chatID, "📊 No reviews yet. Start with /review!", nil)
		return
	}
	b.send(chatID, formatStatistics(stats), nil)
}

func formatStatistics(stats []models.Statistics) string {
	var sb strings.Builder
	sb.WriteString("📊 Your progress\n")
	for _, s := range stats {
		level := s.Level
		if level == "" {
			level = "Other"
		}
		sb.WriteString(fmt.Sprintf("\n%s: %d studied, %d due, %d mastered (ease %.2f)", level, s.Studied, s.Due, s.Mastered, s.AverageEase))
	}
	return sb.String()
}

func (b *Bot) handleReminders(ctx context.Context, chatID, userID int64, arg string) {
	var enabled bool
	switch strings.ToLower(arg) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		cfg, err := b.prefs.GetUserConfig(ctx, userID)
		if err != nil {
			log.Printf("Error loading settings for user %d: %v", userID, err)
			b.send(chatID, "❌ Could not load your settings.", nil)
			return
		}
		state := "off"
		if cfg.RemindersEnabled {
			state = "on"
		}
		b.send(chatID, fmt.Sprintf("Reminders are %s. Use /reminders on or /reminders off.", state), nil)
		return
	}

	if err := b.updateConfig(ctx, userID, func(cfg *database.UserConfig) { cfg.RemindersEnabled = enabled }); err != nil {
		log.Printf("Error saving reminders for user %d: %v", userID, err)
		b.send(chatID, "❌ Could not save your choice. Please try again later.", nil)
		return
	}
	if enabled {
		b.send(chatID, "🔔 Reminders are on.", nil)
	} else {
		b.send(chatID, "🔕 Reminders are off.", nil)
	}
}

// startReview loads a new session of due cards and shows the first one
func (b *Bot) startReview(ctx context.Context, chatID, userID int64) {
	cards, err := b.reviews.NextCards(ctx, userID, b.config.CardsPerSession)
	if err != nil {
		log.Printf("Error loading cards for user %d: %v", userID, err)
		b.send(chatID, "❌ Could not load your cards. Please try again later.", nil)
		return
	}
	if len(cards) == 0 {
		b.send(chatID, "🎉 Nothing to review right now. Come back later!", nil)
		return
	}

	b.mu.Lock()
	b.sessions[userID] = cards
	b.mu.Unlock()
	b.showCard(chatID, cards[0])
}

func (b *Bot) showCard(chatID int64, card review.DueCard) {
	label := "🔁 Review"
	if card.New {
		label = "🆕 New card"
	}
	text := fmt.Sprintf("%s\n\n%s", label, card.Card.Front)
	b.send(chatID, text, [][]MenuButton{{{Text: "Show answer", CallbackData: fmt.Sprintf("show:%d", card.Card.ID)}}})
}

func (b *Bot) currentCard(userID, cardID int64) (review.DueCard, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.sessions[userID] {
		if c.Card.ID == cardID {
			return c, true
		}
	}
	return review.DueCard{}, false
}

// qualityButtons lets the user grade recall from 0 (blackout) to 5 (perfect)
func qualityButtons(cardID int64) [][]MenuButton {
	labels := []string{"0 😶", "1 😣", "2 😕", "3 🙂", "4 😊", "5 🤩"}
	var row1, row2 []MenuButton
	for q, label := range labels {
		btn := MenuButton{Text: label, CallbackData: fmt.Sprintf("grade:%d:%d", cardID, q)}
		if q < 3 {
			row1 = append(row1, btn)
		} else {
			row2 = append(row2, btn)
		}
	}
	return [][]MenuButton{row1, row2}
}

func (b *Bot) showAnswer(chatID, userID, cardID int64) {
	card, ok := b.currentCard(userID, cardID)
	if !ok {
		b.send(chatID, "This card is no longer in your session. Use /review to start again.", nil)
		return
	}
	text := card.Card.Front
	if card.Card.Reading != "" {
		text += "【" + card.Card.Reading + "】"
	}
	text += "\n\n" + card.Card.Back + "\n\nHow well did you remember it?"
	b.send(chatID, text, qualityButtons(cardID))
}

func (b *Bot) gradeCard(ctx context.Context, chatID, userID, cardID int64, quality sr.Quality) {
	state, err := b.reviews.Review(ctx, userID, cardID, quality)
	if err != nil {
		log.Printf("Error reviewing card %d for user %d: %v", cardID, userID, err)
		if errors.Is(err, sr.ErrInvalidQuality) {
			b.send(chatID, "Please grade between 0 and 5.", nil)
			return
		}
		b.send(chatID, "❌ Could not save your answer.", nil)
		return
	}

	b.mu.Lock()
	remaining := make([]review.DueCard, 0, len(b.sessions[userID]))
	for _, c := range b.sessions[userID] {
		if c.Card.ID != cardID {
			remaining = append(remaining, c)
		}
	}
	b.sessions[userID] = remaining
	b.mu.Unlock()

	b.send(chatID, fmt.Sprintf("Next review in %d day(s).", state.IntervalDays), nil)
	if len(remaining) == 0 {
		b.send(chatID, "✅ Session complete! お疲れさまでした。", nil)
		return
	}
	b.showCard(chatID, remaining[0])
}

// handleDocument turns an uploaded spreadsheet into a batch job
func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	doc := message.Document

	body, err := b.download(ctx, doc)
	if err != nil {
		log.Printf("Error downloading %s from user %d: %v", doc.FileName, userID, err)
		b.send(chatID, "❌ "+err.Error(), nil)
		return
	}

	provider := b.providerFor(ctx, userID)
	if p := strings.TrimSpace(message.Caption); p != "" {
		if parsed, err := ai.ParseProvider(p); err == nil {
			provider = parsed
		}
	}

	job, err := b.jobs.Submit(ctx, batch.SubmitRequest{
		Filename: doc.FileName,
		Body:     bytes.NewReader(body),
		Provider: string(provider),
		Owner:    userID,
	})
	if err != nil {
		b.send(chatID, "❌ Could not start the job: "+err.Error(), nil)
		return
	}

	b.send(chatID, fmt.Sprintf("📄 Job %s queued with %s.", job.ID, provider), jobButtons(job.ID))
}

func jobButtons(id string) [][]MenuButton {
	return [][]MenuButton{{
		{Text: "🔄 Status", CallbackData: "status:" + id},
		{Text: "⛔ Cancel", CallbackData: "cancel:" + id},
	}}
}

func (b *Bot) handleStatus(ctx context.Context, chatID, userID int64, id string) {
	if id == "" {
		jobs, err := b.jobs.List(ctx, userID, b.config.RecentJobs)
		if err != nil {
			b.send(chatID, "❌ Could not list your jobs.", nil)
			return
		}
		if len(jobs) == 0 {
			b.send(chatID, "You have no batch jobs yet. Send a .csv or .xlsx file to start one.", nil)
			return
		}
		var sb strings.Builder
		sb.WriteString("Your recent jobs:\n")
		for _, j := range jobs {
			sb.WriteString(fmt.Sprintf("• %s: %s (%d/%d)\n", j.ID, j.Status, j.ProcessedRows, j.TotalRows))
		}
		b.send(chatID, sb.String(), nil)
		return
	}

	p, err := b.ownJob(ctx, userID, id)
	if err != nil {
		if errors.Is(err, batch.ErrJobNotFound) {
			b.send(chatID, "Job not found.", nil)
			return
		}
		b.send(chatID, "❌ Could not load the job.", nil)
		return
	}
	b.send(chatID, formatProgress(p), progressButtons(p))
}

// ownJob loads a job's progress. Jobs owned by someone else are reported as
// not found.
func (b *Bot) ownJob(ctx context.Context, userID int64, id string) (batch.Progress, error) {
	p, err := b.jobs.Status(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Owner != userID {
		return batch.Progress{}, fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	return p, nil
}

func formatProgress(p batch.Progress) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job %s\nStatus: %s\nProgress: %d/%d (%d%%)", p.ID, p.Status, p.Processed, p.Total, p.Percent))
	if p.Error != "" {
		sb.WriteString("\nError: " + p.Error)
	}
	if p.DownloadURL != "" {
		sb.WriteString("\nDownload: " + p.DownloadURL)
	}
	return sb.String()
}

func progressButtons(p batch.Progress) [][]MenuButton {
	if p.Status.IsTerminal() {
		return nil
	}
	row := []MenuButton{{Text: "🔄 Refresh", CallbackData: "status:" + p.ID}}
	if p.Cancelable {
		row = append(row, MenuButton{Text: "⛔ Cancel", CallbackData: "cancel:" + p.ID})
	}
	return [][]MenuButton{row}
}

func (b *Bot) handleCancel(ctx context.Context, chatID, userID int64, id string) {
	if id == "" {
		b.send(chatID, "Usage: /cancel <job id>", nil)
		return
	}
	if _, err := b.ownJob(ctx, userID, id); err != nil {
		if errors.Is(err, batch.ErrJobNotFound) {
			b.send(chatID, "Job not found.", nil)
			return
		}
		b.send(chatID, "❌ Could not cancel the job.", nil)
		return
	}
	ok, err := b.jobs.RequestCancel(ctx, id)
	switch {
	case errors.Is(err, batch.ErrJobNotFound):
		b.send(chatID, "Job not found.", nil)
	case err != nil:
		b.send(chatID, "❌ Could not cancel the job.", nil)
	case ok:
		b.send(chatID, "⛔ Cancel requested. The job stops after the current row.", nil)
	default:
		b.send(chatID, "This job has already finished or is being canceled.", nil)
	}
}

// handleCallbackQuery handles callback queries from buttons
func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		log.Printf("Error answering callback: %v", err)
	}

	kind, arg, _ := strings.Cut(callback.Data, ":")
	switch kind {
	case "review":
		b.startReview(ctx, chatID, userID)
	case "show":
		cardID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			log.Printf("Error parsing card ID %q: %v", arg, err)
			return
		}
		b.showAnswer(chatID, userID, cardID)
	case "grade":
		idStr, qStr, _ := strings.Cut(arg, ":")
		cardID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			log.Printf("Error parsing card ID %q: %v", idStr, err)
			return
		}
		q, err := strconv.Atoi(qStr)
		if err != nil {
			log.Printf("Error parsing quality %q: %v", qStr, err)
			return
		}
		b.gradeCard(ctx, chatID, userID, cardID, sr.Quality(q))
	case "status":
		b.handleStatus(ctx, chatID, userID, arg)
	case "cancel":
		b.handleCancel(ctx, chatID, userID, arg)
	default:
		log.Printf("Unknown callback data %q", callback.Data)
	}
}
