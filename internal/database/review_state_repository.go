package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/kotoba/pkg/models"
	"github.com/jmoiron/sqlx"
)

// ReviewStateRepository stores per-user scheduling state for cards
type ReviewStateRepository struct {
	db *sqlx.DB
}

// NewReviewStateRepository creates a new repository instance
func NewReviewStateRepository(db *sqlx.DB) *ReviewStateRepository {
	return &ReviewStateRepository{db: db}
}

// Get returns the state for a user and card, or ErrNotFound before the first review
func (r *ReviewStateRepository) Get(ctx context.Context, userID, cardID int64) (*models.ReviewState, error) {
	var state models.ReviewState
	err := r.db.GetContext(ctx, &state,
		r.db.Rebind("SELECT * FROM review_states WHERE user_id = ? AND card_id = ?"), userID, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review state %d/%d: %w", userID, cardID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review state: %w", err)
	}
	return &state, nil
}

// Upsert creates or replaces the state for (UserID, CardID)
func (r *ReviewStateRepository) Upsert(ctx context.Context, state *models.ReviewState) error {
	var lastReviewed interface{}
	if state.LastReviewedAt != nil {
		lastReviewed = state.LastReviewedAt.UTC()
	}

	query := `
		INSERT INTO review_states (
			user_id, card_id, ease_factor, interval_days, repetitions, next_review_at, last_reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, card_id) DO UPDATE SET
			ease_factor = excluded.ease_factor,
			interval_days = excluded.interval_days,
			repetitions = excluded.repetitions,
			next_review_at = excluded.next_review_at,
			last_reviewed_at = excluded.last_reviewed_at
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		state.UserID,
		state.CardID,
		state.EaseFactor,
		state.IntervalDays,
		state.Repetitions,
		state.NextReviewAt.UTC(),
		lastReviewed,
	)
	if err != nil {
		return fmt.Errorf("failed to save review state: %w", err)
	}
	return nil
}

// ListDue returns the user's states due at now, most overdue first
func (r *ReviewStateRepository) ListDue(ctx context.Context, userID int64, now time.Time, limit int) ([]models.ReviewState, error) {
	query := `
		SELECT * FROM review_states
		WHERE user_id = ? AND next_review_at <= ?
		ORDER BY next_review_at ASC
	`
	args := []interface{}{userID, now.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	states := []models.ReviewState{}
	if err := r.db.SelectContext(ctx, &states, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get due cards: %w", err)
	}
	return states, nil
}

// CountDue returns how many of the user's cards are due at now
func (r *ReviewStateRepository) CountDue(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		r.db.Rebind("SELECT COUNT(*) FROM review_states WHERE user_id = ? AND next_review_at <= ?"),
		userID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards: %w", err)
	}
	return count, nil
}

// UsersWithDue returns every user with at least one due card who has not
// turned reminders off
func (r *ReviewStateRepository) UsersWithDue(ctx context.Context, now time.Time) ([]DueCount, error) {
	query := `
		SELECT s.user_id, COUNT(*) AS due FROM review_states s
		LEFT JOIN user_configs c ON c.user_id = s.user_id
		WHERE s.next_review_at <= ? AND (c.reminders_enabled IS NULL OR c.reminders_enabled = ?)
		GROUP BY s.user_id
		ORDER BY s.user_id
	`
	counts := []DueCount{}
	if err := r.db.SelectContext(ctx, &counts, r.db.Rebind(query), now.UTC(), true); err != nil {
		return nil, fmt.Errorf("failed to get users with due cards: %w", err)
	}
	return counts, nil
}
