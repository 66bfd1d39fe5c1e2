package models

import "time"

// ReviewState tracks a user's progress with a specific card using the SM-2 algorithm
type ReviewState struct {
	UserID         int64      `json:"user_id" db:"user_id"`
	CardID         int64      `json:"card_id" db:"card_id"`
	EaseFactor     float64    `json:"ease_factor" db:"ease_factor"`     // SM-2 EF parameter, never below 1.3
	IntervalDays   int        `json:"interval_days" db:"interval_days"` // Current interval in days
	Repetitions    int        `json:"repetitions" db:"repetitions"`     // Consecutive successful reviews
	NextReviewAt   time.Time  `json:"next_review_at" db:"next_review_at"`
	LastReviewedAt *time.Time `json:"last_reviewed_at" db:"last_reviewed_at"`
}
