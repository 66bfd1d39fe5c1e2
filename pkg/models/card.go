package models

import "time"

// Card represents a Japanese flashcard
type Card struct {
	ID        int64     `json:"id" db:"id"`
	Front     string    `json:"front" db:"front"`
	Back      string    `json:"back" db:"back"`
	Reading   string    `json:"reading" db:"reading"`       // Optional: kana reading of the front
	JLPTLevel string    `json:"jlpt_level" db:"jlpt_level"` // N5..N1
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
