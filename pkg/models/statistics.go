package models

// Statistics summarizes a user's progress on the cards of one JLPT level.
// Level is empty for cards without a level.
type Statistics struct {
	UserID      int64   `json:"user_id" db:"user_id"`
	Level       string  `json:"level" db:"level"`
	Studied     int     `json:"studied" db:"studied"`
	Due         int     `json:"due" db:"due"`
	Mastered    int     `json:"mastered" db:"mastered"`
	AverageEase float64 `json:"average_ease" db:"average_ease"`
}
