package database

import (
	"context"
	"fmt"
	"time"

	sr "github.com/example/kotoba/internal/spaced_repetition"
	"github.com/example/kotoba/pkg/models"
	"github.com/jmoiron/sqlx"
)

// StatisticsRepository aggregates review states into per-level progress
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository creates a new repository instance
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// GetByUser returns one row per JLPT level the user has studied
func (r *StatisticsRepository) GetByUser(ctx context.Context, userID int64, now time.Time) ([]models.Statistics, error) {
	query := `
		SELECT s.user_id, c.jlpt_level AS level,
			COUNT(*) AS studied,
			SUM(CASE WHEN s.next_review_at <= ? THEN 1 ELSE 0 END) AS due,
			SUM(CASE WHEN s.repetitions >= ? AND s.interval_days >= ? THEN 1 ELSE 0 END) AS mastered,
			AVG(s.ease_factor) AS average_ease
		FROM review_states s
		JOIN cards c ON c.id = s.card_id
		WHERE s.user_id = ?
		GROUP BY s.user_id, c.jlpt_level
		ORDER BY c.jlpt_level
	`
	stats := []models.Statistics{}
	err := r.db.SelectContext(ctx, &stats, r.db.Rebind(query),
		now.UTC(), sr.MasteredRepetitions, sr.MasteredIntervalDays, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return stats, nil
}
