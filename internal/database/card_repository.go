package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/kotoba/internal/excel"
	"github.com/example/kotoba/pkg/models"
	"github.com/jmoiron/sqlx"
)

// CardRepository handles database operations for flashcards
type CardRepository struct {
	db *sqlx.DB
}

// NewCardRepository creates a new repository instance
func NewCardRepository(db *sqlx.DB) *CardRepository {
	return &CardRepository{db: db}
}

// Create inserts a new card and fills in its ID
func (r *CardRepository) Create(ctx context.Context, card *models.Card) error {
	return r.create(ctx, r.db, card)
}

func (r *CardRepository) create(ctx context.Context, ext sqlx.ExtContext, card *models.Card) error {
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}

	if isPostgres(r.db) {
		query := `
			INSERT INTO cards (front, back, reading, jlpt_level, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		return ext.QueryRowxContext(ctx, query,
			card.Front, card.Back, card.Reading, card.JLPTLevel, card.CreatedAt,
		).Scan(&card.ID)
	}

	result, err := ext.ExecContext(ctx, `
		INSERT INTO cards (front, back, reading, jlpt_level, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, card.Front, card.Back, card.Reading, card.JLPTLevel, card.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	card.ID = id
	return nil
}

// GetByID returns a card by ID
func (r *CardRepository) GetByID(ctx context.Context, id int64) (*models.Card, error) {
	var card models.Card
	err := r.db.GetContext(ctx, &card, r.db.Rebind("SELECT * FROM cards WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card by ID: %w", err)
	}
	return &card, nil
}

// GetByFront returns the card with the given front text
func (r *CardRepository) GetByFront(ctx context.Context, front string) (*models.Card, error) {
	var card models.Card
	err := r.db.GetContext(ctx, &card, r.db.Rebind("SELECT * FROM cards WHERE front = ?"), front)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %q: %w", front, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card by front: %w", err)
	}
	return &card, nil
}

// List returns cards ordered by ID, optionally restricted to one JLPT level
func (r *CardRepository) List(ctx context.Context, level string, limit int) ([]models.Card, error) {
	query := "SELECT * FROM cards"
	args := []interface{}{}
	if level != "" {
		query += " WHERE jlpt_level = ?"
		args = append(args, level)
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	cards := []models.Card{}
	if err := r.db.SelectContext(ctx, &cards, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// ListUnseen returns cards the user has never reviewed
func (r *CardRepository) ListUnseen(ctx context.Context, userID int64, limit int) ([]models.Card, error) {
	query := `
		SELECT c.* FROM cards c
		WHERE NOT EXISTS (
			SELECT 1 FROM review_states rs WHERE rs.card_id = c.id AND rs.user_id = ?
		)
		ORDER BY c.id
		LIMIT ?
	`
	cards := []models.Card{}
	if err := r.db.SelectContext(ctx, &cards, r.db.Rebind(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list unseen cards: %w", err)
	}
	return cards, nil
}

// ImportTable parses a deck and inserts every card whose front is not already stored.
// It returns the parse result with Cards narrowed to the inserted ones.
func (r *CardRepository) ImportTable(ctx context.Context, rows [][]string, config excel.ImportConfig) (*excel.ImportResult, error) {
	result := excel.ImportCards(rows, config)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := make([]models.Card, 0, len(result.Cards))
	for _, card := range result.Cards {
		var exists int
		err := tx.GetContext(ctx, &exists, tx.Rebind("SELECT COUNT(*) FROM cards WHERE front = ?"), card.Front)
		if err != nil {
			return nil, fmt.Errorf("failed to check card %q: %w", card.Front, err)
		}
		if exists > 0 {
			result.Skipped++
			continue
		}
		if err := r.create(ctx, tx, &card); err != nil {
			return nil, err
		}
		inserted = append(inserted, card)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	result.Cards = inserted
	log.Printf("Imported %d cards (%d skipped)", len(inserted), result.Skipped)
	return result, nil
}
