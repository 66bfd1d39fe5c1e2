// Package review applies flashcard grades and picks the next cards to study.
package review

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/kotoba/internal/database"
	"github.com/example/kotoba/internal/metrics"
	sr "github.com/example/kotoba/internal/spaced_repetition"
	"github.com/example/kotoba/pkg/models"
)

// StateStore loads and saves review states; *database.ReviewStateRepository satisfies it
type StateStore interface {
	Get(ctx context.Context, userID, cardID int64) (*models.ReviewState, error)
	Upsert(ctx context.Context, state *models.ReviewState) error
	ListDue(ctx context.Context, userID int64, now time.Time, limit int) ([]models.ReviewState, error)
}

// CardStore looks up card content; *database.CardRepository satisfies it
type CardStore interface {
	GetByID(ctx context.Context, id int64) (*models.Card, error)
	ListUnseen(ctx context.Context, userID int64, limit int) ([]models.Card, error)
}

// StatisticsStore aggregates progress; *database.StatisticsRepository satisfies it
type StatisticsStore interface {
	GetByUser(ctx context.Context, userID int64, now time.Time) ([]models.Statistics, error)
}

// DueCard is a card ready for study together with its schedule
type DueCard struct {
	Card  models.Card
	State models.ReviewState
	New   bool
}

// Service applies reviews with the SM-2 scheduler
type Service struct {
	states  StateStore
	cards   CardStore
	stats   StatisticsStore
	sm2     *sr.SM2
	metrics *metrics.Collector
	now     func() time.Time
}

// NewService creates a review service. stats and m may be nil.
func NewService(states StateStore, cards CardStore, stats StatisticsStore, m *metrics.Collector) *Service {
	return &Service{
		states:  states,
		cards:   cards,
		stats:   stats,
		sm2:     sr.NewSM2(),
		metrics: m,
		now:     time.Now,
	}
}

// Review records a grade for the user's card and returns the new schedule.
// The state is created on the card's first review.
func (s *Service) Review(ctx context.Context, userID, cardID int64, quality sr.Quality) (models.ReviewState, error) {
	now := s.now().UTC()
	if !quality.Valid() {
		return models.ReviewState{}, fmt.Errorf("%w: %d", sr.ErrInvalidQuality, quality)
	}
	if _, err := s.cards.GetByID(ctx, cardID); err != nil {
		return models.ReviewState{}, err
	}

	var state models.ReviewState
	current, err := s.states.Get(ctx, userID, cardID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		state = sr.NewReviewState(userID, cardID, now)
	case err != nil:
		return models.ReviewState{}, err
	default:
		state = *current
	}

	next, err := s.sm2.Update(state, quality, now)
	if err != nil {
		return models.ReviewState{}, err
	}
	if err := s.states.Upsert(ctx, &next); err != nil {
		return models.ReviewState{}, err
	}

	s.metrics.RecordReview(int(quality) >= s.sm2.PassThreshold)
	log.Printf("User %d reviewed card %d with quality %d: next in %d days", userID, cardID, quality, next.IntervalDays)
	return next, nil
}

// NextCards returns up to limit cards for the user: never-seen cards first,
// then due cards with the lowest ease, then the most overdue.
func (s *Service) NextCards(ctx context.Context, userID int64, limit int) ([]DueCard, error) {
	if limit <= 0 {
		limit = 10
	}
	now := s.now().UTC()

	due, err := s.states.ListDue(ctx, userID, now, 0)
	if err != nil {
		return nil, err
	}
	unseen, err := s.cards.ListUnseen(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	content := make(map[int64]models.Card, len(unseen))
	candidates := make([]models.ReviewState, 0, len(due)+len(unseen))
	for _, c := range unseen {
		content[c.ID] = c
		candidates = append(candidates, sr.NewReviewState(userID, c.ID, now))
	}
	candidates = append(candidates, due...)

	picked := sr.NextDue(candidates, now, limit)
	out := make([]DueCard, 0, len(picked))
	for _, st := range picked {
		card, ok := content[st.CardID]
		isNew := ok
		if !ok {
			c, err := s.cards.GetByID(ctx, st.CardID)
			if err != nil {
				return nil, err
			}
			card = *c
		}
		out = append(out, DueCard{Card: card, State: st, New: isNew})
	}
	return out, nil
}

// Statistics returns the user's progress per JLPT level
func (s *Service) Statistics(ctx context.Context, userID int64) ([]models.Statistics, error) {
	if s.stats == nil {
		return nil, nil
	}
	return s.stats.GetByUser(ctx, userID, s.now().UTC())
}
