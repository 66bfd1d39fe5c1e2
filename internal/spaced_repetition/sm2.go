package spaced_repetition

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/kotoba/pkg/models"
)

// ErrInvalidQuality is returned when a review grade is outside 0..5
var ErrInvalidQuality = errors.New("spaced_repetition: invalid quality")

const (
	// DefaultEaseFactor is the ease assigned to a card on its first review
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor that keeps intervals from collapsing
	MinEaseFactor = 1.3

	// A card is mastered after this many successful reviews in a row
	// with an interval of at least MasteredIntervalDays
	MasteredRepetitions  = 5
	MasteredIntervalDays = 30
)

// SM2 implements the SuperMemo-2 algorithm for spaced repetition
type SM2 struct {
	// Grades at or above this value count as a successful recall
	PassThreshold int
	// Upper bound for a single interval in days
	MaxInterval int
}

// NewSM2 creates an SM2 with default settings
func NewSM2() *SM2 {
	return &SM2{
		PassThreshold: 3,
		MaxInterval:   36500,
	}
}

// Quality represents the self-reported quality of a recall
type Quality int

const (
	// Complete blackout, unable to recall
	QualityBlackout Quality = 0
	// Incorrect response but remembered upon seeing the correct answer
	QualityIncorrect Quality = 1
	// Incorrect response but the correct answer felt familiar
	QualityIncorrectFamiliar Quality = 2
	// Correct response but required significant effort
	QualityCorrectDifficult Quality = 3
	// Correct response after some hesitation
	QualityCorrectHesitation Quality = 4
	// Perfect response with no hesitation
	QualityPerfect Quality = 5
)

// Valid reports whether q is within 0..5
func (q Quality) Valid() bool {
	return q >= QualityBlackout && q <= QualityPerfect
}

// NewReviewState returns the state a card starts from before its first review
func NewReviewState(userID, cardID int64, now time.Time) models.ReviewState {
	return models.ReviewState{
		UserID:       userID,
		CardID:       cardID,
		EaseFactor:   DefaultEaseFactor,
		IntervalDays: 1,
		Repetitions:  0,
		NextReviewAt: now,
	}
}

// Update applies one review of the given quality and returns the new state.
// The input state is not modified.
func (sm *SM2) Update(state models.ReviewState, quality Quality, now time.Time) (models.ReviewState, error) {
	if !quality.Valid() {
		return state, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}

	next := state
	if next.EaseFactor < MinEaseFactor {
		next.EaseFactor = MinEaseFactor
	}
	if next.IntervalDays < 1 {
		next.IntervalDays = 1
	}

	if int(quality) >= sm.PassThreshold {
		switch next.Repetitions {
		case 0:
			next.IntervalDays = 1
		case 1:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(next.IntervalDays) * next.EaseFactor))
		}
		if sm.MaxInterval > 0 && next.IntervalDays > sm.MaxInterval {
			next.IntervalDays = sm.MaxInterval
		}
		next.Repetitions++
	} else {
		next.Repetitions = 0
		next.IntervalDays = 1
	}

	next.EaseFactor = nextEase(next.EaseFactor, quality)

	reviewed := now
	next.LastReviewedAt = &reviewed
	next.NextReviewAt = now.AddDate(0, 0, next.IntervalDays)

	return next, nil
}

func nextEase(ef float64, quality Quality) float64 {
	d := float64(5 - quality)
	ef += 0.1 - d*(0.08+d*0.02)
	if ef < MinEaseFactor {
		ef = MinEaseFactor
	}
	return ef
}

// IsDue reports whether the card should be reviewed at now
func IsDue(state models.ReviewState, now time.Time) bool {
	return !state.NextReviewAt.After(now)
}

// NextDue returns up to limit states due at now, ordered by priority:
// never-reviewed cards, then the hardest (lowest ease), then the most overdue.
func NextDue(states []models.ReviewState, now time.Time, limit int) []models.ReviewState {
	due := make([]models.ReviewState, 0, len(states))
	for _, s := range states {
		if IsDue(s, now) {
			due = append(due, s)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		newI, newJ := due[i].LastReviewedAt == nil, due[j].LastReviewedAt == nil
		if newI != newJ {
			return newI
		}
		if due[i].EaseFactor != due[j].EaseFactor {
			return due[i].EaseFactor < due[j].EaseFactor
		}
		return due[i].NextReviewAt.Before(due[j].NextReviewAt)
	})

	if limit > 0 && len(due) > limit {
		return due[:limit]
	}
	return due
}

// IsMastered determines if a card is considered learned:
// reviewed successfully at least 5 times in a row with an interval of a month or more.
func (sm *SM2) IsMastered(state models.ReviewState) bool {
	return state.Repetitions >= MasteredRepetitions && state.IntervalDays >= MasteredIntervalDays
}
