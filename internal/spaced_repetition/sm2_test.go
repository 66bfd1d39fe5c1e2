package spaced_repetition

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/example/kotoba/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func TestUpdateFirstPerfectReview(t *testing.T) {
	sm := NewSM2()
	state := models.ReviewState{EaseFactor: 2.5, IntervalDays: 1, Repetitions: 0}

	got, err := sm.Update(state, QualityPerfect, t0)
	require.NoError(t, err)

	assert.InDelta(t, 2.6, got.EaseFactor, 1e-9)
	assert.Equal(t, 1, got.IntervalDays)
	assert.Equal(t, 1, got.Repetitions)
	require.NotNil(t, got.LastReviewedAt)
	assert.Equal(t, t0, *got.LastReviewedAt)
	assert.Equal(t, t0.AddDate(0, 0, 1), got.NextReviewAt)
}

func TestUpdateSecondPassGivesSixDays(t *testing.T) {
	sm := NewSM2()
	for q := QualityCorrectDifficult; q <= QualityPerfect; q++ {
		state := models.ReviewState{EaseFactor: 2.5, IntervalDays: 1, Repetitions: 1}
		got, err := sm.Update(state, q, t0)
		require.NoError(t, err)
		assert.Equal(t, 6, got.IntervalDays, "quality %d", q)
		assert.Equal(t, 2, got.Repetitions)
	}
}

func TestUpdatePassFromZeroGivesOneDay(t *testing.T) {
	sm := NewSM2()
	for q := QualityCorrectDifficult; q <= QualityPerfect; q++ {
		state := models.ReviewState{EaseFactor: 1.7, IntervalDays: 40, Repetitions: 0}
		got, err := sm.Update(state, q, t0)
		require.NoError(t, err)
		assert.Equal(t, 1, got.IntervalDays, "quality %d", q)
	}
}

func TestUpdateGrowsByEaseFactor(t *testing.T) {
	sm := NewSM2()
	state := models.ReviewState{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2}

	got, err := sm.Update(state, QualityCorrectHesitation, t0)
	require.NoError(t, err)

	assert.Equal(t, 15, got.IntervalDays)
	assert.Equal(t, 3, got.Repetitions)
	assert.InDelta(t, 2.5, got.EaseFactor, 1e-9)
	assert.Equal(t, t0.AddDate(0, 0, 15), got.NextReviewAt)
}

func TestUpdateFailureResets(t *testing.T) {
	sm := NewSM2()
	for q := QualityBlackout; q < QualityCorrectDifficult; q++ {
		state := models.ReviewState{EaseFactor: 2.8, IntervalDays: 120, Repetitions: 7}
		got, err := sm.Update(state, q, t0)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Repetitions, "quality %d", q)
		assert.Equal(t, 1, got.IntervalDays, "quality %d", q)
		assert.Less(t, got.EaseFactor, 2.8)
	}
}

func TestUpdateRejectsInvalidQuality(t *testing.T) {
	sm := NewSM2()
	state := NewReviewState(1, 1, t0)

	for _, q := range []Quality{-1, 6, 42} {
		got, err := sm.Update(state, q, t0)
		assert.True(t, errors.Is(err, ErrInvalidQuality))
		assert.Equal(t, state, got)
	}
}

func TestEaseFactorNeverBelowFloor(t *testing.T) {
	sm := NewSM2()
	rng := rand.New(rand.NewSource(7))
	state := NewReviewState(1, 1, t0)
	now := t0

	for i := 0; i < 500; i++ {
		var err error
		state, err = sm.Update(state, Quality(rng.Intn(6)), now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, state.EaseFactor, MinEaseFactor)
		assert.GreaterOrEqual(t, state.IntervalDays, 1)
		now = state.NextReviewAt
	}

	for i := 0; i < 20; i++ {
		state, _ = sm.Update(state, QualityBlackout, now)
	}
	assert.Equal(t, MinEaseFactor, state.EaseFactor)
}

func TestUpdateCapsInterval(t *testing.T) {
	sm := &SM2{PassThreshold: 3, MaxInterval: 30}
	state := models.ReviewState{EaseFactor: 2.5, IntervalDays: 20, Repetitions: 4}

	got, err := sm.Update(state, QualityPerfect, t0)
	require.NoError(t, err)
	assert.Equal(t, 30, got.IntervalDays)
}

func TestIsDue(t *testing.T) {
	state := models.ReviewState{NextReviewAt: t0}
	assert.True(t, IsDue(state, t0))
	assert.True(t, IsDue(state, t0.Add(time.Second)))
	assert.False(t, IsDue(state, t0.Add(-time.Second)))
}

func TestNextDueOrdering(t *testing.T) {
	reviewed := t0.Add(-48 * time.Hour)
	states := []models.ReviewState{
		{CardID: 1, EaseFactor: 2.5, NextReviewAt: t0.Add(-time.Hour), LastReviewedAt: &reviewed},
		{CardID: 2, EaseFactor: 1.5, NextReviewAt: t0.Add(-time.Minute), LastReviewedAt: &reviewed},
		{CardID: 3, EaseFactor: 2.5, NextReviewAt: t0},
		{CardID: 4, EaseFactor: 1.3, NextReviewAt: t0.Add(time.Hour), LastReviewedAt: &reviewed},
		{CardID: 5, EaseFactor: 2.5, NextReviewAt: t0.Add(-2 * time.Hour), LastReviewedAt: &reviewed},
	}

	got := NextDue(states, t0, 0)
	ids := make([]int64, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.CardID)
	}
	assert.Equal(t, []int64{3, 2, 5, 1}, ids)

	assert.Len(t, NextDue(states, t0, 2), 2)
}

func TestIsMastered(t *testing.T) {
	sm := NewSM2()
	assert.True(t, sm.IsMastered(models.ReviewState{Repetitions: 5, IntervalDays: 30}))
	assert.False(t, sm.IsMastered(models.ReviewState{Repetitions: 4, IntervalDays: 90}))
	assert.False(t, sm.IsMastered(models.ReviewState{Repetitions: 8, IntervalDays: 29}))
}
