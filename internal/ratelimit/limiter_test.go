package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the limiter sleeps
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func newFakeLimiter(window time.Duration, limits map[string]int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(window, limits)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestKey(t *testing.T) {
	assert.Equal(t, "gemini:gemini-2.5-flash-lite", Key("gemini", "gemini-2.5-flash-lite"))
	assert.Equal(t, "openai", Key("openai", ""))
}

func TestWaitUnlimitedKeyNeverBlocks(t *testing.T) {
	l, _ := newFakeLimiter(time.Minute, nil)
	for i := 0; i < 100; i++ {
		waited, err := l.Wait(context.Background(), "openai:gpt-4o-mini")
		require.NoError(t, err)
		assert.Zero(t, waited)
	}
}

func TestWaitBlocksCallOverLimit(t *testing.T) {
	const window = 60 * time.Second
	l, clock := newFakeLimiter(window, map[string]int{"gemini:flash": 3})
	ctx := context.Background()

	first := clock.Now()
	for i := 0; i < 3; i++ {
		waited, err := l.Wait(ctx, "gemini:flash")
		require.NoError(t, err)
		assert.Zero(t, waited)
		clock.Advance(5 * time.Second)
	}

	elapsed := clock.Now().Sub(first)
	waited, err := l.Wait(ctx, "gemini:flash")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, waited, window-elapsed)
	assert.Less(t, waited, window-elapsed+time.Second)
}

func TestWaitFallsBackToProviderLimit(t *testing.T) {
	l, _ := newFakeLimiter(time.Minute, map[string]int{"bedrock": 1, "bedrock:nova": 2})

	assert.Equal(t, 2, l.Limit("bedrock:nova"))
	assert.Equal(t, 1, l.Limit("bedrock:titan"))
	assert.Equal(t, 0, l.Limit("openai:gpt-4o-mini"))

	ctx := context.Background()
	_, err := l.Wait(ctx, "bedrock:titan")
	require.NoError(t, err)
	waited, err := l.Wait(ctx, "bedrock:titan")
	require.NoError(t, err)
	assert.Greater(t, waited, time.Duration(0))
}

func TestWaitKeysAreIndependent(t *testing.T) {
	l, _ := newFakeLimiter(time.Minute, map[string]int{"a": 1, "b": 1})
	ctx := context.Background()

	_, err := l.Wait(ctx, "a")
	require.NoError(t, err)
	waited, err := l.Wait(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, waited)
}

func TestWaitOldCallsLeaveWindow(t *testing.T) {
	l, clock := newFakeLimiter(time.Minute, map[string]int{"k": 2})
	ctx := context.Background()

	_, _ = l.Wait(ctx, "k")
	_, _ = l.Wait(ctx, "k")
	clock.Advance(61 * time.Second)

	waited, err := l.Wait(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, waited)
}

func TestSetLimit(t *testing.T) {
	l, _ := newFakeLimiter(time.Minute, nil)
	l.SetLimit("k", 5)
	assert.Equal(t, 5, l.Limit("k"))
	l.SetLimit("k", 0)
	assert.Equal(t, 0, l.Limit("k"))
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(time.Hour, map[string]int{"k": 1})
	_, err := l.Wait(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitRealClockConcurrent(t *testing.T) {
	const window = 200 * time.Millisecond
	l := New(window, map[string]int{"k": 2})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Wait(context.Background(), "k")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), window)
}
