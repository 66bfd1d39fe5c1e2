// Package ratelimit throttles outbound LLM calls per provider and model.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWindow is the span a requests-per-minute ceiling is measured over
	DefaultWindow = time.Minute
	// epsilon pads each sleep so the oldest call has surely left the window
	epsilon = 10 * time.Millisecond
)

// Key builds the limiter key for a provider and model
func Key(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + ":" + model
}

// Limiter keeps a fixed window of recent call timestamps per key.
// It is safe for concurrent use; callers sharing a key are serialized
// around the timestamp queue but never sleep while holding the lock.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limits map[string]int
	calls  map[string][]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter. limits maps either a full "provider:model" key
// or a bare provider name to the maximum number of calls per window.
func New(window time.Duration, limits map[string]int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		window: window,
		limits: make(map[string]int, len(limits)),
		calls:  make(map[string][]time.Time),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for k, v := range limits {
		l.limits[k] = v
	}
	return l
}

// SetLimit changes the ceiling for key; zero or negative removes it
func (l *Limiter) SetLimit(key string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		delete(l.limits, key)
		return
	}
	l.limits[key] = n
}

// Limit returns the ceiling that applies to key, or 0 when unthrottled
func (l *Limiter) Limit(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitFor(key)
}

func (l *Limiter) limitFor(key string) int {
	if n, ok := l.limits[key]; ok {
		return n
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		return l.limits[key[:i]]
	}
	return 0
}

// Wait blocks until a call under key fits in the window, then records it.
// It returns how long the caller was suspended.
func (l *Limiter) Wait(ctx context.Context, key string) (time.Duration, error) {
	var waited time.Duration
	for {
		l.mu.Lock()
		limit := l.limitFor(key)
		if limit <= 0 {
			l.mu.Unlock()
			return waited, nil
		}

		now := l.now()
		queue := l.prune(key, now)
		if len(queue) < limit {
			l.calls[key] = append(queue, now)
			l.mu.Unlock()
			return waited, nil
		}

		d := l.window - now.Sub(queue[0]) + epsilon
		l.mu.Unlock()

		if err := l.sleep(ctx, d); err != nil {
			return waited, err
		}
		waited += d
	}
}

// prune drops timestamps that have left the window. Caller holds mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	queue := l.calls[key]
	i := 0
	for i < len(queue) && now.Sub(queue[i]) >= l.window {
		i++
	}
	if i > 0 {
		queue = append(queue[:0], queue[i:]...)
		l.calls[key] = queue
	}
	return queue
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
