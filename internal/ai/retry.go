package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/kotoba/internal/metrics"
	"github.com/example/kotoba/internal/ratelimit"
)

// FeedbackSource is what the retrier calls; *Dispatcher satisfies it
type FeedbackSource interface {
	GetFeedback(ctx context.Context, text string, p Provider) (string, error)
	Model(p Provider) string
}

// Waiter blocks until a call under key is allowed; *ratelimit.Limiter satisfies it
type Waiter interface {
	Wait(ctx context.Context, key string) (time.Duration, error)
}

// RetryConfig controls CallWithRetry
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // backoff is BaseDelay * 2^attempt
	CallTimeout time.Duration // bound on a single provider call; zero disables it
}

// DefaultRetryConfig returns the default retry settings
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// Retrier wraps rate-limited provider calls with exponential backoff
type Retrier struct {
	source  FeedbackSource
	limiter Waiter
	cfg     RetryConfig
	metrics *metrics.Collector
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier. limiter and m may be nil.
func NewRetrier(source FeedbackSource, limiter Waiter, cfg RetryConfig, m *metrics.Collector) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{
		source:  source,
		limiter: limiter,
		cfg:     cfg,
		metrics: m,
		sleep:   sleepContext,
	}
}

// CallWithRetry returns the provider's raw response for text. Transient
// failures are retried up to MaxAttempts; fatal ones return immediately.
func (r *Retrier) CallWithRetry(ctx context.Context, text string, p Provider) (string, error) {
	key := ratelimit.Key(string(p), r.source.Model(p))

	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			waited, err := r.limiter.Wait(ctx, key)
			if err != nil {
				return "", fmt.Errorf("rate limiter: %w", err)
			}
			r.metrics.ObserveRateLimitWait(key, waited)
		}

		raw, err := r.call(ctx, text, p)
		if err == nil {
			r.metrics.RecordLLMCall(string(p), "ok")
			return raw, nil
		}
		lastErr = err

		if Classify(err) != KindTransient {
			r.metrics.RecordLLMCall(string(p), "fatal")
			return "", err
		}
		r.metrics.RecordLLMCall(string(p), "transient")

		if attempt == r.cfg.MaxAttempts-1 {
			break
		}
		delay := r.cfg.BaseDelay * time.Duration(1<<uint(attempt))
		log.Printf("ai: %s transient error (attempt %d/%d), retrying in %s: %v", p, attempt+1, r.cfg.MaxAttempts, delay, err)
		r.metrics.RecordLLMRetry(string(p))
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("giving up after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

func (r *Retrier) call(ctx context.Context, text string, p Provider) (string, error) {
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}
	return r.source.GetFeedback(ctx, text, p)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
