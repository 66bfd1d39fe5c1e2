package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure for retry decisions
type ErrorKind int

const (
	// KindFatal failures are not retried
	KindFatal ErrorKind = iota
	// KindTransient failures (rate limits, quota, throttling) are retried with backoff
	KindTransient
)

func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

// ProviderError is a failure reported by an LLM provider
type ProviderError struct {
	Provider Provider
	Kind     ErrorKind
	Code     string // HTTP status or provider error code
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s error (%s): %v", e.Provider, e.Kind, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Message is the user-facing description stored in row notes
func (e *ProviderError) Message() string {
	switch e.Code {
	case "AccessDeniedException", "401", "403":
		return fmt.Sprintf("Access denied to %s model. Check model access and credentials.", e.Provider)
	case "ValidationException", "400":
		return fmt.Sprintf("%s rejected the request: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
}

// transientMarkers are substrings that mark untyped errors as retryable
var transientMarkers = []string{
	"rate limit", "ratelimit", "rate_limit",
	"quota", "throttl", "throughput", "429",
	"resource_exhausted", "resource exhausted", "too many requests",
}

// Classify returns the kind of err. Typed provider errors carry their own
// kind; anything else is sniffed for rate-limit wording.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	// A call that ran out its per-call timeout may succeed on the next attempt
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return KindTransient
		}
	}
	return KindFatal
}

// kindForStatus maps an HTTP status from a provider to an error kind.
// Rate limits and server-side failures are retried; other 4xx are not.
func kindForStatus(status int) ErrorKind {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return KindTransient
	}
	return KindFatal
}
