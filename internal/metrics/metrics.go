// Package metrics exposes Prometheus counters for reviews, batch jobs and LLM calls.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests and one-off CLI runs.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service records
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	rowsProcessed prometheus.Counter
	rowFailures   prometheus.Counter
	jobsRunning   prometheus.Gauge

	llmCalls    *prometheus.CounterVec
	llmRetries  *prometheus.CounterVec
	limiterWait *prometheus.HistogramVec

	reviews *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kotoba_batch_jobs_submitted_total",
			Help: "Total number of batch jobs submitted",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kotoba_batch_jobs_finished_total",
			Help: "Batch jobs that reached a terminal status",
		}, []string{"status"}),
		rowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kotoba_batch_rows_processed_total",
			Help: "Rows written to batch outputs",
		}),
		rowFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kotoba_batch_row_failures_total",
			Help: "Rows annotated with an error instead of feedback",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kotoba_batch_jobs_running",
			Help: "Batch jobs currently being processed",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kotoba_llm_calls_total",
			Help: "LLM provider calls by outcome",
		}, []string{"provider", "outcome"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kotoba_llm_retries_total",
			Help: "LLM calls retried after a transient error",
		}, []string{"provider"}),
		limiterWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kotoba_ratelimit_wait_seconds",
			Help:    "Time spent waiting on the per-model rate limiter",
			Buckets: []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"key"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kotoba_reviews_total",
			Help: "Flashcard reviews by outcome",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsFinished,
		c.rowsProcessed,
		c.rowFailures,
		c.jobsRunning,
		c.llmCalls,
		c.llmRetries,
		c.limiterWait,
		c.reviews,
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordJobSubmitted counts a new batch job
func (c *Collector) RecordJobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// RecordJobStarted marks a job as running
func (c *Collector) RecordJobStarted() {
	if c == nil {
		return
	}
	c.jobsRunning.Inc()
}

// RecordJobFinished counts a job reaching status and clears it from the running gauge
func (c *Collector) RecordJobFinished(status string) {
	if c == nil {
		return
	}
	c.jobsRunning.Dec()
	c.jobsFinished.WithLabelValues(status).Inc()
}

// RecordRow counts a processed row
func (c *Collector) RecordRow(failed bool) {
	if c == nil {
		return
	}
	c.rowsProcessed.Inc()
	if failed {
		c.rowFailures.Inc()
	}
}

// RecordLLMCall counts a provider call by outcome (ok, transient, fatal)
func (c *Collector) RecordLLMCall(provider, outcome string) {
	if c == nil {
		return
	}
	c.llmCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordLLMRetry counts a backoff retry
func (c *Collector) RecordLLMRetry(provider string) {
	if c == nil {
		return
	}
	c.llmRetries.WithLabelValues(provider).Inc()
}

// ObserveRateLimitWait records time spent in the limiter
func (c *Collector) ObserveRateLimitWait(key string, d time.Duration) {
	if c == nil {
		return
	}
	c.limiterWait.WithLabelValues(key).Observe(d.Seconds())
}

// RecordReview counts a flashcard review
func (c *Collector) RecordReview(passed bool) {
	if c == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	c.reviews.WithLabelValues(outcome).Inc()
}

// Handler serves the collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on port until the listener fails
func (c *Collector) StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
