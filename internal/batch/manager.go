package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	"github.com/example/kotoba/internal/ai"
	"github.com/example/kotoba/internal/excel"
	"github.com/example/kotoba/internal/metrics"
	"github.com/example/kotoba/internal/storage"
	"github.com/example/kotoba/internal/worker"
	"github.com/example/kotoba/pkg/models"
	"github.com/google/uuid"
)

// ErrProviderNotConfigured is returned when a job asks for a provider with no client
var ErrProviderNotConfigured = errors.New("provider is not configured")

// SubmitRequest describes an uploaded sheet
type SubmitRequest struct {
	Filename string
	Body     io.Reader
	Provider string
	Owner    int64
}

// Progress is what status polling returns
type Progress struct {
	ID          string           `json:"id"`
	Owner       int64            `json:"owner"`
	Status      models.JobStatus `json:"status"`
	Processed   int              `json:"processed"`
	Total       int              `json:"total"`
	Percent     int              `json:"percent"`
	Error       string           `json:"error,omitempty"`
	Cancelable  bool             `json:"cancelable"`
	DownloadURL string           `json:"download_url,omitempty"`
}

// Manager accepts jobs and hands them to the worker pool
type Manager struct {
	store     JobStore
	files     storage.Store
	pool      *worker.Pool
	processor *Processor
	providers map[ai.Provider]bool
	metrics   *metrics.Collector
	newID     func() string

	mu     sync.Mutex
	queued map[string]bool
}

// NewManager creates a manager. providers restricts which providers jobs may
// use; an empty list allows every known provider.
func NewManager(store JobStore, files storage.Store, pool *worker.Pool, processor *Processor, providers []ai.Provider, m *metrics.Collector) *Manager {
	allowed := make(map[ai.Provider]bool, len(providers))
	for _, p := range providers {
		allowed[p] = true
	}
	return &Manager{
		store:     store,
		files:     files,
		pool:      pool,
		processor: processor,
		providers: allowed,
		metrics:   m,
		newID:     uuid.NewString,
		queued:    make(map[string]bool),
	}
}

// Submit stores the upload, creates a pending job and queues it. It never
// waits for a queue slot: when the queue is full the job stays pending and
// Requeue picks it up later.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.BatchJob, error) {
	provider, err := ai.ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	if len(m.providers) > 0 && !m.providers[provider] {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	format, err := excel.DetectFormat(req.Filename)
	if err != nil {
		return nil, err
	}

	id := m.newID()
	name := filepath.Base(req.Filename)
	ref, err := m.files.Put(ctx, fmt.Sprintf("batch/%s/%s", id, name), req.Body, format.ContentType())
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	job := &models.BatchJob{
		ID:       id,
		Owner:    req.Owner,
		Provider: string(provider),
		InputRef: ref,
		Status:   models.JobPending,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}
	m.metrics.RecordJobSubmitted()

	switch err := m.enqueue(id); {
	case errors.Is(err, worker.ErrQueueFull):
		log.Printf("Batch job %s submitted by %d (%s, %s); queue is full, job stays pending", id, req.Owner, provider, name)
	case err != nil:
		if _, terr := m.store.Transition(context.Background(), id, models.JobError, err.Error()); terr != nil {
			log.Printf("Batch job %s: failed to record queue error: %v", id, terr)
		}
		return nil, err
	default:
		log.Printf("Batch job %s submitted by %d (%s, %s)", id, req.Owner, provider, name)
	}
	return job, nil
}

// enqueue hands the job to the pool without blocking. A job already waiting
// in the queue is not added twice.
func (m *Manager) enqueue(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queued[id] {
		return nil
	}

	err := m.pool.TrySubmit(func(ctx context.Context) {
		defer m.dequeue(id)
		if err := m.processor.Run(ctx, id); err != nil {
			log.Printf("Batch job %s: %v", id, err)
		}
	})
	if errors.Is(err, worker.ErrQueueFull) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to queue job: %w", err)
	}
	m.queued[id] = true
	return nil
}

func (m *Manager) dequeue(id string) {
	m.mu.Lock()
	delete(m.queued, id)
	m.mu.Unlock()
}

// Requeue queues pending jobs that are not waiting in the pool yet, oldest
// first, until the queue is full. It returns how many were queued.
func (m *Manager) Requeue(ctx context.Context) (int, error) {
	pending, err := m.store.ListByStatus(ctx, models.JobPending)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range pending {
		m.mu.Lock()
		waiting := m.queued[job.ID]
		m.mu.Unlock()
		if waiting {
			continue
		}

		err := m.enqueue(job.ID)
		if errors.Is(err, worker.ErrQueueFull) {
			log.Printf("Batch queue is full (%d waiting); remaining pending jobs wait for the next sweep", m.pool.Pending())
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Status returns the job's progress
func (m *Manager) Status(ctx context.Context, id string) (Progress, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{
		ID:         job.ID,
		Owner:      job.Owner,
		Status:     job.Status,
		Processed:  job.ProcessedRows,
		Total:      job.TotalRows,
		Percent:    Percent(job.ProcessedRows, job.TotalRows),
		Error:      job.ErrorMessage,
		Cancelable: job.Cancelable(),
	}
	if job.Status == models.JobDone && job.OutputRef.Valid {
		url, err := m.files.URL(ctx, job.OutputRef.String)
		if err != nil {
			return p, fmt.Errorf("failed to build download link: %w", err)
		}
		p.DownloadURL = url
	}
	return p, nil
}

// Percent is floor(processed/total*100), or 0 when total is 0
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}

// RequestCancel asks a pending or running job to stop at the next row.
// It reports whether the request was recorded.
func (m *Manager) RequestCancel(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.RequestCancel(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("Batch job %s: cancel requested", id)
	}
	return ok, nil
}

// List returns the owner's most recent jobs
func (m *Manager) List(ctx context.Context, owner int64, limit int) ([]models.BatchJob, error) {
	return m.store.List(ctx, owner, limit)
}

// Output opens the finished job's output file
func (m *Manager) Output(ctx context.Context, id string) (io.ReadCloser, string, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.JobDone || !job.OutputRef.Valid {
		return nil, "", fmt.Errorf("job %s has no output (status %s)", id, job.Status)
	}
	rc, err := m.files.Open(ctx, job.OutputRef.String)
	if err != nil {
		return nil, "", err
	}
	return rc, filepath.Base(job.OutputRef.String), nil
}

// Resume is called at startup. Jobs left running by a previous process are
// marked as errors; pending jobs are queued again.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	running, err := m.store.ListByStatus(ctx, models.JobRunning)
	if err != nil {
		return 0, err
	}
	for _, job := range running {
		if _, err := m.store.Transition(ctx, job.ID, models.JobError, "interrupted by restart"); err != nil {
			return 0, err
		}
		log.Printf("Batch job %s was interrupted by a restart", job.ID)
	}
	return m.Requeue(ctx)
}
