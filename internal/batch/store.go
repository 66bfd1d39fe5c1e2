// Package batch runs spreadsheet correction jobs through an LLM provider.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/kotoba/pkg/models"
)

var (
	// ErrJobNotFound is returned for unknown job IDs
	ErrJobNotFound = errors.New("batch job not found")
	// ErrDuplicateJob is returned when creating a job whose ID exists
	ErrDuplicateJob = errors.New("batch job already exists")
)

// JobStore persists batch jobs. Every read returns the latest stored value;
// the worker relies on this to see cancel requests made by other goroutines.
type JobStore interface {
	Create(ctx context.Context, job *models.BatchJob) error
	Get(ctx context.Context, id string) (*models.BatchJob, error)
	List(ctx context.Context, owner int64, limit int) ([]models.BatchJob, error)
	// ListByStatus returns jobs in any of the given statuses, oldest first
	ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.BatchJob, error)
	// Transition moves the job to status to if its current status allows it.
	// It reports whether the transition happened.
	Transition(ctx context.Context, id string, to models.JobStatus, errMsg string) (bool, error)
	SetTotalRows(ctx context.Context, id string, total int) error
	SetProcessedRows(ctx context.Context, id string, processed int) error
	SetOutput(ctx context.Context, id, ref string) error
	// RequestCancel sets the cancel flag on a pending or running job that
	// has not been asked yet, and reports whether it did.
	RequestCancel(ctx context.Context, id string) (bool, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// SourceStatuses lists the statuses from which a job may move to to
func SourceStatuses(to models.JobStatus) []models.JobStatus {
	var from []models.JobStatus
	for _, s := range []models.JobStatus{models.JobPending, models.JobRunning} {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}

// MemoryStore keeps jobs in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.BatchJob
	now  func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.BatchJob),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, owner int64, limit int) ([]models.BatchJob, error) {
	s.mu.RLock()
	out := make([]models.BatchJob, 0)
	for _, job := range s.jobs {
		if job.Owner == owner {
			out = append(out, *job)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.BatchJob, error) {
	want := make(map[models.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	out := make([]models.BatchJob, 0)
	for _, job := range s.jobs {
		if want[job.Status] {
			out = append(out, *job)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to models.JobStatus, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !job.Status.CanTransition(to) {
		return false, nil
	}
	job.Status = to
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	job.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) update(id string, fn func(job *models.BatchJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	fn(job)
	job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetTotalRows(ctx context.Context, id string, total int) error {
	return s.update(id, func(job *models.BatchJob) { job.TotalRows = total })
}

func (s *MemoryStore) SetProcessedRows(ctx context.Context, id string, processed int) error {
	return s.update(id, func(job *models.BatchJob) { job.ProcessedRows = processed })
}

func (s *MemoryStore) SetOutput(ctx context.Context, id, ref string) error {
	return s.update(id, func(job *models.BatchJob) {
		job.OutputRef.String = ref
		job.OutputRef.Valid = true
	})
}

func (s *MemoryStore) RequestCancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !job.Cancelable() {
		return false, nil
	}
	job.CancelRequested = true
	job.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.CancelRequested, nil
}
