package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/kotoba/internal/batch"
	"github.com/example/kotoba/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// BatchJobRepository is the SQL implementation of batch.JobStore
type BatchJobRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ batch.JobStore = (*BatchJobRepository)(nil)

// NewBatchJobRepository creates a new repository instance
func NewBatchJobRepository(db *sqlx.DB) *BatchJobRepository {
	return &BatchJobRepository{db: db, now: time.Now}
}

func (r *BatchJobRepository) Create(ctx context.Context, job *models.BatchJob) error {
	now := r.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := `
		INSERT INTO batch_jobs (
			id, owner, provider, input_ref, output_ref, status, total_rows, processed_rows,
			error_message, cancel_requested, created_at, updated_at
		) VALUES (
			:id, :owner, :provider, :input_ref, :output_ref, :status, :total_rows, :processed_rows,
			:error_message, :cancel_requested, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", batch.ErrDuplicateJob, job.ID)
		}
		return fmt.Errorf("failed to create batch job: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (r *BatchJobRepository) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	var job models.BatchJob
	err := r.db.GetContext(ctx, &job, r.db.Rebind("SELECT * FROM batch_jobs WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}
	return &job, nil
}

func (r *BatchJobRepository) List(ctx context.Context, owner int64, limit int) ([]models.BatchJob, error) {
	query := "SELECT * FROM batch_jobs WHERE owner = ? ORDER BY created_at DESC"
	args := []interface{}{owner}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	jobs := []models.BatchJob{}
	if err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	return jobs, nil
}

func (r *BatchJobRepository) ListByStatus(ctx context.Context, statuses ...models.JobStatus) ([]models.BatchJob, error) {
	jobs := []models.BatchJob{}
	if len(statuses) == 0 {
		return jobs, nil
	}
	query, args, err := sqlx.In("SELECT * FROM batch_jobs WHERE status IN (?) ORDER BY created_at", statuses)
	if err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	return jobs, nil
}

// Transition updates the status only while the row is in a status that may
// move to to, so concurrent writers cannot leave a terminal state.
func (r *BatchJobRepository) Transition(ctx context.Context, id string, to models.JobStatus, errMsg string) (bool, error) {
	from := batch.SourceStatuses(to)
	if len(from) == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	set := "status = ?, updated_at = ?"
	args := []interface{}{to, r.now().UTC()}
	if errMsg != "" {
		set += ", error_message = ?"
		args = append(args, errMsg)
	}
	args = append(args, id, from)

	query, args, err := sqlx.In("UPDATE batch_jobs SET "+set+" WHERE id = ? AND status IN (?)", args...)
	if err != nil {
		return false, err
	}
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update batch job status: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *BatchJobRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *BatchJobRepository) setField(ctx context.Context, id, column string, value interface{}) error {
	n, err := r.exec(ctx, "UPDATE batch_jobs SET "+column+" = ?, updated_at = ? WHERE id = ?", value, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update batch job %s: %w", strings.ReplaceAll(column, "_", " "), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	return nil
}

func (r *BatchJobRepository) SetTotalRows(ctx context.Context, id string, total int) error {
	return r.setField(ctx, id, "total_rows", total)
}

func (r *BatchJobRepository) SetProcessedRows(ctx context.Context, id string, processed int) error {
	return r.setField(ctx, id, "processed_rows", processed)
}

func (r *BatchJobRepository) SetOutput(ctx context.Context, id, ref string) error {
	return r.setField(ctx, id, "output_ref", ref)
}

func (r *BatchJobRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	query, args, err := sqlx.In(`
		UPDATE batch_jobs SET cancel_requested = ?, updated_at = ?
		WHERE id = ? AND cancel_requested = ? AND status IN (?)
	`, true, r.now().UTC(), id, false, []models.JobStatus{models.JobPending, models.JobRunning})
	if err != nil {
		return false, err
	}
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *BatchJobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.GetContext(ctx, &requested, r.db.Rebind("SELECT cancel_requested FROM batch_jobs WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", batch.ErrJobNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}
