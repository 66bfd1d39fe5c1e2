package models

import (
	"database/sql"
	"time"
)

// JobStatus is the lifecycle state of a batch correction job
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobError    JobStatus = "error"
	JobCanceled JobStatus = "canceled"
)

// BatchJob is a spreadsheet of sentences sent through an LLM provider row by row
type BatchJob struct {
	ID              string         `json:"id" db:"id"`
	Owner           int64          `json:"owner" db:"owner"`
	Provider        string         `json:"provider" db:"provider"`
	InputRef        string         `json:"input_ref" db:"input_ref"`
	OutputRef       sql.NullString `json:"output_ref" db:"output_ref"`
	Status          JobStatus      `json:"status" db:"status"`
	TotalRows       int            `json:"total_rows" db:"total_rows"`
	ProcessedRows   int            `json:"processed_rows" db:"processed_rows"`
	ErrorMessage    string         `json:"error_message" db:"error_message"`
	CancelRequested bool           `json:"cancel_requested" db:"cancel_requested"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the job can no longer change status
func (j *BatchJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsTerminal reports whether s is done, error or canceled
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobError || s == JobCanceled
}

// CanTransition reports whether a job in status s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobError || next == JobCanceled
	case JobRunning:
		return next.IsTerminal()
	}
	return false
}

// Cancelable reports whether a cancel request would still be accepted
func (j *BatchJob) Cancelable() bool {
	return (j.Status == JobPending || j.Status == JobRunning) && !j.CancelRequested
}
