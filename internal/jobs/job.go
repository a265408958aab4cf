package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRunning is returned when a task with the same key is still active.
var ErrAlreadyRunning = errors.New("job already running")

// Func is the body of a supervised task. It must respect context cancellation.
//
// Task bodies must be idempotent: a task may be started again after a crash,
// a failure or a cancellation, so it checks persisted state before doing work.
type Func func(ctx context.Context) error

// Status represents the current state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Well-known job types.
const (
	TypeOCR       = "ocr"
	TypeIndex     = "index"
	TypePoll      = "ingest-poll"
	TypeArbitrate = "arbitrate"
)

// Record is the persisted view of a supervised task.
type Record struct {
	ID          string         `json:"id"`
	JobType     string         `json:"job_type"`
	DocumentID  string         `json:"document_id,omitempty"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewRecord creates a new queued job record for submission.
func NewRecord(id, jobType, documentID string, metadata map[string]any) *Record {
	return &Record{
		ID:         id,
		JobType:    jobType,
		DocumentID: documentID,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
		Metadata:   metadata,
	}
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	Status     Status // Filter by status (empty = all)
	JobType    string // Filter by job type (empty = all)
	DocumentID string // Filter by document (empty = all)
	Limit      int    // Max results (0 = default 100)
}

// RecordStore persists job records.
type RecordStore interface {
	CreateJob(ctx context.Context, r *Record) error
	GetJob(ctx context.Context, id string) (*Record, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]*Record, error)
	UpdateJobStatus(ctx context.Context, id string, status Status, errMsg string) error
	UpdateJobMetadata(ctx context.Context, id string, metadata map[string]any) error
}
