package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/brieflink/internal/jobs"
)

var _ jobs.RecordStore = (*Store)(nil)

const jobColumns = `id, job_type, document_id, status, created_at, started_at, completed_at, error, metadata`

// CreateJob inserts a job record.
func (s *Store) CreateJob(ctx context.Context, r *jobs.Record) error {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO jobs (id, job_type, document_id, status, created_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobType, r.DocumentID, string(r.Status), formatTime(r.CreatedAt), r.Error, meta)
	if err != nil {
		return fmt.Errorf("create job %s: %w", r.ID, err)
	}
	return nil
}

// GetJob returns a job record, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	r, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return r, nil
}

// ListJobs returns job records matching filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.ListFilter) ([]*jobs.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.JobType != "" {
		query += ` AND job_type = ?`
		args = append(args, filter.JobType)
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	records := []*jobs.Record{}
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpdateJobStatus sets status, stamping started_at or completed_at as appropriate.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status jobs.Status, errMsg string) error {
	now := formatTime(time.Now())
	query := `UPDATE jobs SET status = ?, error = ? WHERE id = ?`
	args := []any{string(status), errMsg, id}
	switch {
	case status == jobs.StatusRunning:
		query = `UPDATE jobs SET status = ?, error = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`
		args = []any{string(status), errMsg, now, id}
	case status.Terminal():
		query = `UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`
		args = []any{string(status), errMsg, now, id}
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return requireRow(res, "job", id)
}

// UpdateJobMetadata replaces a job's metadata.
func (s *Store) UpdateJobMetadata(ctx context.Context, id string, metadata map[string]any) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE jobs SET metadata = ? WHERE id = ?`, meta, id)
	if err != nil {
		return fmt.Errorf("update job metadata %s: %w", id, err)
	}
	return requireRow(res, "job", id)
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func scanJob(row rowScanner) (*jobs.Record, error) {
	var (
		r                  jobs.Record
		status, created    string
		started, completed sql.NullString
		meta               string
	)
	if err := row.Scan(&r.ID, &r.JobType, &r.DocumentID, &status, &created,
		&started, &completed, &r.Error, &meta); err != nil {
		return nil, err
	}
	r.Status = jobs.Status(status)
	r.CreatedAt = parseTime(created)
	r.StartedAt = parseNullTime(started)
	r.CompletedAt = parseNullTime(completed)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &r, nil
}
