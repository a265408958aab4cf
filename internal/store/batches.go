package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

const batchColumns = `document_id, start_page, end_page, status, pages_done, avg_confidence,
	started_at, completed_at, error`

// ErrPartitionConflict is returned when a document already has batches with
// different ranges than the ones being created.
var ErrPartitionConflict = errors.New("document already has a different batch partition")

// CreateBatches persists the given ranges. Re-creating the stored partition
// is a no-op; any other set of ranges for a document that already has
// batches fails with ErrPartitionConflict, so a document keeps one partition.
func (s *Store) CreateBatches(ctx context.Context, batches []types.Batch) error {
	byDoc := make(map[string]map[[2]int]bool)
	for _, b := range batches {
		if byDoc[b.DocumentID] == nil {
			byDoc[b.DocumentID] = make(map[[2]int]bool)
		}
		byDoc[b.DocumentID][[2]int{b.StartPage, b.EndPage}] = true
	}

	return s.RunTx(ctx, func(tx *sql.Tx) error {
		for docID, want := range byDoc {
			existing, err := batchRanges(ctx, tx, docID)
			if err != nil {
				return err
			}
			if len(existing) == 0 {
				continue
			}
			if !sameRanges(existing, want) {
				return fmt.Errorf("create batches %s: %d stored, %d requested: %w", docID, len(existing), len(want), ErrPartitionConflict)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO batches (document_id, start_page, end_page, status)
			VALUES (?, ?, ?, 'queued')
			ON CONFLICT (document_id, start_page, end_page) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range batches {
			if _, err := stmt.ExecContext(ctx, b.DocumentID, b.StartPage, b.EndPage); err != nil {
				return fmt.Errorf("create batch %s [%d-%d]: %w", b.DocumentID, b.StartPage, b.EndPage, err)
			}
		}
		return nil
	})
}

func batchRanges(ctx context.Context, tx *sql.Tx, docID string) (map[[2]int]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT start_page, end_page FROM batches WHERE document_id = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("list batch ranges %s: %w", docID, err)
	}
	defer rows.Close()
	ranges := make(map[[2]int]bool)
	for rows.Next() {
		var r [2]int
		if err := rows.Scan(&r[0], &r[1]); err != nil {
			return nil, err
		}
		ranges[r] = true
	}
	return ranges, rows.Err()
}

func sameRanges(a, b map[[2]int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if !b[r] {
			return false
		}
	}
	return true
}

// ListBatches returns a document's batches ordered by start page.
func (s *Store) ListBatches(ctx context.Context, docID string) ([]*types.Batch, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE document_id = ? ORDER BY start_page`, docID)
	if err != nil {
		return nil, fmt.Errorf("list batches %s: %w", docID, err)
	}
	defer rows.Close()

	var batches []*types.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch returns one batch by its range, or ErrNotFound.
func (s *Store) GetBatch(ctx context.Context, docID string, start, end int) (*types.Batch, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches
		WHERE document_id = ? AND start_page = ? AND end_page = ?`, docID, start, end)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s [%d-%d]: %w", docID, start, end, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// StartBatch marks a batch processing and stamps started_at.
func (s *Store) StartBatch(ctx context.Context, docID string, start, end int) error {
	res, err := s.exec(ctx, `
		UPDATE batches SET status = 'processing', started_at = ?, completed_at = NULL, error = ''
		WHERE document_id = ? AND start_page = ? AND end_page = ?`,
		formatTime(time.Now()), docID, start, end)
	if err != nil {
		return fmt.Errorf("start batch %s [%d-%d]: %w", docID, start, end, err)
	}
	return requireRow(res, "batch", fmt.Sprintf("%s [%d-%d]", docID, start, end))
}

// UpdateBatchProgress writes the aggregated counters and the resulting status.
// completed_at is stamped when status is terminal.
func (s *Store) UpdateBatchProgress(ctx context.Context, b types.Batch) error {
	var completedAt sql.NullString
	if b.Status == types.BatchCompleted || b.Status == types.BatchFailed {
		completedAt = nullString(formatTime(time.Now()))
	}
	res, err := s.exec(ctx, `
		UPDATE batches
		SET status = ?, pages_done = ?, avg_confidence = ?, error = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE document_id = ? AND start_page = ? AND end_page = ?`,
		string(b.Status), b.PagesDone, b.AvgConfidence, b.Error, completedAt,
		b.DocumentID, b.StartPage, b.EndPage)
	if err != nil {
		return fmt.Errorf("update batch %s [%d-%d]: %w", b.DocumentID, b.StartPage, b.EndPage, err)
	}
	return requireRow(res, "batch", fmt.Sprintf("%s [%d-%d]", b.DocumentID, b.StartPage, b.EndPage))
}

func scanBatch(row rowScanner) (*types.Batch, error) {
	var (
		b                  types.Batch
		status             string
		started, completed sql.NullString
	)
	if err := row.Scan(&b.DocumentID, &b.StartPage, &b.EndPage, &status, &b.PagesDone,
		&b.AvgConfidence, &started, &completed, &b.Error); err != nil {
		return nil, err
	}
	b.Status = types.BatchStatus(status)
	b.StartedAt = parseNullTime(started)
	b.CompletedAt = parseNullTime(completed)
	return &b, nil
}
