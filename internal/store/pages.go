package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

const pageColumns = `document_id, page_number, text, confidence, checksum, engine, status, words, error, updated_at`

// UpsertPage writes a page result keyed on (document, page).
func (s *Store) UpsertPage(ctx context.Context, p types.Page) error {
	words := ""
	if len(p.Words) > 0 {
		data, err := json.Marshal(p.Words)
		if err != nil {
			return fmt.Errorf("encode words: %w", err)
		}
		words = string(data)
	}
	if p.Status == "" {
		p.Status = types.PageCompleted
	}
	_, err := s.exec(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, page_number) DO UPDATE SET
			text = excluded.text,
			confidence = excluded.confidence,
			checksum = excluded.checksum,
			engine = excluded.engine,
			status = excluded.status,
			words = excluded.words,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		p.DocumentID, p.PageNumber, p.Text, p.Confidence, p.Checksum, p.Engine,
		string(p.Status), words, p.Error, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert page %s/%d: %w", p.DocumentID, p.PageNumber, err)
	}
	return nil
}

// GetPage returns one page, or ErrNotFound.
func (s *Store) GetPage(ctx context.Context, docID string, page int) (*types.Page, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE document_id = ? AND page_number = ?`, docID, page)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s/%d: %w", docID, page, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s/%d: %w", docID, page, err)
	}
	return p, nil
}

// PageChecksum returns the stored checksum, or "" if the page has none.
func (s *Store) PageChecksum(ctx context.Context, docID string, page int) (string, error) {
	var sum string
	err := s.DB.QueryRowContext(ctx,
		`SELECT checksum FROM pages WHERE document_id = ? AND page_number = ?`, docID, page).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("page checksum %s/%d: %w", docID, page, err)
	}
	return sum, nil
}

// ListPages returns pages in [start, end] ordered by page number.
// A zero end means no upper bound.
func (s *Store) ListPages(ctx context.Context, docID string, start, end int) ([]*types.Page, error) {
	if end <= 0 {
		end = math.MaxInt32
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM pages
		WHERE document_id = ? AND page_number BETWEEN ? AND ?
		ORDER BY page_number`, docID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list pages %s: %w", docID, err)
	}
	defer rows.Close()

	var pages []*types.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// PageStats aggregates page rows for a range.
type PageStats struct {
	Completed     int
	Failed        int
	AvgConfidence float64
}

// RangeStats counts completed and failed pages in [start, end] and averages
// the confidence of completed ones. A zero end means the whole document.
func (s *Store) RangeStats(ctx context.Context, docID string, start, end int) (PageStats, error) {
	if end <= 0 {
		end = math.MaxInt32
	}
	var (
		stats PageStats
		avg   sql.NullFloat64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'completed' THEN confidence END)
		FROM pages
		WHERE document_id = ? AND page_number BETWEEN ? AND ?`,
		docID, start, end).Scan(&stats.Completed, &stats.Failed, &avg)
	if err != nil {
		return PageStats{}, fmt.Errorf("range stats %s: %w", docID, err)
	}
	stats.AvgConfidence = avg.Float64
	return stats, nil
}

func scanPage(row rowScanner) (*types.Page, error) {
	var (
		p             types.Page
		status, words string
		updated       string
	)
	if err := row.Scan(&p.DocumentID, &p.PageNumber, &p.Text, &p.Confidence, &p.Checksum,
		&p.Engine, &status, &words, &p.Error, &updated); err != nil {
		return nil, err
	}
	p.Status = types.PageStatus(status)
	p.UpdatedAt = parseTime(updated)
	if words != "" {
		if err := json.Unmarshal([]byte(words), &p.Words); err != nil {
			return nil, fmt.Errorf("decode words: %w", err)
		}
	}
	return &p, nil
}
