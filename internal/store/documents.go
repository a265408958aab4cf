package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

const documentColumns = `id, case_id, role, source_path, total_pages, ocr_state,
	first_batch_ready, first_batch_ready_at, created_at, updated_at`

// UpsertDocument registers a document or updates its descriptive fields.
// OCR state and the first-batch-ready flag are never reset by re-registration.
func (s *Store) UpsertDocument(ctx context.Context, doc types.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if doc.Role == "" {
		doc.Role = types.RoleOther
	}
	now := formatTime(time.Now())
	_, err := s.exec(ctx, `
		INSERT INTO documents (id, case_id, role, source_path, total_pages, ocr_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			case_id = excluded.case_id,
			role = excluded.role,
			source_path = excluded.source_path,
			total_pages = excluded.total_pages,
			updated_at = excluded.updated_at`,
		doc.ID, doc.CaseID, string(doc.Role), doc.SourcePath, doc.TotalPages, now, now)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns a document by id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns all documents, optionally filtered by role.
func (s *Store) ListDocuments(ctx context.Context, role types.DocumentRole) ([]*types.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetOCRState updates the document's OCR lifecycle state.
func (s *Store) SetOCRState(ctx context.Context, id string, state types.OCRState) error {
	res, err := s.exec(ctx,
		`UPDATE documents SET ocr_state = ?, updated_at = ? WHERE id = ?`,
		string(state), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set ocr state %s: %w", id, err)
	}
	return requireRow(res, "document", id)
}

// MarkFirstBatchReady sets the first-batch-ready flag if it is not already set.
// It reports true only for the call that actually flipped the flag.
func (s *Store) MarkFirstBatchReady(ctx context.Context, id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.exec(ctx, `
		UPDATE documents
		SET first_batch_ready = 1, first_batch_ready_at = ?, updated_at = ?
		WHERE id = ? AND first_batch_ready = 0`,
		now, now, id)
	if err != nil {
		return false, fmt.Errorf("mark first batch ready %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var (
		doc          types.Document
		role, state  string
		ready        int
		readyAt      sql.NullString
		created, upd string
	)
	if err := row.Scan(&doc.ID, &doc.CaseID, &role, &doc.SourcePath, &doc.TotalPages, &state,
		&ready, &readyAt, &created, &upd); err != nil {
		return nil, err
	}
	doc.Role = types.DocumentRole(role)
	doc.OCRState = types.OCRState(state)
	doc.FirstBatchReady = ready != 0
	doc.FirstBatchReadyAt = parseNullTime(readyAt)
	doc.CreatedAt = parseTime(created)
	doc.UpdatedAt = parseTime(upd)
	return &doc, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
