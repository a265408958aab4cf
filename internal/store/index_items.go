package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackzampolin/brieflink/internal/types"
)

// ReplaceIndexItems deletes a document's index items and writes items in one transaction.
func (s *Store) ReplaceIndexItems(ctx context.Context, docID string, items []types.IndexItem) error {
	return s.RunTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_items WHERE document_id = ?`, docID); err != nil {
			return fmt.Errorf("clear index items %s: %w", docID, err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO index_items (document_id, position, ordinal, label, raw_line, page_hint, confidence, ref_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, it := range items {
			var ordinal sql.NullInt64
			if it.Ordinal != nil {
				ordinal = sql.NullInt64{Int64: int64(*it.Ordinal), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, docID, i, ordinal, it.Label, it.RawLine,
				it.PageHint, it.Confidence, string(it.RefType)); err != nil {
				return fmt.Errorf("insert index item %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListIndexItems returns a document's index items in stored order.
func (s *Store) ListIndexItems(ctx context.Context, docID string) ([]types.IndexItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT document_id, position, ordinal, label, raw_line, page_hint, confidence, ref_type
		FROM index_items WHERE document_id = ? ORDER BY position`, docID)
	if err != nil {
		return nil, fmt.Errorf("list index items %s: %w", docID, err)
	}
	defer rows.Close()

	var items []types.IndexItem
	for rows.Next() {
		var (
			it      types.IndexItem
			ordinal sql.NullInt64
			refType string
		)
		if err := rows.Scan(&it.DocumentID, &it.Position, &ordinal, &it.Label, &it.RawLine,
			&it.PageHint, &it.Confidence, &refType); err != nil {
			return nil, fmt.Errorf("scan index item: %w", err)
		}
		if ordinal.Valid {
			n := int(ordinal.Int64)
			it.Ordinal = &n
		}
		it.RefType = types.RefType(refType)
		items = append(items, it)
	}
	return items, rows.Err()
}
