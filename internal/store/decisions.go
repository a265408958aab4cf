package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

// ReplaceDecisions removes every decision whose source is one of briefIDs and
// writes decisions in their place, all in one transaction.
func (s *Store) ReplaceDecisions(ctx context.Context, trialRecordID string, briefIDs []string, decisions []types.Decision) error {
	return s.RunTx(ctx, func(tx *sql.Tx) error {
		if len(briefIDs) > 0 {
			args := make([]any, len(briefIDs))
			for i, id := range briefIDs {
				args[i] = id
			}
			query := `DELETE FROM decisions WHERE source_document IN (` + placeholders(len(briefIDs)) + `)`
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("clear decisions: %w", err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO decisions (source_document, source_page, ref_type, ref_value, outcome,
				destination_page, trial_record_id, reason, snippet, rects, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := formatTime(time.Now())
		for _, d := range decisions {
			var dest sql.NullInt64
			if d.Outcome == types.OutcomeLink {
				dest = sql.NullInt64{Int64: int64(d.DestinationPage), Valid: true}
			}
			rects := ""
			if len(d.Rects) > 0 {
				data, err := json.Marshal(d.Rects)
				if err != nil {
					return fmt.Errorf("encode rects: %w", err)
				}
				rects = string(data)
			}
			if _, err := stmt.ExecContext(ctx, d.SourceDocument, d.SourcePage, string(d.RefType), d.Value,
				string(d.Outcome), dest, trialRecordID, d.Reason, d.Snippet, rects, now); err != nil {
				return fmt.Errorf("insert decision: %w", err)
			}
		}
		return nil
	})
}

// ListDecisions returns decisions for a brief, or all decisions when docID is empty,
// ordered by source document, page and insertion.
func (s *Store) ListDecisions(ctx context.Context, docID string) ([]types.Decision, error) {
	query := `SELECT source_document, source_page, ref_type, ref_value, outcome,
		destination_page, reason, snippet, rects FROM decisions`
	var args []any
	if docID != "" {
		query += ` WHERE source_document = ?`
		args = append(args, docID)
	}
	query += ` ORDER BY source_document, source_page, id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []types.Decision
	for rows.Next() {
		var (
			d                       types.Decision
			refType, outcome, rects string
			dest                    sql.NullInt64
		)
		if err := rows.Scan(&d.SourceDocument, &d.SourcePage, &refType, &d.Value, &outcome,
			&dest, &d.Reason, &d.Snippet, &rects); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.RefType = types.RefType(refType)
		d.Outcome = types.Outcome(outcome)
		if dest.Valid {
			d.DestinationPage = int(dest.Int64)
		}
		if rects != "" {
			if err := json.Unmarshal([]byte(rects), &d.Rects); err != nil {
				return nil, fmt.Errorf("decode rects: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BriefsReferencing returns the distinct briefs that hold a decision for
// (refType, value) against the given trial record.
func (s *Store) BriefsReferencing(ctx context.Context, trialRecordID string, refType types.RefType, value string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT source_document FROM decisions
		WHERE trial_record_id = ? AND ref_type = ? AND ref_value = ?
		ORDER BY source_document`, trialRecordID, string(refType), value)
	if err != nil {
		return nil, fmt.Errorf("briefs referencing %s %s: %w", refType, value, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
