package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackzampolin/brieflink/internal/types"
)

// UpsertOverride pins (trial record, type, value) to a page.
func (s *Store) UpsertOverride(ctx context.Context, o types.Override) error {
	_, err := s.exec(ctx, `
		INSERT INTO overrides (trial_record_id, ref_type, ref_value, page, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trial_record_id, ref_type, ref_value) DO UPDATE SET
			page = excluded.page,
			updated_at = excluded.updated_at`,
		o.TrialRecordID, string(o.RefType), o.Value, o.Page, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert override %s %s: %w", o.RefType, o.Value, err)
	}
	return nil
}

// ListOverrides returns the overrides pinned for a trial record.
func (s *Store) ListOverrides(ctx context.Context, trialRecordID string) ([]types.Override, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT trial_record_id, ref_type, ref_value, page FROM overrides
		WHERE trial_record_id = ? ORDER BY ref_type, ref_value`, trialRecordID)
	if err != nil {
		return nil, fmt.Errorf("list overrides %s: %w", trialRecordID, err)
	}
	defer rows.Close()

	var out []types.Override
	for rows.Next() {
		var (
			o       types.Override
			refType string
		)
		if err := rows.Scan(&o.TrialRecordID, &refType, &o.Value, &o.Page); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.RefType = types.RefType(refType)
		out = append(out, o)
	}
	return out, rows.Err()
}
