package database

import (
	"context"
	"time"

	"mediaref/internal/errs"
)

// SetRenameSuggestion stores or replaces the accepted name for an asset.
func (d *Database) SetRenameSuggestion(ctx context.Context, assetID int64, name string) error {
	if name == "" {
		return errs.Validation("suggested_name", "suggested name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO rename_suggestions (asset_id, suggested_name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET suggested_name = excluded.suggested_name, created_at = excluded.created_at
	`, assetID, name, d.now().Unix())
	if err != nil {
		return &errs.StoreWriteError{Op: "set_rename_suggestion", AssetID: assetID, Err: err}
	}
	return nil
}

// GetRenameSuggestions returns the stored suggestions for the given assets,
// or every suggestion when ids is empty.
func (d *Database) GetRenameSuggestions(ctx context.Context, ids []int64) (map[int64]RenameSuggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT asset_id, suggested_name, created_at FROM rename_suggestions"
	var args []any
	if len(ids) > 0 {
		query += " WHERE asset_id IN (" + placeholders(len(ids)) + ")"
		args = int64Args(ids)
	}
	query += " ORDER BY asset_id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]RenameSuggestion)
	for rows.Next() {
		var s RenameSuggestion
		var created int64
		if err := rows.Scan(&s.AssetID, &s.SuggestedName, &created); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(created, 0)
		out[s.AssetID] = s
	}
	return out, rows.Err()
}

// DeleteRenameSuggestion drops the suggestion for an asset once applied.
func (d *Database) DeleteRenameSuggestion(ctx context.Context, assetID int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx, "DELETE FROM rename_suggestions WHERE asset_id = ?", assetID)
	return err
}
