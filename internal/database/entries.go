package database

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"mediaref/internal/errs"
	"mediaref/internal/metrics"
)

// maxQueryArgs bounds the number of bound parameters in one IN (...) list.
const maxQueryArgs = 500

// cleanAny clears the dirty mark whatever its value.
const cleanAny int64 = -1

type entryKey struct {
	locationID int64
	fieldKey   string
	raw        string
}

// UpsertEntries replaces all entries for one asset atomically and marks the
// asset indexed. Either the whole new set is stored or nothing changes.
func (d *Database) UpsertEntries(ctx context.Context, assetID int64, entries []IndexEntry) error {
	unlock := d.locks.lock(assetID)
	defer unlock()

	_, err := d.replaceEntries(ctx, assetID, cleanAny, entries)
	return err
}

// UpsertIndexedEntries is UpsertEntries for the indexer. The dirty mark is
// cleared only if it still equals a.DirtyGen, so an invalidation that lands
// while the asset is being scanned survives for the next run. It reports
// whether the stored entry set changed.
func (d *Database) UpsertIndexedEntries(ctx context.Context, a *Asset, entries []IndexEntry) (bool, error) {
	unlock := d.locks.lock(a.ID)
	defer unlock()

	return d.replaceEntries(ctx, a.ID, a.DirtyGen, entries)
}

func (d *Database) replaceEntries(ctx context.Context, assetID, seenDirty int64, entries []IndexEntry) (changed bool, err error) {
	start := time.Now()
	defer func() { recordQuery("upsert_entries", start, err) }()

	b, err := d.BeginBatch(ctx)
	if err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}
	defer func() { err = d.EndBatch(b, err) }()

	changed, err = d.replaceEntriesTx(ctx, b, assetID, seenDirty, entries)
	return changed, err
}

// UpsertEntriesLocked replaces an asset's entries inside a batch the caller
// owns. The caller must hold the asset lock from LockAsset.
func (d *Database) UpsertEntriesLocked(ctx context.Context, b *Batch, assetID int64, entries []IndexEntry) error {
	_, err := d.replaceEntriesTx(ctx, b, assetID, cleanAny, entries)
	return err
}

func (d *Database) replaceEntriesTx(ctx context.Context, b *Batch, assetID, seenDirty int64, entries []IndexEntry) (bool, error) {
	var currentPath string
	err := b.QueryRowContext(ctx, "SELECT path FROM assets WHERE id = ?", assetID).Scan(&currentPath)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errs.NotFound("asset", assetID)
	}
	if err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}

	before, err := entryKeysTx(ctx, b, assetID)
	if err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}

	if _, err := b.ExecContext(ctx, "DELETE FROM index_entries WHERE asset_id = ?", assetID); err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}

	stmt, err := b.PrepareContext(ctx, `
		INSERT OR IGNORE INTO index_entries (asset_id, asset_path, context_type, location_id, field_key, raw_reference, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}
	defer stmt.Close()

	now := d.now()
	after := make(map[entryKey]struct{}, len(entries))
	for _, e := range entries {
		if !e.ContextType.Valid() {
			return false, errs.Validation("context_type", "unknown context type %q", e.ContextType)
		}
		path := e.AssetPath
		if path == "" {
			path = currentPath
		}
		if _, err := stmt.ExecContext(ctx, assetID, path, e.ContextType, e.LocationID, e.FieldKey, e.RawReference, now.Unix()); err != nil {
			return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
		}
		after[entryKey{e.LocationID, e.FieldKey, e.RawReference}] = struct{}{}
	}
	if len(after) > 0 {
		metrics.DBRowsAffected.WithLabelValues("upsert_entries").Observe(float64(len(after)))
	}

	_, err = b.ExecContext(ctx, `
		UPDATE assets SET
			dirty = CASE WHEN ? < 0 OR dirty = ? THEN 0 ELSE dirty END,
			indexed_at = ?
		WHERE id = ?
	`, seenDirty, seenDirty, now.Unix(), assetID)
	if err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}

	if err := touchIndexUpdate(ctx, b.Tx, now); err != nil {
		return false, &errs.StoreWriteError{Op: "upsert_entries", AssetID: assetID, Err: err}
	}

	return !sameKeys(before, after), nil
}

func entryKeysTx(ctx context.Context, b *Batch, assetID int64) (map[entryKey]struct{}, error) {
	rows, err := b.QueryContext(ctx,
		"SELECT location_id, field_key, raw_reference FROM index_entries WHERE asset_id = ?", assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[entryKey]struct{})
	for rows.Next() {
		var k entryKey
		if err := rows.Scan(&k.locationID, &k.fieldKey, &k.raw); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func sameKeys(a, b map[entryKey]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// RemoveAsset drops all entries for an asset and returns how many there were.
func (d *Database) RemoveAsset(ctx context.Context, assetID int64) (int64, error) {
	unlock := d.locks.lock(assetID)
	defer unlock()

	start := time.Now()
	var err error
	defer func() { recordQuery("remove_asset", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, "DELETE FROM index_entries WHERE asset_id = ?", assetID)
	if err != nil {
		err = &errs.StoreWriteError{Op: "remove_asset", AssetID: assetID, Err: err}
		return 0, err
	}
	recordRows("remove_asset", result)
	return result.RowsAffected()
}

// QueryLocations returns every stored reference to an asset.
func (d *Database) QueryLocations(ctx context.Context, assetID int64) ([]IndexEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("query_locations", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, `
		SELECT asset_id, asset_path, context_type, location_id, field_key, raw_reference
		FROM index_entries WHERE asset_id = ?
		ORDER BY location_id, field_key, id
	`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []IndexEntry{}
	for rows.Next() {
		var e IndexEntry
		if err = rows.Scan(&e.AssetID, &e.AssetPath, &e.ContextType, &e.LocationID, &e.FieldKey, &e.RawReference); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	return entries, err
}

// UsageCounts returns the number of index entries for each of the given
// assets. Assets without entries map to zero.
func (d *Database) UsageCounts(ctx context.Context, ids []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(ids))
	for _, id := range ids {
		counts[id] = 0
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for chunk := range slices.Chunk(ids, maxQueryArgs) {
		rows, err := d.db.QueryContext(ctx,
			"SELECT asset_id, COUNT(*) FROM index_entries WHERE asset_id IN ("+placeholders(len(chunk))+") GROUP BY asset_id",
			int64Args(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				rows.Close()
				return nil, err
			}
			counts[id] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// TruncateEntries removes every index entry and marks every asset dirty. It
// is the first step of a full rebuild and returns the number of assets
// queued for rescanning.
func (d *Database) TruncateEntries(ctx context.Context) (queued int, err error) {
	start := time.Now()
	defer func() { recordQuery("truncate_entries", start, err) }()

	b, err := d.BeginBatch(ctx)
	if err != nil {
		return 0, &errs.StoreWriteError{Op: "truncate_entries", Err: err}
	}
	defer func() { err = d.EndBatch(b, err) }()

	if _, err = b.ExecContext(ctx, "DELETE FROM index_entries"); err != nil {
		return 0, &errs.StoreWriteError{Op: "truncate_entries", Err: err}
	}

	result, err := b.ExecContext(ctx, "UPDATE assets SET dirty = dirty + 1, indexed_at = NULL")
	if err != nil {
		return 0, &errs.StoreWriteError{Op: "truncate_entries", Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	err = touchIndexUpdate(ctx, b.Tx, d.now())
	return int(n), err
}

// SweepOrphans deletes the entries of assets that no longer exist and returns
// how many were removed.
func (d *Database) SweepOrphans(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("sweep_orphans", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, `
		DELETE FROM index_entries
		WHERE asset_id NOT IN (SELECT id FROM assets)
	`)
	if err != nil {
		err = &errs.StoreWriteError{Op: "sweep_orphans", Err: err}
		return 0, err
	}
	recordRows("sweep_orphans", result)
	return result.RowsAffected()
}
