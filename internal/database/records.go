package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediaref/internal/errs"
)

const recordColumns = "id, context_type, owner, field_key, encoding, value, version, updated_at"

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.ContextType, &r.Owner, &r.FieldKey, &r.Encoding, &r.Value, &r.Version, &updatedAt); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

func validateRecord(r *Record) error {
	if !r.ContextType.Valid() {
		return errs.Validation("context_type", "unknown context type %q", r.ContextType)
	}
	if r.Owner == "" {
		return errs.Validation("owner", "record owner is required")
	}
	if r.FieldKey == "" {
		return errs.Validation("field_key", "record field key is required")
	}
	switch r.Encoding {
	case "":
		r.Encoding = EncodingText
	case EncodingText, EncodingJSON:
	default:
		return errs.Validation("encoding", "unknown encoding %q", r.Encoding)
	}
	return nil
}

// SaveRecord creates or updates a location record. An update with a non-zero
// Version must match the stored version or a ConcurrencyError is returned.
//
// Saving invalidates the index entries owned by the record and marks dirty
// every asset it referenced before the edit plus the assets at
// referencedPaths, which the caller extracts from the new value.
func (d *Database) SaveRecord(ctx context.Context, r *Record, referencedPaths []string) (err error) {
	start := time.Now()
	defer func() { recordQuery("save_record", start, err) }()

	if err = validateRecord(r); err != nil {
		return err
	}

	b, err := d.BeginBatch(ctx)
	if err != nil {
		return &errs.StoreWriteError{Op: "save_record", Err: err}
	}
	defer func() { err = d.EndBatch(b, err) }()

	now := d.now().Unix()

	if r.ID == 0 {
		err = b.QueryRowContext(ctx, `
			INSERT INTO records (context_type, owner, field_key, encoding, value, version, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(context_type, owner, field_key) DO UPDATE SET
				encoding = excluded.encoding,
				value = excluded.value,
				version = records.version + 1,
				updated_at = excluded.updated_at
			RETURNING id, version
		`, r.ContextType, r.Owner, r.FieldKey, r.Encoding, r.Value, now).Scan(&r.ID, &r.Version)
		if err != nil {
			return &errs.StoreWriteError{Op: "save_record", Err: err}
		}
	} else {
		query := `UPDATE records SET context_type = ?, owner = ?, field_key = ?, encoding = ?, value = ?,
			version = version + 1, updated_at = ? WHERE id = ?`
		args := []any{r.ContextType, r.Owner, r.FieldKey, r.Encoding, r.Value, now, r.ID}
		if r.Version != 0 {
			query += " AND version = ?"
			args = append(args, r.Version)
		}
		var result sql.Result
		result, err = b.ExecContext(ctx, query, args...)
		if err != nil {
			return &errs.StoreWriteError{Op: "save_record", Err: err}
		}
		if n, _ := result.RowsAffected(); n == 0 {
			if _, lookupErr := d.recordVersionTx(ctx, b, r.ID); lookupErr != nil {
				err = lookupErr
				return err
			}
			err = &errs.ConcurrencyError{Family: "records", Reason: fmt.Sprintf("record %d was modified concurrently", r.ID)}
			return err
		}
		if err = b.QueryRowContext(ctx, "SELECT version FROM records WHERE id = ?", r.ID).Scan(&r.Version); err != nil {
			return err
		}
	}
	r.UpdatedAt = time.Unix(now, 0)

	err = d.invalidateLocationTx(ctx, b, r.ID, referencedPaths)
	return err
}

// DeleteRecord removes a location record, drops its index entries and marks
// the assets it referenced dirty.
func (d *Database) DeleteRecord(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { recordQuery("delete_record", start, err) }()

	b, err := d.BeginBatch(ctx)
	if err != nil {
		return &errs.StoreWriteError{Op: "delete_record", Err: err}
	}
	defer func() { err = d.EndBatch(b, err) }()

	result, err := b.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return &errs.StoreWriteError{Op: "delete_record", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.NotFound("record", id)
	}

	err = d.invalidateLocationTx(ctx, b, id, nil)
	return err
}

func (d *Database) invalidateLocationTx(ctx context.Context, b *Batch, locationID int64, referencedPaths []string) error {
	_, err := b.ExecContext(ctx, `
		UPDATE assets SET dirty = dirty + 1
		WHERE id IN (SELECT DISTINCT asset_id FROM index_entries WHERE location_id = ?)
	`, locationID)
	if err != nil {
		return &errs.StoreWriteError{Op: "invalidate_location", Err: err}
	}

	if len(referencedPaths) > 0 {
		args := make([]any, len(referencedPaths))
		for i, p := range referencedPaths {
			args[i] = p
		}
		_, err = b.ExecContext(ctx,
			"UPDATE assets SET dirty = dirty + 1 WHERE path IN ("+placeholders(len(args))+")", args...)
		if err != nil {
			return &errs.StoreWriteError{Op: "invalidate_location", Err: err}
		}
	}

	result, err := b.ExecContext(ctx, "DELETE FROM index_entries WHERE location_id = ?", locationID)
	if err != nil {
		return &errs.StoreWriteError{Op: "invalidate_location", Err: err}
	}
	recordRows("invalidate_location", result)
	return nil
}

func (d *Database) recordVersionTx(ctx context.Context, b *Batch, id int64) (int64, error) {
	var version int64
	err := b.QueryRowContext(ctx, "SELECT version FROM records WHERE id = ?", id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errs.NotFound("record", id)
	}
	return version, err
}

// GetRecord retrieves a location record by id.
func (d *Database) GetRecord(ctx context.Context, id int64) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	r, err := scanRecord(d.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("record", id)
	}
	return r, err
}

// GetRecordLocked reads a record inside a batch so the value and version seen
// are the ones the batch will overwrite.
func (d *Database) GetRecordLocked(ctx context.Context, b *Batch, id int64) (*Record, error) {
	r, err := scanRecord(b.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("record", id)
	}
	return r, err
}

// FindCandidateRecords returns every record whose value contains needle.
// It is a coarse prefilter; the scanner decides what actually references
// an asset.
func (d *Database) FindCandidateRecords(ctx context.Context, needle string) ([]*Record, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_candidates", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx,
		"SELECT "+recordColumns+` FROM records WHERE value LIKE ? ESCAPE '\' ORDER BY id`,
		"%"+escapeLike(needle)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r *Record
		if r, err = scanRecord(rows); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	err = rows.Err()
	return records, err
}

// CountRecords returns the number of location records.
func (d *Database) CountRecords(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

// UpdateRecordValueLocked overwrites a record's value inside a batch if its
// version still equals expectedVersion. The new version is returned.
func (d *Database) UpdateRecordValueLocked(ctx context.Context, b *Batch, id, expectedVersion int64, value string) (int64, error) {
	result, err := b.ExecContext(ctx, `
		UPDATE records SET value = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, value, d.now().Unix(), id, expectedVersion)
	if err != nil {
		return 0, &errs.StoreWriteError{Op: "update_record", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, lookupErr := d.recordVersionTx(ctx, b, id); lookupErr != nil {
			return 0, lookupErr
		}
		return 0, &errs.ConcurrencyError{Family: "records", Reason: fmt.Sprintf("record %d changed since it was read", id)}
	}
	return expectedVersion + 1, nil
}
