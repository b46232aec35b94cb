package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Keys of the metadata table.
const (
	keyLastIndexUpdate = "last_index_update"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putMetadata(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// lookupMetadata returns ok=false for a missing or empty key.
func (d *Database) lookupMetadata(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var v sql.NullString
	err = d.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return v.String, v.String != "", nil
}

// LastIndexUpdate returns when the usage index was last written, or the
// zero time if it never was.
func (d *Database) LastIndexUpdate(ctx context.Context) (time.Time, error) {
	v, ok, err := d.lookupMetadata(ctx, keyLastIndexUpdate)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// touchIndexUpdate records t as the last index write inside tx.
func touchIndexUpdate(ctx context.Context, tx *sql.Tx, t time.Time) error {
	return putMetadata(ctx, tx, keyLastIndexUpdate, t.UTC().Format(time.RFC3339Nano))
}
