package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaref/internal/errs"
)

const assetColumns = `id, path, mime_type, size, content_hash, fingerprint, width, height,
	created_at, updated_at, dirty, indexed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		a                    Asset
		fingerprint          sql.NullInt64
		indexedAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Path, &a.MimeType, &a.Size, &a.ContentHash, &fingerprint,
		&a.Width, &a.Height, &createdAt, &updatedAt, &a.DirtyGen, &indexedAt)
	if err != nil {
		return nil, err
	}
	if fingerprint.Valid {
		fp := uint64(fingerprint.Int64)
		a.Fingerprint = &fp
	}
	if indexedAt.Valid {
		a.IndexedAt = time.Unix(indexedAt.Int64, 0)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	a.Dirty = a.DirtyGen > 0
	return &a, nil
}

func fingerprintArg(fp *uint64) any {
	if fp == nil {
		return nil
	}
	// Stored as the signed bit pattern; SQLite integers are 64-bit signed.
	return int64(*fp)
}

// UpsertAsset inserts an asset or updates the one already stored at its path.
// A new asset, or a content hash change on an existing one, marks the asset
// dirty so the next smart index picks it up. a.ID is set on return.
func (d *Database) UpsertAsset(ctx context.Context, a *Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_asset", start, err) }()

	if a.Path == "" {
		err = errs.Validation("path", "asset path is required")
		return err
	}

	now := d.now()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = d.db.QueryRowContext(ctx, `
		INSERT INTO assets (path, mime_type, size, content_hash, fingerprint, width, height, created_at, updated_at, dirty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(path) DO UPDATE SET
			mime_type = excluded.mime_type,
			size = excluded.size,
			content_hash = excluded.content_hash,
			fingerprint = CASE
				WHEN assets.content_hash != excluded.content_hash THEN excluded.fingerprint
				ELSE COALESCE(excluded.fingerprint, assets.fingerprint)
			END,
			width = excluded.width,
			height = excluded.height,
			updated_at = excluded.updated_at,
			dirty = CASE
				WHEN assets.content_hash != excluded.content_hash THEN assets.dirty + 1
				ELSE assets.dirty
			END
		RETURNING id
	`, a.Path, a.MimeType, a.Size, a.ContentHash, fingerprintArg(a.Fingerprint), a.Width, a.Height,
		created.Unix(), now.Unix()).Scan(&a.ID)
	if err != nil {
		err = &errs.StoreWriteError{Op: "upsert_asset", Err: err}
	}
	return err
}

// AssetFacts are the file-derived properties the indexer refreshes.
type AssetFacts struct {
	MimeType    string
	Size        int64
	ContentHash string
	Fingerprint *uint64
	Width       int
	Height      int
}

// UpdateAssetFacts stores refreshed file facts without touching the dirty
// mark: the caller is the indexer, which is already re-indexing the asset.
// A nil fingerprint keeps the stored one unless the hash changed.
func (d *Database) UpdateAssetFacts(ctx context.Context, assetID int64, f AssetFacts) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_asset_facts", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, `
		UPDATE assets SET
			mime_type = ?,
			size = ?,
			fingerprint = CASE
				WHEN ? IS NOT NULL THEN ?
				WHEN content_hash != ? THEN NULL
				ELSE fingerprint
			END,
			content_hash = ?,
			width = ?,
			height = ?,
			updated_at = ?
		WHERE id = ?
	`, f.MimeType, f.Size, fingerprintArg(f.Fingerprint), fingerprintArg(f.Fingerprint), f.ContentHash,
		f.ContentHash, f.Width, f.Height, d.now().Unix(), assetID)
	if err != nil {
		err = &errs.StoreWriteError{Op: "update_asset_facts", AssetID: assetID, Err: err}
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		err = errs.NotFound("asset", assetID)
	}
	return err
}

// UpdateAssetFingerprint stores a freshly computed perceptual fingerprint and,
// when known, the content hash it was computed for.
func (d *Database) UpdateAssetFingerprint(ctx context.Context, assetID int64, hash string, fp uint64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_fingerprint", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE assets SET
			fingerprint = ?,
			content_hash = CASE WHEN ? != '' THEN ? ELSE content_hash END
		WHERE id = ?
	`, int64(fp), hash, hash, assetID)
	if err != nil {
		err = &errs.StoreWriteError{Op: "update_fingerprint", AssetID: assetID, Err: err}
	}
	return err
}

// GetAsset retrieves a single asset by id.
func (d *Database) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	a, err := scanAsset(d.db.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("asset", id)
	}
	return a, err
}

// GetAssetByPath retrieves a single asset by its storage path.
func (d *Database) GetAssetByPath(ctx context.Context, path string) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	a, err := scanAsset(d.db.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("asset", path)
	}
	return a, err
}

// GetAssets loads the given assets. Missing ids are absent from the result.
func (d *Database) GetAssets(ctx context.Context, ids []int64) (map[int64]*Asset, error) {
	out := make(map[int64]*Asset, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := "SELECT " + assetColumns + " FROM assets WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := d.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

// AssetOrder selects the ordering of ListAssets.
type AssetOrder int

const (
	// OrderByID lists assets by ascending id.
	OrderByID AssetOrder = iota
	// OrderNewest lists the most recently created assets first.
	OrderNewest
)

// ListOptions pages through assets.
type ListOptions struct {
	AfterID int64
	Offset  int
	Limit   int
	Order   AssetOrder
}

// ListAssets returns a page of assets.
func (d *Database) ListAssets(ctx context.Context, opts ListOptions) ([]*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_assets", start, err) }()

	if opts.Limit <= 0 {
		opts.Limit = 1000
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := "SELECT " + assetColumns + " FROM assets WHERE id > ? ORDER BY id LIMIT ? OFFSET ?"
	if opts.Order == OrderNewest {
		query = "SELECT " + assetColumns + " FROM assets WHERE id > ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	}

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, query, opts.AfterID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a *Asset
		a, err = scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	err = rows.Err()
	return assets, err
}

// FindAssetsByHash returns every asset with one of the given content hashes.
func (d *Database) FindAssetsByHash(ctx context.Context, hashes []string) ([]*Asset, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE content_hash != '' AND content_hash IN ("+placeholders(len(hashes))+") ORDER BY id",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// FindAssetsByPathPrefix returns assets in dir whose file name starts with
// prefix. Used to pull copy-pattern siblings into a bounded scan.
func (d *Database) FindAssetsByPathPrefix(ctx context.Context, pathPrefix string) ([]*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+assetColumns+` FROM assets WHERE path LIKE ? ESCAPE '\' ORDER BY id`,
		escapeLike(pathPrefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// CountAssets returns the number of stored assets.
func (d *Database) CountAssets(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&n)
	return n, err
}

// DeleteAsset removes an asset record. Its index entries are left in place
// and surface as orphans until swept.
func (d *Database) DeleteAsset(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_asset", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id)
	if err != nil {
		err = &errs.StoreWriteError{Op: "delete_asset", AssetID: id, Err: err}
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		err = errs.NotFound("asset", id)
		return err
	}
	_, err = d.db.ExecContext(ctx, "DELETE FROM rename_suggestions WHERE asset_id = ?", id)
	return err
}

// MarkAssetsDirty flags the given assets for the next smart index.
func (d *Database) MarkAssetsDirty(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("mark_dirty", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var result sql.Result
	result, err = d.db.ExecContext(ctx,
		"UPDATE assets SET dirty = dirty + 1 WHERE id IN ("+placeholders(len(ids))+")", int64Args(ids)...)
	if err != nil {
		return &errs.StoreWriteError{Op: "mark_dirty", Err: err}
	}
	recordRows("mark_dirty", result)
	return nil
}

// MarkAllDirty flags every asset and returns how many there are.
func (d *Database) MarkAllDirty(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "UPDATE assets SET dirty = dirty + 1")
	if err != nil {
		return 0, &errs.StoreWriteError{Op: "mark_all_dirty", Err: err}
	}
	recordRows("mark_dirty", result)
	n, err := result.RowsAffected()
	return int(n), err
}

// CountDirty returns how many assets are waiting for a smart index.
func (d *Database) CountDirty(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets WHERE dirty > 0").Scan(&n)
	return n, err
}

// NextDirtyAssets returns up to limit dirty assets with id above afterID.
func (d *Database) NextDirtyAssets(ctx context.Context, afterID int64, limit int) ([]*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("next_dirty", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE dirty > 0 AND id > ? ORDER BY id LIMIT ?", afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a *Asset
		if a, err = scanAsset(rows); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	err = rows.Err()
	return assets, err
}

// UpdateAssetPathLocked moves an asset to newPath inside a batch. The caller
// holds the asset lock.
func (d *Database) UpdateAssetPathLocked(ctx context.Context, b *Batch, assetID int64, newPath string) error {
	result, err := b.ExecContext(ctx, "UPDATE assets SET path = ?, updated_at = ? WHERE id = ?",
		newPath, d.now().Unix(), assetID)
	if err != nil {
		return &errs.StoreWriteError{Op: "update_asset_path", AssetID: assetID, Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.NotFound("asset", assetID)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// escapeLike escapes LIKE wildcards so s matches literally with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (a *Asset) String() string {
	return fmt.Sprintf("asset %d (%s)", a.ID, a.Path)
}
