package rename

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/filesystem"
	"mediaref/internal/logging"
	"mediaref/internal/metrics"
	"mediaref/internal/scanner"
)

// Mode selects how many items one Apply call may touch.
type Mode string

const (
	ModeTest Mode = "test"
	ModeFull Mode = "full"
)

const (
	// TestModeLimit caps a test run regardless of how many items are given.
	TestModeLimit = 5

	DefaultBatchSize = 20
	MaxBatchSize     = 25

	// DefaultFreshness is how old an asset's index may be before a rename
	// refuses to trust it.
	DefaultFreshness = 24 * time.Hour
)

// Result is the outcome of one rename item.
type Result string

const (
	ResultSuccess Result = "success"
	ResultSkipped Result = "skipped"
	ResultError   Result = "error"
)

// Item is an accepted new name for an asset.
type Item struct {
	AssetID int64  `json:"asset_id"`
	NewName string `json:"new_name"`
}

// ItemResult reports what happened to one item.
type ItemResult struct {
	AssetID    int64     `json:"asset_id"`
	OldName    string    `json:"old_name,omitempty"`
	NewName    string    `json:"new_name,omitempty"`
	OldPath    string    `json:"old_path,omitempty"`
	NewPath    string    `json:"new_path,omitempty"`
	Result     Result    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
	Code       errs.Code `json:"code,omitempty"`
	References int       `json:"references"`
	Files      int       `json:"files"`
	// Related lists the size variant and alternate-format assets that were
	// renamed along with this one.
	Related []int64 `json:"related_assets,omitempty"`
}

// Summary counts item outcomes.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Error   int `json:"error"`
}

// BatchInfo tells the caller where the next batch starts.
type BatchInfo struct {
	Mode           Mode `json:"mode"`
	Cursor         int  `json:"cursor"`
	NextCursor     int  `json:"next_cursor"`
	BatchSize      int  `json:"batch_size"`
	TotalItems     int  `json:"total_items"`
	HasMoreBatches bool `json:"has_more_batches"`
}

// Outcome is the result of one Apply call.
type Outcome struct {
	Results   []ItemResult `json:"results"`
	Summary   Summary      `json:"summary"`
	BatchInfo BatchInfo    `json:"batch_info"`
}

// Options configures an Engine.
type Options struct {
	// Freshness is the largest accepted age of an asset's index.
	Freshness time.Duration
	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// Engine renames assets and rewrites every reference to them.
type Engine struct {
	db       *database.Database
	sc       *scanner.Scanner
	mediaDir string
	opts     Options
	now      func() time.Time
}

// New creates an Engine. Without a media directory only references and the
// asset record are renamed.
func New(db *database.Database, sc *scanner.Scanner, mediaDir string, opts Options) *Engine {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{db: db, sc: sc, mediaDir: mediaDir, opts: opts, now: now}
}

// Suggested builds items from the stored rename suggestions of the given
// assets, in order. An asset without a suggestion gets an empty name and
// fails validation when applied.
func (e *Engine) Suggested(ctx context.Context, ids []int64) ([]Item, error) {
	suggestions, err := e.db.GetRenameSuggestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, Item{AssetID: id, NewName: suggestions[id].SuggestedName})
	}
	return items, nil
}

// window returns the slice of items this call processes.
func window(items []Item, mode Mode, batchSize, cursor int) ([]Item, BatchInfo, error) {
	info := BatchInfo{Mode: mode, Cursor: cursor, TotalItems: len(items)}
	switch mode {
	case ModeTest:
		n := min(len(items), TestModeLimit)
		info.Cursor, info.NextCursor, info.BatchSize = 0, n, n
		return items[:n], info, nil
	case ModeFull:
	default:
		return nil, info, errs.Validation("mode", "unknown rename mode %q", mode)
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchSize = min(batchSize, MaxBatchSize)
	if cursor < 0 || cursor > len(items) {
		return nil, info, errs.Validation("cursor", "cursor %d is outside 0..%d", cursor, len(items))
	}
	end := min(cursor+batchSize, len(items))
	info.BatchSize = batchSize
	info.NextCursor = end
	info.HasMoreBatches = end < len(items)
	return items[cursor:end], info, nil
}

// Apply renames one batch of items. In test mode at most TestModeLimit
// items are processed and the cursor is ignored. In full mode the batch
// starts at cursor; the caller repeats with NextCursor until
// HasMoreBatches is false. Item failures are reported per item and never
// stop the batch.
func (e *Engine) Apply(ctx context.Context, items []Item, mode Mode, batchSize, cursor int) (*Outcome, error) {
	if len(items) == 0 {
		return nil, errs.Validation("items", "no rename items given")
	}
	batch, info, err := window(items, mode, batchSize, cursor)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Results: make([]ItemResult, 0, len(batch)), BatchInfo: info}
	for _, it := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := e.applyOne(ctx, it)
		metrics.RenameItemsTotal.WithLabelValues(string(mode), string(res.Result)).Inc()

		switch res.Result {
		case ResultSuccess:
			out.Summary.Success++
		case ResultSkipped:
			out.Summary.Skipped++
		default:
			out.Summary.Error++
		}
		out.Results = append(out.Results, res)
	}
	out.Summary.Total = len(out.Results)

	logging.Info("Rename batch %d-%d (%s): %d success, %d skipped, %d error",
		info.Cursor, info.NextCursor, mode, out.Summary.Success, out.Summary.Skipped, out.Summary.Error)
	return out, nil
}

func (e *Engine) applyOne(ctx context.Context, it Item) ItemResult {
	res := ItemResult{AssetID: it.AssetID}
	fail := func(err error) ItemResult {
		res.Result, res.Reason, res.Code = ResultError, err.Error(), errs.CodeOf(err)
		return res
	}
	skip := func(reason string) ItemResult {
		res.Result, res.Reason = ResultSkipped, reason
		return res
	}

	stem := Sanitize(it.NewName)
	if stem == "" {
		return fail(errs.Validation("new_name", "new name %q has no usable characters", it.NewName))
	}

	unlock := e.db.LockAsset(it.AssetID)
	defer unlock()

	a, err := e.db.GetAsset(ctx, it.AssetID)
	if err != nil {
		return fail(err)
	}
	res.OldPath, res.OldName = a.Path, path.Base(a.Path)
	newPath := targetPath(a.Path, stem)
	res.NewPath, res.NewName = newPath, path.Base(newPath)

	if newPath == a.Path {
		return skip("name unchanged")
	}
	if _, err := e.db.GetAssetByPath(ctx, newPath); err == nil {
		return skip("target name already in use")
	} else if errs.CodeOf(err) != errs.CodeNotFound {
		return fail(err)
	}
	if e.mediaDir != "" && filesystem.Exists(e.abs(newPath), filesystem.DefaultRetryConfig()) {
		return skip("target file already exists")
	}

	if err := e.checkFresh(a); err != nil {
		return fail(err)
	}

	related, err := e.relatedAssets(ctx, a, newPath)
	if err != nil {
		return fail(err)
	}
	for _, rel := range related {
		unlock := e.db.LockAsset(rel.asset.ID)
		defer unlock()

		// Re-read under the lock; a concurrent rename may have moved it.
		cur, err := e.db.GetAsset(ctx, rel.asset.ID)
		if err != nil {
			return fail(err)
		}
		if cur.Path != rel.asset.Path {
			return fail(&errs.StaleIndexError{AssetID: cur.ID})
		}
		rel.asset = cur
		if _, err := e.db.GetAssetByPath(ctx, rel.to); err == nil {
			return skip(fmt.Sprintf("target %s already in use", path.Base(rel.to)))
		} else if errs.CodeOf(err) != errs.CodeNotFound {
			return fail(err)
		}
		if err := e.checkFresh(cur); err != nil {
			return fail(err)
		}
	}

	refs, files, err := e.rename(ctx, a, newPath, related)
	if err != nil {
		logging.Warn("Rename of asset %d to %s failed: %v", a.ID, newPath, err)
		return fail(err)
	}

	if err := e.db.DeleteRenameSuggestion(ctx, a.ID); err != nil {
		logging.Warn("Failed to clear rename suggestion for asset %d: %v", a.ID, err)
	}
	for _, rel := range related {
		res.Related = append(res.Related, rel.asset.ID)
	}
	res.Result, res.References, res.Files = ResultSuccess, refs, files
	logging.Info("Renamed asset %d: %s -> %s (%d references, %d files)", a.ID, a.Path, newPath, refs, files)
	return res
}

// checkFresh refuses assets whose index is dirty or too old to trust.
func (e *Engine) checkFresh(a *database.Asset) error {
	if a.IndexedAt.IsZero() {
		return &errs.StaleIndexError{AssetID: a.ID}
	}
	if a.Dirty || e.now().Sub(a.IndexedAt) > e.opts.Freshness {
		return &errs.StaleIndexError{AssetID: a.ID, IndexedAt: a.IndexedAt.UTC().Format(time.RFC3339)}
	}
	return nil
}

// relatedAsset is a registered asset that moves with the one being renamed.
type relatedAsset struct {
	asset *database.Asset
	to    string
}

// relatedAssets finds the registered size variants and appended-format
// copies of a, with the paths they take when a moves to newPath.
func (e *Engine) relatedAssets(ctx context.Context, a *database.Asset, newPath string) ([]*relatedAsset, error) {
	candidates, err := e.db.FindAssetsByPathPrefix(ctx, strings.TrimSuffix(a.Path, path.Ext(a.Path)))
	if err != nil {
		return nil, err
	}
	var out []*relatedAsset
	for _, c := range candidates {
		if c.ID == a.ID || path.Dir(c.Path) != path.Dir(a.Path) {
			continue
		}
		if to, ok := relatedTarget(a.Path, newPath, path.Base(c.Path)); ok {
			out = append(out, &relatedAsset{asset: c, to: to})
		}
	}
	return out, nil
}

// rename rewrites every indexed reference, moves the files and re-points
// the asset, its related assets and all their entries, all or nothing. The
// caller holds the locks of every asset involved. It returns the number of
// references rewritten and files moved.
func (e *Engine) rename(ctx context.Context, a *database.Asset, newPath string, related []*relatedAsset) (refs, files int, err error) {
	type group struct {
		id        int64
		to        string
		locations []database.IndexEntry
	}
	groups := []group{{id: a.ID, to: newPath}}
	exact := map[string]string{a.Path: newPath}
	for _, rel := range related {
		groups = append(groups, group{id: rel.asset.ID, to: rel.to})
		exact[rel.asset.Path] = rel.to
	}
	for i := range groups {
		if groups[i].locations, err = e.db.QueryLocations(ctx, groups[i].id); err != nil {
			return 0, 0, err
		}
	}

	b, err := e.db.BeginBatch(ctx)
	if err != nil {
		return 0, 0, &errs.StoreWriteError{Op: "rename", AssetID: a.ID, Err: err}
	}

	var moved []move
	defer func() {
		err = e.db.EndBatch(b, err)
		if err != nil && len(moved) > 0 {
			e.undoMoves(moved)
		}
		if err != nil {
			metrics.RenameRollbacksTotal.Inc()
		}
	}()

	renamer := scanner.MapRenamer(exact, scanner.PathRenamer(a.Path, newPath))

	seen := make(map[int64]bool)
	for _, g := range groups {
		for _, loc := range g.locations {
			if seen[loc.LocationID] {
				continue
			}
			seen[loc.LocationID] = true

			r, err := e.db.GetRecordLocked(ctx, b, loc.LocationID)
			if err != nil {
				return 0, 0, fmt.Errorf("read record %d: %w", loc.LocationID, err)
			}
			value, n := e.sc.RewriteRecord(r, renamer)
			if n == 0 {
				// The index promised a reference the record no longer holds.
				return 0, 0, &errs.StaleIndexError{AssetID: g.id}
			}
			if _, err := e.db.UpdateRecordValueLocked(ctx, b, r.ID, r.Version, value); err != nil {
				return 0, 0, err
			}
			refs += n
		}
	}

	for _, g := range groups {
		if err := e.db.UpdateAssetPathLocked(ctx, b, g.id, g.to); err != nil {
			return 0, 0, err
		}
		entries := make([]database.IndexEntry, 0, len(g.locations))
		for _, loc := range g.locations {
			raw, _ := e.sc.RewriteText(loc.RawReference, renamer)
			loc.RawReference = raw
			loc.AssetPath = g.to
			entries = append(entries, loc)
		}
		if err := e.db.UpsertEntriesLocked(ctx, b, g.id, entries); err != nil {
			return 0, 0, err
		}
	}

	if e.mediaDir != "" {
		moves, err := e.fileMoves(a.Path, newPath)
		if err != nil {
			return 0, 0, err
		}
		if moved, err = e.moveFiles(moves); err != nil {
			return 0, 0, err
		}
	}

	metrics.RenameReferencesRewritten.Add(float64(refs))
	return refs, len(moved), nil
}
