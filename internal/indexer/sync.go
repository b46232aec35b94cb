package indexer

import (
	"context"
	"fmt"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/logging"
	"mediaref/internal/scanner"
)

// listPageSize is how many assets are read per page when loading the
// library before a sync.
const listPageSize = 1000

// SyncStats summarises one library sync.
type SyncStats struct {
	Added     int    `json:"added"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Removed   int    `json:"removed"`
	Errors    int    `json:"errors"`
	Duration  string `json:"duration,omitempty"`
}

// Changed reports whether the sync added, updated or removed assets.
func (s SyncStats) Changed() bool {
	return s.Added+s.Updated+s.Removed > 0
}

// Sync walks the media directory, registers new image files, refreshes the
// facts of changed ones and deletes assets whose files are gone. The index
// entries of deleted assets remain and are reported as orphans until swept.
// Only one sync runs at a time; a concurrent call gets a ConcurrencyError.
func (idx *Indexer) Sync(ctx context.Context) (SyncStats, error) {
	if idx.mediaDir == "" {
		return SyncStats{}, errs.Validation("media_dir", "no media directory configured")
	}
	if !idx.tryStartSync() {
		return SyncStats{}, &errs.ConcurrencyError{Family: "sync", Reason: "library sync already running"}
	}

	start := time.Now()
	stats, err := idx.sync(ctx)
	stats.Duration = time.Since(start).Round(time.Millisecond).String()
	idx.finishSync(stats, err)

	if err != nil {
		return stats, err
	}
	logging.Info("Library sync complete: %d added, %d updated, %d removed, %d unchanged, %d errors in %s",
		stats.Added, stats.Updated, stats.Removed, stats.Unchanged, stats.Errors, stats.Duration)

	if stats.Changed() && idx.onSyncChanges != nil {
		idx.onSyncChanges(stats)
	}
	return stats, nil
}

func (idx *Indexer) sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	existing, err := idx.loadAssets(ctx)
	if err != nil {
		return stats, fmt.Errorf("load assets: %w", err)
	}
	known := make(map[string]knownFile, len(existing))
	for p, a := range existing {
		known[p] = knownFile{size: a.Size, updated: a.UpdatedAt}
	}

	walker := NewParallelWalker(ctx, idx.mediaDir, idx.opts.Walker, known)
	results, err := walker.Walk()
	if err != nil {
		// A partial walk must not delete assets it simply did not reach.
		return stats, fmt.Errorf("walk media directory: %w", err)
	}

	// Originals whose size variants appeared or vanished: the references
	// to those variants change owner, so the originals are re-indexed.
	reowned := make(map[string]struct{})
	variantChanged := func(p string) {
		if parent, ok := scanner.VariantParent(p); ok {
			reowned[parent] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.relPath] = struct{}{}
		switch {
		case r.err != nil:
			stats.Errors++
			continue
		case r.facts == nil:
			stats.Unchanged++
			continue
		}

		prev, existed := existing[r.relPath]
		a := &database.Asset{
			Path:        r.relPath,
			MimeType:    r.facts.MimeType,
			Size:        r.facts.Size,
			ContentHash: r.facts.ContentHash,
			Width:       r.facts.Width,
			Height:      r.facts.Height,
			CreatedAt:   r.modTime,
		}
		if err := idx.db.UpsertAsset(ctx, a); err != nil {
			return stats, err
		}
		// A touched but identical file only refreshes updated_at so the
		// next walk can skip it.
		switch {
		case existed && prev.ContentHash == r.facts.ContentHash:
			stats.Unchanged++
		case existed:
			stats.Updated++
		default:
			stats.Added++
			variantChanged(r.relPath)
		}
	}

	for p, a := range existing {
		if _, ok := seen[p]; ok {
			continue
		}
		if err := idx.db.DeleteAsset(ctx, a.ID); err != nil {
			logging.Warn("Failed to remove missing asset %d (%s): %v", a.ID, p, err)
			stats.Errors++
			continue
		}
		logging.Debug("Removed asset %d: %s no longer exists", a.ID, p)
		stats.Removed++
		variantChanged(p)
	}

	if err := idx.markReowned(ctx, reowned); err != nil {
		return stats, err
	}
	return stats, nil
}

// markReowned marks the registered originals among paths dirty.
func (idx *Indexer) markReowned(ctx context.Context, paths map[string]struct{}) error {
	var ids []int64
	for p := range paths {
		a, err := idx.db.GetAssetByPath(ctx, p)
		if errs.CodeOf(err) == errs.CodeNotFound {
			continue
		}
		if err != nil {
			return err
		}
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	logging.Debug("Re-indexing %d originals whose size variants changed", len(ids))
	return idx.db.MarkAssetsDirty(ctx, ids...)
}

// loadAssets reads every registered asset keyed by path.
func (idx *Indexer) loadAssets(ctx context.Context) (map[string]*database.Asset, error) {
	out := make(map[string]*database.Asset)
	var after int64
	for {
		page, err := idx.db.ListAssets(ctx, database.ListOptions{AfterID: after, Limit: listPageSize, Order: database.OrderByID})
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			out[a.Path] = a
			after = a.ID
		}
		if len(page) < listPageSize {
			return out, nil
		}
	}
}

// tryStartSync attempts to start a sync, returns false if one is running.
func (idx *Indexer) tryStartSync() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.syncing {
		return false
	}
	idx.syncing = true
	return true
}

// finishSync records the outcome of a sync.
func (idx *Indexer) finishSync(stats SyncStats, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.syncing = false
	idx.initialSyncComplete = true
	if err == nil {
		idx.lastSyncTime = time.Now()
		idx.lastSync = stats
	}
}
