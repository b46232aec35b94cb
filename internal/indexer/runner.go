package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/jobs"
	"mediaref/internal/logging"
	"mediaref/internal/metrics"
)

// DefaultChunkSize is the number of assets indexed per job step.
const DefaultChunkSize = 25

// Runner runs index jobs for the scheduler. The cursor is the id of the
// last asset visited; every chunk picks up the next dirty assets after it.
type Runner struct {
	idx   *Indexer
	chunk int
}

// NewRunner creates the index job runner. chunk <= 0 uses DefaultChunkSize.
func NewRunner(idx *Indexer, chunk int) *Runner {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Runner{idx: idx, chunk: chunk}
}

// Prepare starts an index job. A full job clears the usage index and marks
// every asset dirty first; a smart job only counts what is already dirty.
func (r *Runner) Prepare(ctx context.Context, st *database.JobState) (int, error) {
	mode := st.Mode
	switch mode {
	case jobs.ModeSmart, "":
		mode = jobs.ModeSmart
	case jobs.ModeFull:
		queued, err := r.idx.db.TruncateEntries(ctx)
		if err != nil {
			return 0, err
		}
		logging.Info("Full index: usage index cleared, %d assets queued", queued)
	default:
		return 0, errs.Validation("mode", "unknown index mode %q", st.Mode)
	}

	metrics.IndexerRunsTotal.WithLabelValues(mode).Inc()

	total, err := r.idx.db.CountDirty(ctx)
	if err != nil {
		return 0, err
	}
	metrics.IndexerDirtyAssets.Set(float64(total))
	return total, nil
}

// Step indexes the next chunk of dirty assets. A failure on one asset is
// recorded and the chunk continues; a StoreWriteError fails the job so the
// cursor stays at the last committed chunk.
func (r *Runner) Step(ctx context.Context, st *database.JobState) (jobs.Progress, error) {
	start := time.Now()
	defer func() {
		metrics.IndexerChunkDuration.Observe(time.Since(start).Seconds())
	}()

	after, err := parseCursor(st.Cursor)
	if err != nil {
		return jobs.Progress{}, err
	}

	assets, err := r.idx.db.NextDirtyAssets(ctx, after, r.chunk)
	if err != nil {
		return jobs.Progress{}, fmt.Errorf("load dirty assets: %w", err)
	}

	p := jobs.Progress{Cursor: st.Cursor}
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return jobs.Progress{}, err
		}

		changed, err := r.idx.IndexAsset(ctx, a)
		var storeErr *errs.StoreWriteError
		switch {
		case errors.As(err, &storeErr):
			metrics.IndexerAssetsProcessed.WithLabelValues("error").Inc()
			return jobs.Progress{}, err
		case err != nil:
			metrics.IndexerAssetsProcessed.WithLabelValues("error").Inc()
			logging.Warn("Index asset %d (%s) failed: %v", a.ID, a.Path, err)
			p.Errors = append(p.Errors, database.JobError{AssetID: a.ID, Item: a.Path, Reason: err.Error()})
		case changed:
			metrics.IndexerAssetsProcessed.WithLabelValues("changed").Inc()
			p.Changed++
		default:
			metrics.IndexerAssetsProcessed.WithLabelValues("unchanged").Inc()
		}
		p.Processed++
		p.Cursor = strconv.FormatInt(a.ID, 10)
	}

	if len(assets) > 0 {
		p.Messages = append(p.Messages, fmt.Sprintf("Indexed %d assets through id %s (%d changed)",
			p.Processed, p.Cursor, p.Changed))
	}

	p.Done = len(assets) < r.chunk
	if p.Done {
		metrics.IndexerLastRunTimestamp.SetToCurrentTime()
		if dirty, err := r.idx.db.CountDirty(ctx); err == nil {
			metrics.IndexerDirtyAssets.Set(float64(dirty))
		}
	}
	return p, nil
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, errs.Validation("cursor", "invalid index cursor %q", cursor)
	}
	return id, nil
}
