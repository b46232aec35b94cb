package duplicates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/jobs"
	"mediaref/internal/logging"
	"mediaref/internal/media"
	"mediaref/internal/mediatypes"
	"mediaref/internal/metrics"
	"mediaref/internal/workers"
)

// maxBackfillWorkers caps fingerprint workers regardless of CPU count.
const maxBackfillWorkers = 8

// DeepProgress is the result of one deep scan call. Report is set on the
// call that completes the scan.
type DeepProgress struct {
	Offset        int                 `json:"offset"`
	NextOffset    int                 `json:"next_offset"`
	Total         int                 `json:"total"`
	Processed     int                 `json:"processed"`
	Fingerprinted int                 `json:"fingerprinted"`
	Errors        []database.JobError `json:"errors,omitempty"`
	Complete      bool                `json:"complete"`
	Report        *Report             `json:"report,omitempty"`
}

// DeepScanChunk backfills hashes and fingerprints for the chunk of the
// library starting at offset. When the chunk reaches the end of the library
// it classifies every asset and returns the report with Complete set. The
// caller drives the scan by passing NextOffset back in.
func (d *Detector) DeepScanChunk(ctx context.Context, offset int, confirmRemove []int64) (*DeepProgress, error) {
	if offset < 0 {
		return nil, errs.Validation("offset", "offset must not be negative")
	}
	if offset == 0 {
		metrics.DuplicateScansTotal.WithLabelValues("deep").Inc()
	}

	total, err := d.db.CountAssets(ctx)
	if err != nil {
		return nil, err
	}
	page, err := d.db.ListAssets(ctx, database.ListOptions{Offset: offset, Limit: d.opts.DeepChunk, Order: database.OrderByID})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	progress := &DeepProgress{Offset: offset, Total: total, Processed: len(page)}
	progress.Fingerprinted, progress.Errors = d.backfill(ctx, page)
	progress.NextOffset = offset + len(page)

	if len(page) == d.opts.DeepChunk && progress.NextOffset < total {
		return progress, nil
	}

	progress.Complete = true
	progress.Report, err = d.scanLibrary(ctx, confirmRemove)
	if err != nil {
		return nil, err
	}
	logging.Info("Deep duplicate scan complete: %d assets, %d groups",
		progress.Report.Totals.Candidates, progress.Report.Totals.Groups)
	return progress, nil
}

// scanLibrary classifies every stored asset.
func (d *Detector) scanLibrary(ctx context.Context, confirmRemove []int64) (*Report, error) {
	var all []*database.Asset
	var after int64
	for {
		page, err := d.db.ListAssets(ctx, database.ListOptions{AfterID: after, Limit: 1000, Order: database.OrderByID})
		if err != nil {
			return nil, fmt.Errorf("list assets: %w", err)
		}
		all = append(all, page...)
		if len(page) < 1000 {
			break
		}
		after = page[len(page)-1].ID
	}
	return d.Classify(ctx, all, confirmRemove)
}

// backfill computes missing content hashes and fingerprints in parallel.
// Per-asset failures are returned, not fatal; a store write failure is
// reported like any other so one bad row does not stop the scan.
func (d *Detector) backfill(ctx context.Context, assets []*database.Asset) (int, []database.JobError) {
	if d.mediaDir == "" {
		return 0, nil
	}

	var (
		done    atomic.Int64
		results = make([]*database.JobError, len(assets))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers.ForMixed(maxBackfillWorkers))

	for i, a := range assets {
		if a.Fingerprint != nil && a.ContentHash != "" {
			continue
		}
		if !mediatypes.IsImage(mediatypes.Ext(a.Path)) {
			continue
		}
		g.Go(func() error {
			if d.opts.Gate != nil {
				if err := d.opts.Gate.Wait(gctx); err != nil {
					return err
				}
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			ok, err := d.backfillOne(gctx, a)
			if err != nil {
				results[i] = &database.JobError{AssetID: a.ID, Item: a.Path, Reason: err.Error()}
				return nil
			}
			if ok {
				done.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.Warn("Fingerprint backfill interrupted: %v", err)
	}

	var failed []database.JobError
	for _, e := range results {
		if e != nil {
			failed = append(failed, *e)
		}
	}
	return int(done.Load()), failed
}

func (d *Detector) backfillOne(ctx context.Context, a *database.Asset) (bool, error) {
	full := filepath.Join(d.mediaDir, filepath.FromSlash(a.Path))

	hash := ""
	if a.ContentHash == "" {
		h, err := media.ContentHash(full)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		hash = h
	}

	fp, err := media.Fingerprint(full)
	if err != nil {
		if hash != "" {
			logging.Debug("Asset %d: hash only, %v", a.ID, err)
			a.ContentHash = hash
			return false, d.db.UpdateAssetFacts(ctx, a.ID, database.AssetFacts{
				MimeType: a.MimeType, Size: a.Size, ContentHash: hash, Width: a.Width, Height: a.Height,
			})
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		logging.Debug("Asset %d: no fingerprint: %v", a.ID, err)
		return false, nil
	}

	if err := d.db.UpdateAssetFingerprint(ctx, a.ID, hash, fp); err != nil {
		return false, err
	}
	a.Fingerprint = &fp
	if hash != "" {
		a.ContentHash = hash
	}
	return true, nil
}

// Runner runs the deep scan as the "deep_scan" job family. The cursor is
// the library offset; the final step classifies the library and reports
// the outcome as a job message.
type Runner struct {
	det *Detector
}

// NewRunner creates the deep scan job runner.
func NewRunner(det *Detector) *Runner {
	return &Runner{det: det}
}

// Prepare counts the library.
func (r *Runner) Prepare(ctx context.Context, _ *database.JobState) (int, error) {
	return r.det.db.CountAssets(ctx)
}

// Step backfills one chunk and, at the end, groups the library.
func (r *Runner) Step(ctx context.Context, st *database.JobState) (jobs.Progress, error) {
	offset := 0
	if st.Cursor != "" {
		n, err := strconv.Atoi(st.Cursor)
		if err != nil || n < 0 {
			return jobs.Progress{}, errs.Validation("cursor", "invalid deep scan cursor %q", st.Cursor)
		}
		offset = n
	}

	start := time.Now()
	p, err := r.det.DeepScanChunk(ctx, offset, nil)
	if err != nil {
		return jobs.Progress{}, err
	}
	if err := ctx.Err(); err != nil {
		return jobs.Progress{}, err
	}

	out := jobs.Progress{
		Cursor:    strconv.Itoa(p.NextOffset),
		Processed: p.Processed,
		Changed:   p.Fingerprinted,
		Errors:    p.Errors,
		Done:      p.Complete,
	}
	if p.Processed > 0 {
		out.Messages = append(out.Messages, fmt.Sprintf("Fingerprinted %d of %d assets at offset %d in %v",
			p.Fingerprinted, p.Processed, offset, time.Since(start).Round(time.Millisecond)))
	}
	if p.Complete {
		t := p.Report.Totals
		out.Messages = append(out.Messages, fmt.Sprintf("Found %d duplicate groups (%d exact, %d perceptual, %d filename); %d safe to remove",
			t.Groups, t.ByConfidence[ConfidenceExact], t.ByConfidence[ConfidencePerceptual], t.ByConfidence[ConfidenceFilename], t.SafeToRemove))
	}
	return out, nil
}
