package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaref/internal/logging"
	"mediaref/internal/media"
	"mediaref/internal/mediatypes"
)

// ParallelWalkerConfig configures the library walk.
type ParallelWalkerConfig struct {
	// NumWorkers is the number of files probed concurrently
	NumWorkers int
	// ChannelBuffer bounds the queue between the walk and the probes
	ChannelBuffer int
	// SkipHidden ignores dot files and dot directories
	SkipHidden bool
}

// DefaultParallelWalkerConfig keeps the probe pool small so an NFS-backed
// library is not flooded. INDEX_WORKERS overrides the worker count.
func DefaultParallelWalkerConfig() ParallelWalkerConfig {
	cfg := ParallelWalkerConfig{NumWorkers: 3, ChannelBuffer: 1000, SkipHidden: true}
	if n, err := strconv.Atoi(os.Getenv("INDEX_WORKERS")); err == nil && n > 0 {
		cfg.NumWorkers = n
	}
	return cfg
}

// knownFile is what the walker needs to decide a file is unchanged.
type knownFile struct {
	size    int64
	updated time.Time
}

type probeTask struct {
	relPath string
	info    fs.FileInfo
}

// walkResult is one image file found by the walker. facts is nil when the
// file matched its known size and was not modified since the asset was
// last updated.
type walkResult struct {
	relPath string
	modTime time.Time
	facts   *media.Facts
	err     error
}

// ParallelWalker lists image files under the media directory and probes the
// new or modified ones with a bounded pool.
type ParallelWalker struct {
	config   ParallelWalkerConfig
	mediaDir string
	known    map[string]knownFile

	ctx    context.Context
	cancel context.CancelFunc

	probed    atomic.Int64
	unchanged atomic.Int64
	failed    atomic.Int64
}

// NewParallelWalker creates a walker. known maps relative paths of
// registered assets to their size and last update, and is only read.
func NewParallelWalker(ctx context.Context, mediaDir string, config ParallelWalkerConfig, known map[string]knownFile) *ParallelWalker {
	if config.NumWorkers < 1 {
		config.NumWorkers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &ParallelWalker{config: config, mediaDir: mediaDir, known: known, ctx: ctx, cancel: cancel}
}

// Walk returns one result per image file, in no particular order. A non-nil
// error means the walk was cancelled or the root was unreadable, and the
// results are incomplete.
func (pw *ParallelWalker) Walk() ([]walkResult, error) {
	defer pw.cancel()
	began := time.Now()
	logging.Info("Starting parallel library walk with %d workers", pw.config.NumWorkers)

	tasks := make(chan probeTask, pw.config.ChannelBuffer)
	var (
		mu      sync.Mutex
		results []walkResult
	)

	g, gctx := errgroup.WithContext(pw.ctx)
	for range pw.config.NumWorkers {
		g.Go(func() error {
			for task := range tasks {
				if gctx.Err() != nil {
					continue // drain
				}
				res := pw.probe(task)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			return nil
		})
	}

	walkErr := pw.enqueue(gctx, tasks)
	close(tasks)
	_ = g.Wait()

	logging.Info("Parallel walk complete: %d probed, %d unchanged in %v (errors: %d)",
		pw.probed.Load(), pw.unchanged.Load(), time.Since(began), pw.failed.Load())

	if walkErr == nil {
		walkErr = pw.ctx.Err()
	}
	return results, walkErr
}

// enqueue walks the tree and queues image files. Unreadable entries below
// the root are logged and skipped.
func (pw *ParallelWalker) enqueue(ctx context.Context, tasks chan<- probeTask) error {
	err := filepath.WalkDir(pw.mediaDir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		root := path == pw.mediaDir
		switch {
		case err != nil && root:
			return err
		case err != nil:
			logging.Warn("Error accessing path %s: %v", path, err)
			return nil
		case !root && pw.config.SkipHidden && strings.HasPrefix(d.Name(), "."):
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		case d.IsDir() || !mediatypes.IsImage(mediatypes.Ext(d.Name())):
			return nil
		}

		rel, relErr := filepath.Rel(pw.mediaDir, path)
		info, infoErr := d.Info()
		if relErr != nil || infoErr != nil {
			logging.Warn("Skipping %s: %v", path, errors.Join(relErr, infoErr))
			return nil
		}

		select {
		case tasks <- probeTask{relPath: filepath.ToSlash(rel), info: info}:
			return nil
		case <-ctx.Done():
			return fs.SkipAll
		}
	})
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

// probe reads a file's facts unless it is known and unchanged.
func (pw *ParallelWalker) probe(task probeTask) walkResult {
	res := walkResult{relPath: task.relPath, modTime: task.info.ModTime()}

	if k, ok := pw.known[task.relPath]; ok && k.size == task.info.Size() && !res.modTime.After(k.updated) {
		pw.unchanged.Add(1)
		return res
	}

	res.facts, res.err = media.Probe(pw.mediaDir, task.relPath, media.ProbeOptions{})
	if res.err != nil {
		pw.failed.Add(1)
		logging.Debug("Error probing %s: %v", task.relPath, res.err)
		return res
	}
	pw.probed.Add(1)
	return res
}

// Stop cancels the walk.
func (pw *ParallelWalker) Stop() {
	pw.cancel()
}

// Stats returns the running counters.
func (pw *ParallelWalker) Stats() (probed, unchanged, errors int64) {
	return pw.probed.Load(), pw.unchanged.Load(), pw.failed.Load()
}
