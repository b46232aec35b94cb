package indexer

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/errs"
	"mediaref/internal/logging"
	"mediaref/internal/media"
	"mediaref/internal/scanner"
)

// Options configures an Indexer.
type Options struct {
	// Fingerprint computes perceptual fingerprints while indexing. Without
	// it fingerprints are left to the deep duplicate scan.
	Fingerprint bool

	// SyncInterval re-walks the media directory this often. Zero disables
	// periodic syncs.
	SyncInterval time.Duration

	// Walker configures the parallel directory walker.
	Walker ParallelWalkerConfig
}

// Indexer maintains the usage index for one media directory and content
// store.
type Indexer struct {
	db       *database.Database
	scanner  *scanner.Scanner
	mediaDir string
	opts     Options
	stopChan chan struct{}
	stopOnce sync.Once

	mu                  sync.Mutex
	syncing             bool
	lastSyncTime        time.Time
	lastSync            SyncStats
	initialSyncComplete bool
	initialSyncError    error
	startTime           time.Time

	// Called after every successful sync that added or changed assets.
	onSyncChanges func(SyncStats)
}

// New creates an Indexer. mediaDir may be empty when assets are registered
// through the API only; file facts are then never refreshed.
func New(db *database.Database, sc *scanner.Scanner, mediaDir string, opts Options) *Indexer {
	if opts.Walker.NumWorkers <= 0 {
		opts.Walker = DefaultParallelWalkerConfig()
	}
	return &Indexer{
		db:        db,
		scanner:   sc,
		mediaDir:  mediaDir,
		opts:      opts,
		stopChan:  make(chan struct{}),
		startTime: time.Now(),
	}
}

// Scanner returns the content scanner the indexer uses.
func (idx *Indexer) Scanner() *scanner.Scanner {
	return idx.scanner
}

// MediaDir returns the media root, or "" when there is none.
func (idx *Indexer) MediaDir() string {
	return idx.mediaDir
}

// SetOnSyncChanges sets a callback invoked after a sync that added or
// changed assets.
func (idx *Indexer) SetOnSyncChanges(callback func(SyncStats)) {
	idx.onSyncChanges = callback
}

// IndexAsset refreshes the asset's file facts, rescans every location
// record that may reference it and replaces its index entries. It reports
// whether the stored entry set changed.
func (idx *Indexer) IndexAsset(ctx context.Context, a *database.Asset) (bool, error) {
	if err := idx.refreshFacts(ctx, a); err != nil {
		return false, err
	}

	entries, err := idx.scanUsage(ctx, a)
	if err != nil {
		return false, err
	}

	changed, err := idx.db.UpsertIndexedEntries(ctx, a, entries)
	if err != nil {
		return false, err
	}
	if changed {
		logging.Debug("Asset %d (%s): %d references", a.ID, a.Path, len(entries))
	}
	return changed, nil
}

// ScanAssetUsage performs the same live scan as IndexAsset but writes
// nothing. It is used to double-check the stored index before acting on it.
func (idx *Indexer) ScanAssetUsage(ctx context.Context, a *database.Asset) ([]database.IndexEntry, error) {
	return idx.scanUsage(ctx, a)
}

func (idx *Indexer) scanUsage(ctx context.Context, a *database.Asset) ([]database.IndexEntry, error) {
	records, err := idx.candidateRecords(ctx, a.Path)
	if err != nil {
		return nil, err
	}

	// A size variant registered as an asset of its own owns its references;
	// only unregistered variants count toward the original.
	registered := make(map[string]bool)
	ownedElsewhere := func(p string) (bool, error) {
		if p == a.Path {
			return false, nil
		}
		if v, ok := registered[p]; ok {
			return v, nil
		}
		_, err := idx.db.GetAssetByPath(ctx, p)
		switch {
		case err == nil:
			registered[p] = true
		case errs.CodeOf(err) == errs.CodeNotFound:
			registered[p] = false
		default:
			return false, err
		}
		return registered[p], nil
	}

	var entries []database.IndexEntry
	for _, r := range records {
		for _, ref := range idx.scanner.ScanRecord(r) {
			if !ref.Match.Resolves(a.Path) {
				continue
			}
			owned, err := ownedElsewhere(ref.Match.Path)
			if err != nil {
				return nil, err
			}
			if !owned {
				entries = append(entries, ref.Entry(a.ID, a.Path))
			}
		}
	}
	return entries, nil
}

// candidateRecords returns the records whose raw value mentions the file
// stem, either literally or percent-encoded. Size variants share the stem,
// so they are found too.
func (idx *Indexer) candidateRecords(ctx context.Context, assetPath string) ([]*database.Record, error) {
	base := path.Base(assetPath)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		stem = base
	}

	needles := []string{stem}
	if escaped := url.PathEscape(stem); escaped != stem {
		needles = append(needles, escaped)
	}

	seen := make(map[int64]struct{})
	var out []*database.Record
	for _, needle := range needles {
		records, err := idx.db.FindCandidateRecords(ctx, needle)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

// refreshFacts re-reads hash, size and dimensions of the asset's file. A
// missing file is not an error: the asset's references are still indexed.
func (idx *Indexer) refreshFacts(ctx context.Context, a *database.Asset) error {
	if idx.mediaDir == "" {
		return nil
	}

	facts, err := media.Probe(idx.mediaDir, a.Path, media.ProbeOptions{})
	if errors.Is(err, fs.ErrNotExist) {
		logging.Debug("Asset %d file %s is missing; indexing references only", a.ID, a.Path)
		return nil
	}
	if err != nil {
		return err
	}

	if idx.opts.Fingerprint && (a.Fingerprint == nil || facts.ContentHash != a.ContentHash) {
		full := filepath.Join(idx.mediaDir, filepath.FromSlash(a.Path))
		if fp, err := media.Fingerprint(full); err == nil {
			facts.Fingerprint = &fp
		} else {
			logging.Debug("No fingerprint for asset %d: %v", a.ID, err)
		}
	}

	err = idx.db.UpdateAssetFacts(ctx, a.ID, database.AssetFacts{
		MimeType:    facts.MimeType,
		Size:        facts.Size,
		ContentHash: facts.ContentHash,
		Fingerprint: facts.Fingerprint,
		Width:       facts.Width,
		Height:      facts.Height,
	})
	if err != nil {
		return err
	}

	if facts.ContentHash != a.ContentHash {
		a.Fingerprint = nil
	}
	a.MimeType, a.Size, a.ContentHash = facts.MimeType, facts.Size, facts.ContentHash
	a.Width, a.Height = facts.Width, facts.Height
	if facts.Fingerprint != nil {
		a.Fingerprint = facts.Fingerprint
	}
	return nil
}

// SaveRecord stores a location record and invalidates the index entries it
// owned. Every asset referenced before or after the edit is marked dirty.
func (idx *Indexer) SaveRecord(ctx context.Context, r *database.Record) error {
	return idx.db.SaveRecord(ctx, r, idx.scanner.ReferencedPaths(r))
}

// Start runs the initial library sync in the background and then re-syncs
// every SyncInterval. It does nothing without a media directory.
func (idx *Indexer) Start() {
	if idx.mediaDir == "" {
		idx.mu.Lock()
		idx.initialSyncComplete = true
		idx.mu.Unlock()
		return
	}

	go func() {
		logging.Info("Starting initial library sync in background...")
		ctx := idx.stopContext()
		if _, err := idx.Sync(ctx); err != nil {
			logging.Error("Initial library sync error: %v", err)
			idx.mu.Lock()
			idx.initialSyncError = err
			idx.mu.Unlock()
		}
	}()

	if idx.opts.SyncInterval > 0 {
		go idx.periodicSync()
	}
}

// Stop stops background syncs. It is safe to call more than once.
func (idx *Indexer) Stop() {
	idx.stopOnce.Do(func() { close(idx.stopChan) })
}

// stopContext returns a context cancelled by Stop.
func (idx *Indexer) stopContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-idx.stopChan
		cancel()
	}()
	return ctx
}

func (idx *Indexer) periodicSync() {
	ticker := time.NewTicker(idx.opts.SyncInterval)
	defer ticker.Stop()

	ctx := idx.stopContext()
	for {
		select {
		case <-ticker.C:
			logging.Debug("Periodic library sync triggered")
			var conflict *errs.ConcurrencyError
			if _, err := idx.Sync(ctx); err != nil && !errors.As(err, &conflict) {
				logging.Error("Periodic library sync failed: %v", err)
			}
		case <-idx.stopChan:
			return
		}
	}
}

// IsReady reports whether the initial library sync has finished.
func (idx *Indexer) IsReady() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.initialSyncComplete
}

// HealthStatus contains health check information.
type HealthStatus struct {
	Ready            bool      `json:"ready"`
	Syncing          bool      `json:"syncing"`
	StartTime        time.Time `json:"startTime"`
	Uptime           string    `json:"uptime"`
	LastSynced       time.Time `json:"lastSynced,omitzero"`
	InitialSyncError string    `json:"initialSyncError,omitempty"`
	MediaDir         string    `json:"mediaDir,omitempty"`
	LastSync         SyncStats `json:"lastSync"`
}

// GetHealthStatus returns detailed health information.
func (idx *Indexer) GetHealthStatus() HealthStatus {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	status := HealthStatus{
		Ready:      idx.initialSyncComplete,
		Syncing:    idx.syncing,
		StartTime:  idx.startTime,
		Uptime:     time.Since(idx.startTime).Round(time.Second).String(),
		LastSynced: idx.lastSyncTime,
		MediaDir:   idx.mediaDir,
		LastSync:   idx.lastSync,
	}
	if idx.initialSyncError != nil {
		status.InitialSyncError = idx.initialSyncError.Error()
	}
	return status
}
