package metrics

import (
	"context"
	"time"

	"mediaref/internal/logging"
)

// SummaryProvider supplies the usage-index aggregates exported as gauges.
type SummaryProvider interface {
	CollectStats(ctx context.Context) (Stats, error)
}

// Stats holds the current usage-index statistics
type Stats struct {
	EntriesByContext map[string]int
	IndexedAssets    int
	OrphanedEntries  int
	DerivedEntries   int
	DirtyAssets      int
}

// Collector periodically collects and updates metrics
type Collector struct {
	provider SummaryProvider
	interval time.Duration
	stopChan chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider SummaryProvider, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := c.provider.CollectStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	Apply(stats)

	logging.Debug("Metrics collected: indexed=%d, orphaned=%d, derived=%d, dirty=%d",
		stats.IndexedAssets, stats.OrphanedEntries, stats.DerivedEntries, stats.DirtyAssets)
}

// Apply copies a Stats snapshot into the exported gauges.
func Apply(stats Stats) {
	for _, label := range ContextLabels {
		UsageEntriesTotal.WithLabelValues(label).Set(float64(stats.EntriesByContext[label]))
	}
	UsageIndexedAssets.Set(float64(stats.IndexedAssets))
	UsageOrphanedEntries.Set(float64(stats.OrphanedEntries))
	UsageDerivedEntries.Set(float64(stats.DerivedEntries))
	IndexerDirtyAssets.Set(float64(stats.DirtyAssets))
}
