package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaref_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_actions_total",
			Help: "Total number of dispatched actions by outcome code",
		},
		[]string{"action", "code"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaref_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaref_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaref_db_rows_affected",
			Help:    "Rows affected by write operations",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Usage index metrics
var (
	UsageEntriesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaref_usage_entries",
			Help: "Number of usage index entries by context type",
		},
		[]string{"context"},
	)

	UsageIndexedAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_usage_indexed_assets",
			Help: "Number of distinct assets with at least one usage entry",
		},
	)

	UsageOrphanedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_usage_orphaned_entries",
			Help: "Number of usage entries whose asset no longer exists",
		},
	)

	UsageDerivedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_usage_derived_entries",
			Help: "Number of usage entries belonging to alternate-format copies",
		},
	)
)

// Indexer metrics
var (
	IndexerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_indexer_runs_total",
			Help: "Total number of index jobs started by mode",
		},
		[]string{"mode"},
	)

	IndexerChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediaref_indexer_chunk_duration_seconds",
			Help:    "Duration of a single index chunk in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	IndexerAssetsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_indexer_assets_processed_total",
			Help: "Total number of assets processed by the indexer",
		},
		[]string{"result"}, // "changed", "unchanged", "error"
	)

	IndexerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_indexer_last_run_timestamp",
			Help: "Unix timestamp of the last completed index job",
		},
	)

	IndexerDirtyAssets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_indexer_dirty_assets",
			Help: "Number of assets waiting for a smart re-index",
		},
	)
)

// Duplicate detection metrics
var (
	DuplicateScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_duplicate_scans_total",
			Help: "Total number of duplicate scans by kind",
		},
		[]string{"kind"}, // "quick", "deep"
	)

	DuplicateGroupsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_duplicate_groups_found_total",
			Help: "Total number of duplicate groups reported by confidence",
		},
		[]string{"confidence"},
	)

	FingerprintsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_fingerprints_computed_total",
			Help: "Total number of content hashes and perceptual fingerprints computed",
		},
		[]string{"status"},
	)

	FingerprintDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaref_fingerprint_duration_seconds",
			Help:    "Time to fingerprint a single asset",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"decoder"}, // "vips", "imaging"
	)
)

// Rename metrics
var (
	RenameItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_rename_items_total",
			Help: "Total number of rename items by mode and result",
		},
		[]string{"mode", "result"},
	)

	RenameReferencesRewritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaref_rename_references_rewritten_total",
			Help: "Total number of location records rewritten by renames",
		},
	)

	RenameRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaref_rename_rollbacks_total",
			Help: "Total number of per-item rename rollbacks",
		},
	)
)

// Memory metrics
var (
	MemoryLimitBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_memory_limit_bytes",
			Help: "Soft memory limit the memory monitor works against",
		},
	)

	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_memory_usage_ratio",
			Help: "Heap allocation as a ratio of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaref_memory_paused",
			Help: "Whether fingerprint work is paused for memory pressure (1 = paused)",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaref_memory_pauses_total",
			Help: "Total number of times memory pressure paused fingerprint work",
		},
	)
)

// Job metrics
var (
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_job_transitions_total",
			Help: "Total number of job status transitions",
		},
		[]string{"family", "status"},
	)

	JobActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaref_job_active",
			Help: "Whether a job family has an active job (1 = active, 0 = idle)",
		},
		[]string{"family"},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_filesystem_retry_attempts_total",
			Help: "Total number of filesystem retry attempts",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after a retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaref_filesystem_stale_errors_total",
			Help: "Total number of stale NFS file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaref_filesystem_retry_duration_seconds",
			Help:    "Total duration of retried filesystem operations",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "volume"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaref_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
