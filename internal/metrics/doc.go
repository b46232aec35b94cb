// Package metrics declares the Prometheus metrics exported by mediaref.
//
// Metrics are registered at package init through promauto and grouped by
// subsystem:
//
//   - HTTP: request counts, durations and in-flight requests for the action
//     endpoint and the operational routes
//   - Database: query counts and durations, transaction durations, rows
//     affected, open connections
//   - Usage index: entry totals by context type, orphaned and derived entries
//   - Indexer: runs, chunk durations, assets processed and per-asset errors
//   - Duplicates: scans by kind, groups found by confidence
//   - Rename: item outcomes by mode and result
//   - Jobs: status transitions per job family
//   - Filesystem: retry behaviour for stale NFS handles
//
// The Collector refreshes the usage-index gauges on an interval from any
// SummaryProvider, typically the database.
package metrics
