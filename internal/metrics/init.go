package metrics

// Label sets pre-populated by InitializeMetrics.
var (
	ContextLabels    = []string{"content", "structured_meta", "config_record"}
	ConfidenceLabels = []string{"exact", "perceptual", "filename-pattern"}
	JobFamilyLabels  = []string{"index", "rename", "deep_scan"}
	JobStatusLabels  = []string{"queued", "running", "paused", "complete", "failed", "cancelled"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, c := range ContextLabels {
		UsageEntriesTotal.WithLabelValues(c)
	}

	for _, r := range []string{"changed", "unchanged", "error"} {
		IndexerAssetsProcessed.WithLabelValues(r)
	}
	for _, m := range []string{"smart", "full"} {
		IndexerRunsTotal.WithLabelValues(m)
	}

	for _, k := range []string{"quick", "deep"} {
		DuplicateScansTotal.WithLabelValues(k)
	}
	for _, c := range ConfidenceLabels {
		DuplicateGroupsFound.WithLabelValues(c)
	}
	for _, s := range []string{"success", "error", "missing"} {
		FingerprintsComputed.WithLabelValues(s)
	}
	for _, d := range []string{"vips", "imaging"} {
		FingerprintDuration.WithLabelValues(d)
	}

	for _, m := range []string{"test", "full"} {
		for _, r := range []string{"success", "skipped", "error"} {
			RenameItemsTotal.WithLabelValues(m, r)
		}
	}

	for _, f := range JobFamilyLabels {
		JobActive.WithLabelValues(f)
		for _, s := range JobStatusLabels {
			JobTransitionsTotal.WithLabelValues(f, s)
		}
	}

	volumes := []string{"media", "database", "unknown"}
	for _, op := range []string{"stat", "rename"} {
		for _, vol := range volumes {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, op := range []string{"upsert_entries", "remove_asset", "query_locations", "get_summary",
		"detect_orphans", "detect_derived", "sweep_orphans", "save_record", "candidate_records",
		"job_cas", "upsert_asset"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
