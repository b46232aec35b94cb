package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mediaref/internal/filesystem"
)

// retryObserver feeds filesystem retry events into Prometheus vectors, all
// labelled by operation and volume.
type retryObserver struct {
	attempts, successes, failures, stale *prometheus.CounterVec
	duration                             *prometheus.HistogramVec
}

// NewFilesystemObserver reports filesystem retries through the package's
// Filesystem* metrics.
func NewFilesystemObserver() filesystem.Observer {
	return &retryObserver{
		attempts:  FilesystemRetryAttempts,
		successes: FilesystemRetrySuccess,
		failures:  FilesystemRetryFailures,
		stale:     FilesystemStaleErrors,
		duration:  FilesystemRetryDuration,
	}
}

func (o *retryObserver) ObserveRetryAttempt(op, volume string) {
	o.attempts.WithLabelValues(op, volume).Inc()
}

func (o *retryObserver) ObserveRetrySuccess(op, volume string) {
	o.successes.WithLabelValues(op, volume).Inc()
}

func (o *retryObserver) ObserveRetryFailure(op, volume string) {
	o.failures.WithLabelValues(op, volume).Inc()
}

func (o *retryObserver) ObserveRetryDuration(op, volume string, seconds float64) {
	o.duration.WithLabelValues(op, volume).Observe(seconds)
}

func (o *retryObserver) ObserveStaleError(op, volume string) {
	o.stale.WithLabelValues(op, volume).Inc()
}
