package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaref/internal/logging"
)

// metricsErrorLog adapts the package logger to promhttp's error sink.
type metricsErrorLog struct{}

func (metricsErrorLog) Println(v ...any) {
	logging.Warn("metrics: %v", v)
}

// MetricsHandler serves the default Prometheus registry on the metrics port.
// A failing collector is logged and skipped rather than failing the scrape.
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:      metricsErrorLog{},
			ErrorHandling: promhttp.ContinueOnError,
		}))
}
