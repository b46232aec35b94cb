package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mediaref/internal/metrics"
)

// MetricsConfig lists path prefixes kept out of the request metrics.
type MetricsConfig struct {
	SkipPaths []string
}

// DefaultMetricsConfig skips the metrics endpoint and health probes.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths: []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"},
	}
}

// Metrics counts and times requests. Install it with Router.Use so the
// matched route template becomes the path label.
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	skip := LoggingConfig{SkipPaths: config.SkipPaths, LogHealthChecks: true}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, skip) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			rec := newResponseWriter(w)
			began := time.Now()
			next.ServeHTTP(rec, r)

			label := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rec.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(began).Seconds())
		})
	}
}

// routeLabel prefers the matched route template and folds anything else
// through normalizePath.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath keeps the first three segments so unmatched probes cannot
// inflate label cardinality.
func normalizePath(path string) string {
	parts := strings.SplitN(path, "/", 5)
	if len(parts) < 5 {
		return path
	}
	return strings.Join(parts[:4], "/") + "/{path}"
}
