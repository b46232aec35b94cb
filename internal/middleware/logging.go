package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediaref/internal/logging"
)

// statusRecorder remembers the first status written and counts body bytes.
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode, rw.wroteHeader = code, true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// LoggingConfig selects which requests reach the access log.
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig logs everything, health probes included.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{SkipPaths: []string{}, LogHealthChecks: true}
}

var probePaths = map[string]struct{}{
	"/health":  {},
	"/healthz": {},
	"/livez":   {},
	"/readyz":  {},
}

// Logger writes one W3C Extended Log Format line per request. The request id
// column is filled when RequestID wraps this middleware.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}
			began := time.Now()
			rec := newResponseWriter(w)
			next.ServeHTTP(rec, r)
			logging.Printf("%s", formatW3C(time.Now().UTC(), r, rec, time.Since(began)))
		})
	}
}

// formatW3C renders the columns
// date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes time-taken x-request-id cs(User-Agent)
func formatW3C(now time.Time, r *http.Request, rw *statusRecorder, took time.Duration) string {
	fields := []string{
		now.Format(time.DateOnly),
		now.Format(time.TimeOnly),
		textField(getClientIP(r)),
		textField(r.Method),
		textField(r.URL.Path),
		textField(r.URL.RawQuery),
		strconv.Itoa(rw.statusCode),
		strconv.FormatInt(rw.bytesWritten, 10),
		strconv.FormatInt(took.Milliseconds(), 10),
		textField(rw.Header().Get(RequestIDHeader)),
		quotedField(r.Header.Get("User-Agent")),
	}
	return strings.Join(fields, " ")
}

// textField cleans a client-controlled value; W3C logs use "-" for empty.
func textField(s string) string {
	if s = sanitizeLogField(s); s == "" {
		return "-"
	}
	return s
}

func quotedField(s string) string {
	if s = sanitizeLogField(s); s == "" {
		return "-"
	}
	return escapeW3CField(s)
}

// sanitizeLogField drops control characters so a header cannot forge a log
// line or drive a terminal. CR and LF turn into spaces, tabs are kept.
func sanitizeLogField(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r':
			return ' '
		case r == '\t':
			return r
		case r < 0x20, r == 0x1b:
			return -1
		}
		return r
	}, s)
}

// escapeW3CField wraps values holding blanks or quotes in quotes, doubling
// the embedded ones.
func escapeW3CField(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func shouldSkip(path string, config LoggingConfig) bool {
	for _, prefix := range config.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if config.LogHealthChecks {
		return false
	}
	_, probe := probePaths[path]
	return probe
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
