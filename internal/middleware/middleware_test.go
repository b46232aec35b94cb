package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if rw.statusCode != http.StatusOK {
		t.Errorf("default status = %d, want 200", rw.statusCode)
	}

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("status = %d/%d, want first WriteHeader to win", rw.statusCode, rec.Code)
	}

	rw.Write([]byte("hello"))
	rw.Write([]byte(" world"))
	if rw.bytesWritten != 11 {
		t.Errorf("bytesWritten = %d, want 11", rw.bytesWritten)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"line\nbreak", "line break"},
		{"cr\rlf", "cr lf"},
		{"nul\x00byte", "nulbyte"},
		{"\x1b[31mred", "[31mred"},
		{"tab\tkept", "tab\tkept"},
		{"bell\x07", "bell"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeW3CField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"curl/8.0", "curl/8.0"},
		{"Mozilla/5.0 (X11)", `"Mozilla/5.0 (X11)"`},
		{`say "hi"`, `"say ""hi"""`},
	}
	for _, tt := range tests {
		if got := escapeW3CField(tt.in); got != tt.want {
			t.Errorf("escapeW3CField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:5", "10.0.0.1"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 10.0.0.9 "}, "1.2.3.4:5", "10.0.0.9"},
		{"real ip", map[string]string{"X-Real-IP": "10.1.1.1"}, "1.2.3.4:5", "10.1.1.1"},
		{"remote addr", nil, "192.168.1.5:4321", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldSkip(t *testing.T) {
	quiet := LoggingConfig{SkipPaths: []string{"/internal/"}, LogHealthChecks: false}

	tests := []struct {
		path   string
		config LoggingConfig
		want   bool
	}{
		{"/api/action", DefaultLoggingConfig(), false},
		{"/healthz", DefaultLoggingConfig(), false},
		{"/healthz", quiet, true},
		{"/readyz", quiet, true},
		{"/internal/debug", quiet, true},
		{"/api/action", quiet, false},
	}
	for _, tt := range tests {
		if got := shouldSkip(tt.path, tt.config); got != tt.want {
			t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoggerMiddleware(t *testing.T) {
	buf := captureLog(t)

	handler := RequestID(Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/action?x=1", http.NoBody)
	req.Header.Set("User-Agent", "refctl/1.0 (linux)")
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	line := buf.String()
	for _, want := range []string{" POST /api/action x=1 201 7 ", " abc-123 ", `"refctl/1.0 (linux)"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestLoggerSkipsHealthChecks(t *testing.T) {
	buf := captureLog(t)

	handler := Logger(LoggingConfig{LogHealthChecks: false})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", http.NoBody))

	if buf.Len() != 0 {
		t.Errorf("health check was logged: %q", buf.String())
	}
}

func TestFormatW3CDashes(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	r.Header.Del("User-Agent")
	rw := newResponseWriter(httptest.NewRecorder())

	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got := formatW3C(now, r, rw, 15*time.Millisecond)
	want := "2024-03-01 12:30:00 192.0.2.1 GET /healthz - 200 0 15 - -"
	if got != want {
		t.Errorf("formatW3C() = %q, want %q", got, want)
	}
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"echoed", "job-42.retry_1", true},
		{"rejected", "bad id\nwith newline", false},
		{"too long", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.incoming != "" {
				r.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			got := w.Header().Get(RequestIDHeader)
			if tt.keep && got != tt.incoming {
				t.Errorf("id = %q, want %q", got, tt.incoming)
			}
			if !tt.keep && (got == tt.incoming || len(got) != 36) {
				t.Errorf("id = %q, want a fresh UUID", got)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/api/action", "/api/action"},
		{"/a/b/c", "/a/b/c"},
		{"/a/b/c/d/e", "/a/b/c/{path}"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	var got string
	r := mux.NewRouter()
	r.HandleFunc("/api/jobs/{family}", func(_ http.ResponseWriter, req *http.Request) {
		got = routeLabel(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs/index", http.NoBody))

	if got != "/api/jobs/{family}" {
		t.Errorf("routeLabel() = %q, want the route template", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/one/two/three/four", http.NoBody)
	if got := routeLabel(bare); got != "/one/two/three/{path}" {
		t.Errorf("routeLabel() without route = %q", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	var called int
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	for _, p := range []string{"/api/action", "/missing", "/metrics", "/healthz"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, http.NoBody))
		if p == "/missing" && w.Code != http.StatusNotFound {
			t.Errorf("status for %s = %d", p, w.Code)
		}
	}
	if called != 4 {
		t.Errorf("handler called %d times, want 4", called)
	}
}
