package startup

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.OS == "" || info.Arch == "" {
		t.Errorf("Expected OS/Arch to be set, got %q/%q", info.OS, info.Arch)
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

// clearEnv unsets the bare and prefixed forms of every settings key for
// the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MEDIA_DIR", "DATABASE_DIR", "PORT", "INDEX_INTERVAL", "BASE_URLS", "FINGERPRINT", "API_TOKEN", "API_TOKEN_HASH", "MEMORY_LIMIT", "MEMORY_RATIO", "CONFIG"} {
		for _, name := range []string{key, EnvPrefix + "_" + key} {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestNewViperDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper() error = %v", err)
	}
	s, err := ReadSettings(v)
	if err != nil {
		t.Fatal(err)
	}

	want := DefaultSettings()
	if s.Port != want.Port || s.IndexInterval != want.IndexInterval || s.ChunkSize != want.ChunkSize {
		t.Errorf("settings = %+v, want defaults", s)
	}
	if v.ConfigFileUsed() != "" && !strings.HasSuffix(v.ConfigFileUsed(), "mediaref.yaml") {
		t.Errorf("unexpected config file %q", v.ConfigFileUsed())
	}
}

func TestNewViperEnvironment(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, s Settings)
	}{
		{
			name: "bare name",
			env:  map[string]string{"PORT": "9000"},
			check: func(t *testing.T, s Settings) {
				if s.Port != "9000" {
					t.Errorf("Port = %q, want 9000", s.Port)
				}
			},
		},
		{
			name: "prefix wins over bare name",
			env:  map[string]string{"PORT": "9000", "MEDIAREF_PORT": "9100"},
			check: func(t *testing.T, s Settings) {
				if s.Port != "9100" {
					t.Errorf("Port = %q, want 9100", s.Port)
				}
			},
		},
		{
			name: "bool and list",
			env:  map[string]string{"MEDIAREF_FINGERPRINT": "true", "BASE_URLS": "https://a.example,https://b.example"},
			check: func(t *testing.T, s Settings) {
				if !s.Fingerprint {
					t.Error("Fingerprint = false, want true")
				}
				if len(s.BaseURLs) != 2 || s.BaseURLs[1] != "https://b.example" {
					t.Errorf("BaseURLs = %v", s.BaseURLs)
				}
			},
		},
		{
			name: "downward api memory limit",
			env:  map[string]string{"MEMORY_LIMIT": "536870912", "MEDIAREF_MEMORY_RATIO": "0.5"},
			check: func(t *testing.T, s Settings) {
				if s.MemoryLimit != 512<<20 || s.MemoryRatio != 0.5 {
					t.Errorf("MemoryLimit = %d, MemoryRatio = %v", s.MemoryLimit, s.MemoryRatio)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			v, err := NewViper("")
			if err != nil {
				t.Fatal(err)
			}
			s, err := ReadSettings(v)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, s)
		})
	}
}

func TestNewViperConfigFileAndDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(t.TempDir())

	cfg := filepath.Join(dir, "mediaref.yaml")
	body := "port: \"7000\"\nindex_interval: 10m\nbase_urls:\n  - https://cdn.example\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MEDIAREF_CHUNK_SIZE=50\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MEDIAREF_CHUNK_SIZE") })

	v, err := NewViper(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s, err := ReadSettings(v)
	if err != nil {
		t.Fatal(err)
	}

	if s.Port != "7000" || s.IndexInterval != "10m" || len(s.BaseURLs) != 1 {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.ChunkSize != 50 {
		t.Errorf("ChunkSize = %d, want 50 from .env", s.ChunkSize)
	}

	if _, err := NewViper(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("NewViper() with a missing named file should fail")
	}
}

func TestSettingsYAML(t *testing.T) {
	out, err := DefaultSettings().YAML()
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	for _, want := range []string{"index_interval: 30m", "upload_prefix: /uploads/", "duplicate_threshold: 10"} {
		if !strings.Contains(text, want) {
			t.Errorf("generated config missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "api_token:") {
		t.Error("an empty plain token should not be rendered")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	media := t.TempDir()
	dbDir := filepath.Join(t.TempDir(), "db")
	t.Setenv("MEDIA_DIR", media)
	t.Setenv("DATABASE_DIR", dbDir)
	t.Setenv("INDEX_INTERVAL", "not-a-duration")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.MediaDir != media {
		t.Errorf("MediaDir = %q, want %q", cfg.MediaDir, media)
	}
	if cfg.DatabasePath != filepath.Join(dbDir, "mediaref.db") {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if _, err := os.Stat(dbDir); err != nil {
		t.Errorf("database directory not created: %v", err)
	}
	if cfg.IndexInterval != 30*time.Minute {
		t.Errorf("IndexInterval = %v, want fallback 30m", cfg.IndexInterval)
	}
	if cfg.Freshness != 24*time.Hour || cfg.Log.MaxBackups != 5 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsThreshold(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_DIR", t.TempDir())
	t.Setenv("MEDIAREF_DUPLICATE_THRESHOLD", "65")

	if _, err := LoadConfig(""); err == nil {
		t.Error("LoadConfig() accepted a threshold above 64")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"0", 0},
		{"", time.Minute},
		{"-5m", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		if got := parseDuration("X", tt.in, time.Minute); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnsureDirectory(t *testing.T) {
	base := t.TempDir()

	nested := filepath.Join(base, "a", "b")
	if err := ensureDirectory(nested, "test"); err != nil {
		t.Fatalf("ensureDirectory() error = %v", err)
	}
	if err := testWriteAccess(nested); err != nil {
		t.Errorf("testWriteAccess() error = %v", err)
	}

	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureDirectory(file, "test"); err == nil {
		t.Error("ensureDirectory() on a file should fail")
	}
	if err := checkMediaDirectory(file); err == nil {
		t.Error("checkMediaDirectory() on a file should fail")
	}
	if err := checkMediaDirectory(filepath.Join(base, "missing")); err == nil {
		t.Error("checkMediaDirectory() should not create a missing directory")
	}
}

func TestGetRoutes(t *testing.T) {
	r := mux.NewRouter()
	noop := func(http.ResponseWriter, *http.Request) {}
	r.HandleFunc("/api/action", noop).Methods(http.MethodPost).Name("action")
	r.HandleFunc("/healthz", noop).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/version", noop)

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 4 {
		t.Fatalf("got %d routes, want 4: %+v", len(routes), routes)
	}
	if routes[0] != (RouteInfo{Method: http.MethodPost, Path: "/api/action", Name: "action"}) {
		t.Errorf("first route = %+v", routes[0])
	}
	if routes[3].Method != "*" {
		t.Errorf("route without methods = %+v, want method *", routes[3])
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/api/action", "api/action"},
		{"/api/jobs/{family}", "api/jobs"},
		{"/healthz", "healthz"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := getRouteGroup(tt.path); got != tt.want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Chdir(t.TempDir())

	s := DefaultSettings()
	s.MediaDir = "library"
	s.DatabaseDir = "data"
	s.Freshness = "soon"
	s.BaseURLs = []string{"https://cdn.example"}

	config, err := Resolve(s)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	wd, _ := os.Getwd()
	if config.MediaDir != filepath.Join(wd, "library") || config.DatabasePath != filepath.Join(wd, "data", DatabaseFile) {
		t.Errorf("paths = %q, %q", config.MediaDir, config.DatabasePath)
	}
	if config.Freshness != 24*time.Hour || config.IndexInterval != 30*time.Minute {
		t.Errorf("durations = %v, %v", config.Freshness, config.IndexInterval)
	}
	if config.MemoryRatio != 0.85 || len(config.BaseURLs) != 1 {
		t.Errorf("config = %+v", config)
	}
	if _, err := os.Stat(filepath.Join(wd, "data")); !os.IsNotExist(err) {
		t.Error("Resolve() created the database directory")
	}

	s.MediaDir = ""
	if config, err = Resolve(s); err != nil || config.MediaDir != "" {
		t.Errorf("empty media dir: %q, %v", config.MediaDir, err)
	}

	s.DuplicateThreshold = 65
	if _, err := Resolve(s); err == nil {
		t.Error("Resolve() accepted threshold 65")
	}
}
