package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"mediaref/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// DatabaseFile is the name of the SQLite file inside the database directory.
const DatabaseFile = "mediaref.db"

// Config holds all application configuration
type Config struct {
	MediaDir        string
	DatabaseDir     string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	// Job and index timing
	IndexInterval time.Duration
	SyncInterval  time.Duration
	TickInterval  time.Duration
	LeaseTTL      time.Duration
	Freshness     time.Duration
	ChunkSize     int
	Fingerprint   bool

	// Duplicate detection
	DuplicateThreshold int
	QuickSample        int
	DeepChunk          int

	// Reference recognition
	UploadPrefix string
	BaseURLs     []string

	// APIToken is hashed at startup when APITokenHash is empty.
	APIToken     string
	APITokenHash string

	// MemoryLimit is the container limit in bytes; 0 leaves GOMEMLIMIT alone.
	MemoryLimit int64
	MemoryRatio float64

	Log logging.FileConfig

	// Derived paths
	DatabasePath string
	ConfigFile   string
}

// LoadConfig loads and validates configuration from the environment, .env
// files and the optional config file.
func LoadConfig(configFile string) (*Config, error) {
	printBanner()
	logSystemInfo()

	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	s, err := ReadSettings(v)
	if err != nil {
		return nil, err
	}
	if s.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(s.LogLevel))
	}

	section("CONFIGURATION")
	if used := v.ConfigFileUsed(); used != "" {
		logging.Info("  Config file:         %s", used)
	}
	logging.Info("  MEDIA_DIR:           %s", s.MediaDir)
	logging.Info("  DATABASE_DIR:        %s", s.DatabaseDir)
	logging.Info("  PORT:                %s", s.Port)
	logging.Info("  METRICS_PORT:        %s", s.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", s.MetricsEnabled)
	logging.Info("  INDEX_INTERVAL:      %s", s.IndexInterval)
	logging.Info("  SYNC_INTERVAL:       %s", s.SyncInterval)
	logging.Info("  TICK_INTERVAL:       %s", s.TickInterval)
	logging.Info("  FRESHNESS:           %s", s.Freshness)
	logging.Info("  CHUNK_SIZE:          %d", s.ChunkSize)
	logging.Info("  FINGERPRINT:         %v", s.Fingerprint)
	logging.Info("  UPLOAD_PREFIX:       %s", s.UploadPrefix)
	logging.Info("  BASE_URLS:           %s", strings.Join(s.BaseURLs, ", "))
	logging.Info("  API token:           %s", tokenState(s))
	logging.Info("  MEMORY_LIMIT:        %d", s.MemoryLimit)
	logging.Info("  MEMORY_RATIO:        %.2f", s.MemoryRatio)
	logging.Info("  LOG_FILE:            %s", s.LogFile)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", s.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	config, err := Resolve(s)
	if err != nil {
		return nil, err
	}
	config.ConfigFile = v.ConfigFileUsed()

	section("DIRECTORY SETUP")

	if config.MediaDir != "" {
		logging.Info("  Media directory (absolute): %s", config.MediaDir)
		// Media is mounted, not created; problems only disable file syncs.
		if err := checkMediaDirectory(config.MediaDir); err != nil {
			logging.Warn("  Media directory issue: %v", err)
		}
	} else {
		logging.Warn("  No media directory: library sync and file moves are disabled")
	}
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)

	if err := ensureDirectory(config.DatabaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}

	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:      ENABLED (required)")
	logging.Info("    Library sync:  %s", enabledString(config.MediaDir != ""))
	logging.Info("    Fingerprints:  %s", enabledString(config.Fingerprint))
	logging.Info("    Metrics:       %s", enabledString(config.MetricsEnabled))
	logging.Info("    Token check:   %s", enabledString(config.APIToken != "" || config.APITokenHash != ""))

	return config, nil
}

// Resolve converts settings into a Config: durations parsed, paths made
// absolute. It touches no directories.
func Resolve(s Settings) (*Config, error) {
	if s.DuplicateThreshold < 0 || s.DuplicateThreshold > 64 {
		return nil, fmt.Errorf("duplicate_threshold must be between 0 and 64, got %d", s.DuplicateThreshold)
	}

	config := &Config{
		Port:               s.Port,
		MetricsPort:        s.MetricsPort,
		MetricsEnabled:     s.MetricsEnabled,
		LogHealthChecks:    s.LogHealthChecks,
		IndexInterval:      parseDuration("INDEX_INTERVAL", s.IndexInterval, 30*time.Minute),
		SyncInterval:       parseDuration("SYNC_INTERVAL", s.SyncInterval, 5*time.Minute),
		TickInterval:       parseDuration("TICK_INTERVAL", s.TickInterval, 5*time.Second),
		LeaseTTL:           parseDuration("LEASE_TTL", s.LeaseTTL, 2*time.Minute),
		Freshness:          parseDuration("FRESHNESS", s.Freshness, 24*time.Hour),
		ChunkSize:          s.ChunkSize,
		Fingerprint:        s.Fingerprint,
		DuplicateThreshold: s.DuplicateThreshold,
		QuickSample:        s.QuickSample,
		DeepChunk:          s.DeepChunk,
		UploadPrefix:       s.UploadPrefix,
		BaseURLs:           s.BaseURLs,
		APIToken:           s.APIToken,
		APITokenHash:       s.APITokenHash,
		MemoryLimit:        s.MemoryLimit,
		MemoryRatio:        s.MemoryRatio,
		Log: logging.FileConfig{
			Path:       s.LogFile,
			MaxSizeMB:  s.LogMaxSizeMB,
			MaxBackups: s.LogMaxBackups,
			MaxAgeDays: s.LogMaxAgeDays,
			Compress:   s.LogCompress,
		},
	}

	var err error
	if s.MediaDir != "" {
		if config.MediaDir, err = filepath.Abs(s.MediaDir); err != nil {
			return nil, fmt.Errorf("failed to resolve media directory path: %w", err)
		}
	}
	if config.DatabaseDir, err = filepath.Abs(s.DatabaseDir); err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	config.DatabasePath = filepath.Join(config.DatabaseDir, DatabaseFile)
	return config, nil
}

func tokenState(s Settings) string {
	switch {
	case s.APITokenHash != "":
		return "hash configured"
	case s.APIToken != "":
		return "plain token configured"
	}
	return "not set"
}

func parseDuration(name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		logging.Warn("  Invalid %s %q, using default: %v", name, value, fallback)
		return fallback
	}
	return d
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// ensureDirectory creates path if needed and fails if it is not a
// directory.
func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created %s", path)
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("%s exists but is not a directory", path)
	}
	return nil
}

// testWriteAccess creates and removes a temporary file in dir.
func testWriteAccess(dir string) error {
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		logging.Warn("failed to remove write test file %s: %v", name, err)
	}
	return nil
}

// checkMediaDirectory verifies the media directory exists without creating
// it, and reports its top-level contents at debug level.
func checkMediaDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	if logging.IsDebugEnabled() {
		entries, err := os.ReadDir(path)
		if err == nil {
			files, dirs := 0, 0
			for _, e := range entries {
				if e.IsDir() {
					dirs++
				} else {
					files++
				}
			}
			logging.Debug("    Contents: %d files, %d directories (top level)", files, dirs)
		}
	}
	return nil
}
