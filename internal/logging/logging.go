package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the severity of a message. Higher is more severe.
type LogLevel int

// Levels, least severe first.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

var (
	level     atomic.Int32
	levelOnce sync.Once

	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel converts a level name to a LogLevel. Unknown names map to info.
func ParseLevel(s string) LogLevel {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		return LevelWarn
	}
	for l, n := range levelNames {
		if n == name {
			return LogLevel(l)
		}
	}
	return LevelInfo
}

// String returns the level name.
func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// loadLevel resolves DEBUG, then LOG_LEVEL, the first time a level is needed.
func loadLevel() {
	levelOnce.Do(func() {
		l := ParseLevel(os.Getenv("LOG_LEVEL"))
		switch strings.ToLower(os.Getenv("DEBUG")) {
		case "1", "true", "yes", "on":
			l = LevelDebug
		}
		level.Store(int32(l))
	})
}

// SetLevel overrides the level resolved from the environment.
func SetLevel(l LogLevel) {
	loadLevel()
	level.Store(int32(l))
}

// GetLevel returns the current log level.
func GetLevel() LogLevel {
	loadLevel()
	return LogLevel(level.Load())
}

// IsDebugEnabled reports whether debug messages are written.
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// EnableFileOutput copies all log output into a size-rotated file. A second
// call replaces the previous file.
func EnableFileOutput(cfg FileConfig) {
	if cfg.Path == "" {
		return
	}
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
}

// Close closes the rotating file, if any, and goes back to stderr only.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	log.SetOutput(os.Stderr)
	return err
}

func logAt(l LogLevel, tag, format string, args []any) {
	if GetLevel() <= l {
		log.Printf(tag+format, args...)
	}
}

// Debug logs at debug level (DEBUG=true or LOG_LEVEL=debug).
func Debug(format string, args ...any) { logAt(LevelDebug, "[DEBUG] ", format, args) }

// Info logs at info level.
func Info(format string, args ...any) { logAt(LevelInfo, "[INFO] ", format, args) }

// Warn logs at warn level.
func Warn(format string, args ...any) { logAt(LevelWarn, "[WARN] ", format, args) }

// Error logs at error level.
func Error(format string, args ...any) { logAt(LevelError, "[ERROR] ", format, args) }

// Fatal logs regardless of level and exits.
func Fatal(format string, args ...any) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Printf writes regardless of level; the access log uses it.
func Printf(format string, args ...any) {
	log.Printf(format, args...)
}
