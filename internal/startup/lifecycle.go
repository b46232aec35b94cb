package startup

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"mediaref/internal/logging"

	"github.com/gorilla/mux"
)

const rule = "------------------------------------------------------------"

// section starts a titled block of startup log lines.
func section(title string) {
	logging.Info("")
	logging.Info(rule)
	logging.Info("%s", title)
	logging.Info(rule)
}

func printBanner() {
	fmt.Println(rule)
	fmt.Println("  +-+-+-+-+-+-+-+-+")
	fmt.Println("  |m|e|d|i|a|r|e|f|   media usage index")
	fmt.Println("  +-+-+-+-+-+-+-+-+")
	fmt.Println(rule)
	logging.Info("  Version:    %s (commit %s, built %s)", Version, Commit, BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	procs := runtime.GOMAXPROCS(0)
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs:            %d (GOMAXPROCS %d)", runtime.NumCPU(), procs)
	if procs < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if !logging.IsDebugEnabled() {
		return
	}
	if wd, err := os.Getwd(); err == nil {
		logging.Debug("  Working dir:     %s", wd)
	}
	if hostname, err := os.Hostname(); err == nil {
		logging.Debug("  Hostname:        %s", hostname)
	}
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogIndexerInit logs the indexer and scheduler settings.
func LogIndexerInit(config *Config, families []string) {
	section("INDEXER INITIALIZATION")
	if config.IndexInterval > 0 {
		logging.Info("  Smart index every: %v", config.IndexInterval)
	} else {
		logging.Info("  Periodic smart index: DISABLED")
	}
	if config.MediaDir != "" && config.SyncInterval > 0 {
		logging.Info("  Library sync every: %v", config.SyncInterval)
	}
	logging.Info("  Job tick interval: %v, lease %v", config.TickInterval, config.LeaseTTL)
	logging.Info("  Job families:      %s", strings.Join(families, ", "))
}

// LogIndexerStarted logs successful indexer start
func LogIndexerStarted() {
	logging.Info("  [OK] Indexer and scheduler started")
}

// RouteInfo describes one method of a registered route.
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes lists the routes of router, one entry per method. Routes
// without a method restriction are reported with method "*".
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: path, Name: route.GetName()})
		}
		return nil
	})
	return routes, err
}

// LogHTTPRoutes logs the HTTP setup and, at debug level, every route
// grouped by its first path segment.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}
		sort.SliceStable(routes, func(i, j int) bool {
			return getRouteGroup(routes[i].Path) < getRouteGroup(routes[j].Path)
		})

		logging.Debug("  Registered routes (%d total):", len(routes))
		group := "\x00"
		for _, r := range routes {
			if g := getRouteGroup(r.Path); g != group {
				group = g
				if g == "" {
					g = "root"
				}
				logging.Debug("  [%s]", g)
			}
			logging.Debug("    %-6s %s", r.Method, r.Path)
		}
	}

	if logHealthChecks {
		logging.Info("  Request logging: ON (health checks included)")
	} else {
		logging.Info("  Request logging: ON (health checks skipped, LOG_HEALTH_CHECKS=true to include)")
	}
}

// getRouteGroup returns the first path segment, or "api/<name>" under /api.
func getRouteGroup(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if parts[0] == "api" && len(parts) > 1 {
		return "api/" + parts[1]
	}
	return parts[0]
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs the listening endpoints and startup duration.
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("  Endpoints:")
	logging.Info("    Actions:       http://0.0.0.0:%s/api/action (POST)", config.Port)
	logging.Info("    Health:        http://0.0.0.0:%s/healthz, /livez, /readyz", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info(rule)
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section(fmt.Sprintf("SHUTDOWN INITIATED (received %s)", signal))
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}
