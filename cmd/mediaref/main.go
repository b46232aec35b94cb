package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediaref/internal/database"
	"mediaref/internal/duplicates"
	"mediaref/internal/errs"
	"mediaref/internal/filesystem"
	"mediaref/internal/handlers"
	"mediaref/internal/indexer"
	"mediaref/internal/jobs"
	"mediaref/internal/logging"
	"mediaref/internal/media"
	"mediaref/internal/memory"
	"mediaref/internal/metrics"
	"mediaref/internal/middleware"
	"mediaref/internal/rename"
	"mediaref/internal/scanner"
	"mediaref/internal/startup"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

const (
	shutdownTimeout        = 30 * time.Second
	metricsCollectInterval = time.Minute
)

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig("")
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	logging.EnableFileOutput(config.Log)

	memory.Configure(config.MemoryLimit, config.MemoryRatio)

	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	metrics.InitializeMetrics()
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"media":    config.MediaDir,
		"database": config.DatabaseDir,
	}))

	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable, fingerprints fall back to pure Go decoding: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath, nil)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	tokens, err := tokenVerifier(config)
	if err != nil {
		startup.LogFatal("API token error: %v", err)
	}

	sc := scanner.New(scanner.Config{Prefix: config.UploadPrefix, BaseURLs: config.BaseURLs})
	idx := indexer.New(db, sc, config.MediaDir, indexer.Options{
		Fingerprint:  config.Fingerprint,
		SyncInterval: config.SyncInterval,
		Walker:       indexer.DefaultParallelWalkerConfig(),
	})
	det := duplicates.New(db, config.MediaDir, duplicates.Options{
		QuickSample: config.QuickSample,
		DeepChunk:   config.DeepChunk,
		Threshold:   config.DuplicateThreshold,
		Gate:        memMonitor,
	})
	eng := rename.New(db, sc, config.MediaDir, rename.Options{Freshness: config.Freshness})

	sched := newScheduler(db, config, idx, det, eng)
	idx.SetOnSyncChanges(queueIndexOnChange(ctx, sched))

	startup.LogIndexerInit(config, sched.Families())
	idx.Start()
	go sched.Run(ctx)
	startup.LogIndexerStarted()

	collector := metrics.NewCollector(db, metricsCollectInterval)
	collector.Start()

	h := handlers.New(handlers.Deps{
		DB:        db,
		Indexer:   idx,
		Scheduler: sched,
		Detector:  det,
		Renamer:   eng,
		Tokens:    tokens,
	})

	router := setupRouter(h)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.RequestID(middleware.Logger(loggingConfig)(router))

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Synchronous rename batches and deep scan chunks can run long.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort, h)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		handleShutdown(srv, metricsSrv, idx, collector, cancel)
		close(done)
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}

	<-done
	memMonitor.Stop()
	startup.LogShutdownStep("Closing database")
	if err := db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	}
	media.ShutdownVips()
	startup.LogShutdownComplete()
	_ = logging.Close()
}

// tokenVerifier builds the action token check. A plain API_TOKEN is hashed
// once at startup; without any token every request is accepted.
func tokenVerifier(config *startup.Config) (*handlers.TokenVerifier, error) {
	hash := config.APITokenHash
	if hash == "" && config.APIToken != "" {
		var err error
		if hash, err = handlers.HashToken(config.APIToken, bcrypt.DefaultCost); err != nil {
			return nil, err
		}
	}
	if hash == "" {
		logging.Warn("No API token configured: action requests are not authenticated")
		return nil, nil
	}
	return handlers.NewTokenVerifier(hash)
}

func newScheduler(db *database.Database, config *startup.Config, idx *indexer.Indexer, det *duplicates.Detector, eng *rename.Engine) *jobs.Scheduler {
	sched := jobs.New(db, jobs.Config{
		LeaseTTL:      config.LeaseTTL,
		TickInterval:  config.TickInterval,
		IndexInterval: config.IndexInterval,
	})
	sched.Register(jobs.FamilyIndex, indexer.NewRunner(idx, config.ChunkSize))
	sched.Register(jobs.FamilyRename, rename.NewRunner(eng))
	sched.Register(jobs.FamilyDeepScan, duplicates.NewRunner(det))
	return sched
}

// queueIndexOnChange returns the library sync callback: a sync that added,
// changed or removed assets queues a smart index unless one is already
// active.
func queueIndexOnChange(ctx context.Context, sched *jobs.Scheduler) func(indexer.SyncStats) {
	return func(stats indexer.SyncStats) {
		if !stats.Changed() {
			return
		}
		_, err := sched.Start(ctx, jobs.FamilyIndex, jobs.ModeSmart, nil)
		var conflict *errs.ConcurrencyError
		switch {
		case err == nil:
			logging.Info("Library changed (+%d ~%d -%d), smart index queued", stats.Added, stats.Updated, stats.Removed)
		case errors.As(err, &conflict):
			logging.Debug("Library changed while an index job is active")
		default:
			logging.Warn("Failed to queue index after library sync: %v", err)
		}
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no token required)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	r.HandleFunc("/api/action", h.HandleAction).Methods(http.MethodPost).Name("action")

	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	return r
}

func newMetricsServer(port string, h *handlers.Handlers) *http.Server {
	mr := mux.NewRouter()
	mr.Handle("/metrics", h.MetricsHandler()).Methods(http.MethodGet)
	mr.HandleFunc("/health", h.LivenessCheck).Methods(http.MethodGet)

	return &http.Server{
		Addr:              ":" + port,
		Handler:           mr,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleShutdown(srv, metricsSrv *http.Server, idx *indexer.Indexer, collector *metrics.Collector, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	// Jobs keep their persisted state; an unfinished chunk is picked up by
	// the next process once its lease expires.
	startup.LogShutdownStep("Stopping scheduler and indexer")
	cancel()
	idx.Stop()
	startup.LogShutdownStepComplete("Scheduler and indexer stopped")

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}
}
