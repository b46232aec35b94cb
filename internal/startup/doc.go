// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] resolves settings through viper in this order: environment,
// config file (mediaref.yaml in ., ./config, /etc/mediaref or
// $HOME/.mediaref, or the file named by MEDIAREF_CONFIG), then the defaults
// in [DefaultSettings]. .env and .env.local are loaded first from the
// working directory and from the config file's directory.
//
// Every key can be set as MEDIAREF_<KEY> or as the bare <KEY>:
//
//   - MEDIA_DIR: media library root (default: /media; empty disables syncs)
//   - DATABASE_DIR: directory of mediaref.db (default: /database)
//   - PORT, METRICS_PORT, METRICS_ENABLED: listeners (8080, 9090, true)
//   - INDEX_INTERVAL: periodic smart index (default: 30m, 0 disables)
//   - SYNC_INTERVAL: library re-walk (default: 5m)
//   - TICK_INTERVAL, LEASE_TTL: job stepping and lease length (5s, 2m)
//   - FRESHNESS: largest index age a rename accepts (default: 24h)
//   - CHUNK_SIZE: assets per index job step (default: 25)
//   - FINGERPRINT: compute perceptual fingerprints while indexing
//   - DUPLICATE_THRESHOLD, QUICK_SAMPLE, DEEP_CHUNK: duplicate detection
//   - UPLOAD_PREFIX, BASE_URLS: what counts as an asset reference
//   - API_TOKEN or API_TOKEN_HASH: shared action token (plain or bcrypt)
//   - MEMORY_LIMIT, MEMORY_RATIO: container limit in bytes and the share
//     of it given to GOMEMLIMIT (0, 0.85)
//   - LOG_LEVEL, LOG_FILE, LOG_MAX_SIZE_MB, LOG_MAX_BACKUPS,
//     LOG_MAX_AGE_DAYS, LOG_COMPRESS, LOG_HEALTH_CHECKS: logging
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogDatabaseInit]: Database initialization timing
//   - [LogIndexerInit]: Index intervals and registered job families
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownComplete]: Graceful shutdown
package startup
