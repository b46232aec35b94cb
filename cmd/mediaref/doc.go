// Package main runs the mediaref server.
//
// mediaref keeps a usage index of every media asset referenced from the
// content store, classifies duplicate uploads and renames assets while
// rewriting every reference to them.
//
// # Application Lifecycle
//
//  1. Configuration Loading: environment, .env files and mediaref.yaml,
//     then GOMEMLIMIT from the container memory limit
//  2. Database Initialization: SQLite in WAL mode holding assets, location
//     records, the usage index and job state
//  3. Component Initialization:
//     - Scanner: recognises asset references under the upload prefix
//     - Indexer: syncs the media directory and rebuilds the usage index
//     - Detector: groups exact, perceptual and copy-named duplicates
//     - Rename engine: rewrites references and moves files
//     - Scheduler: runs index, rename and deep_scan jobs in chunks
//     - Memory Monitor: pauses fingerprint decoding under memory pressure
//     - Metrics Collector: refreshes the usage index gauges
//  4. HTTP Server Setup: the action endpoint and health routes
//  5. Graceful Shutdown: handles SIGINT/SIGTERM
//
// # HTTP Server
//
//  1. Main Server (default port 8080):
//     - POST /api/action: every operation, selected by the "action" field
//     - /health, /healthz, /livez, /readyz, /version
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//     - Liveness endpoint (/health)
//
// # Jobs Across Restarts
//
// Job state lives in the database. A job interrupted by shutdown resumes
// from its cursor once its lease expires, in this process or another one
// sharing the database.
//
// # Build Requirements
//
// CGO is required for SQLite and libvips:
//
//	go build -o mediaref ./cmd/mediaref
//
// # Related Packages
//
//   - [mediaref/internal/database]: SQLite store
//   - [mediaref/internal/handlers]: Action and health handlers
//   - [mediaref/internal/indexer]: Library sync and index jobs
//   - [mediaref/internal/duplicates]: Duplicate classification
//   - [mediaref/internal/rename]: Safe rename
//   - [mediaref/internal/jobs]: Job scheduler
//   - [mediaref/internal/startup]: Configuration and initialization
package main
