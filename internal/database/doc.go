// Package database provides the SQLite-backed usage index store for mediaref.
//
// It handles storage and retrieval of:
//   - Assets: stored media objects with their content hash, perceptual
//     fingerprint, dimensions and dirty/indexed bookkeeping
//   - Location records: the content store the engine scans (document bodies,
//     structured metadata blobs, configuration records)
//   - Index entries: one row per concrete reference from a location record
//     to an asset, keyed by asset and location
//   - Job state: one persisted record per job family, updated with
//     compare-and-swap on a version column
//   - Rename suggestions and small key/value metadata
//
// The database uses WAL mode so readers never block the indexer, and writes
// to a single asset's entry set are serialized by a per-asset lock.
package database
