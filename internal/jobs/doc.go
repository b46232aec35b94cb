// Package jobs runs long operations as resumable, single-flight jobs.
//
// Each job family (index, rename, deep_scan) owns one persisted job_state
// row. Every change to that row is a compare-and-swap on its version, so two
// schedulers, possibly in different processes, can never both start or both
// step the same family. Work is done in chunks: Step claims the row with a
// short lease, asks the family's Runner for one chunk, and commits the new
// cursor and counters. Pause and cancel are flags honoured between chunks.
//
// Run drives active families from a ticker and queues the periodic smart
// index. Clients that prefer to drive progress themselves call Step.
package jobs
