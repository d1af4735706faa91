// Package repositories implements SQLite persistence for sync history.
//
// Key Implementations:
//   - [RunRepository] : one row per pipeline invocation with its final counts
//   - [DownloadRepository] : per-song outcomes, deleted with their run
//   - [HistoryAdapter] : bridges the repositories to the pipeline's history recorder
//
// Sequence numbers give runs a stable, human-readable ordering (run #12) independent of UUIDs.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
