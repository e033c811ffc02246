// Package repositories implements SQLite persistence for the run ledger.
//
// Each repository implements models.Repository[T] for one table.
//
// Key Implementations:
//   - [RunRepository] : one row per export or import, soft deleted, listed newest first
//   - [UserOutcomeRepository] : per-user results within a run, removed with their run
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
