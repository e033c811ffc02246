// Package tasks moves watch state between Plex servers and snapshots, with real-time progress reporting.
//
// # Core Operations
//
// The [SyncEngine] interface defines two batch operations:
//
//  1. [SyncEngine.Export] : Capture watch state from a source server
//     - Lists the owner and users from plex.tv, filtered by the allow-list
//     - Walks movie, show and music sections for each user ([Aggregator])
//     - Folds duplicates across sections into one record per canonical GUID
//
//  2. [SyncEngine.Import] : Apply a snapshot to a destination server
//     - Finds destination items by canonical GUID ([cache.Catalog])
//     - Replays view counts, marks watched, sets positions and ratings ([Applier])
//     - Skips any change the destination has already superseded
//
// # Users
//
// Every user runs in its own session on a bounded worker pool ([Coordinator]), started in
// random order. A user the server rejects is skipped; the batch goes on.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
//
// # Run Ledger
//
// When a [Ledger] is attached, each run and each user's outcome are recorded. Ledger errors
// are logged and never fail a run.
package tasks
