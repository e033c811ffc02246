// Package models defines domain entities and persistence interfaces for wsx, the Plex watch-state exporter and importer.
//
// The package contains two categories of types:
//
// 1. Watch-state values: the shape of a snapshot file and the identities that key it
//   - [MediaKind] : closed variant over movie, show, episode, album and track
//   - [CanonicalID] : cross-server identity (plex:// GUID)
//   - [LegacyID] : agent-scheme identifier that needs translation
//   - [WatchRecord] : per-identity play state, with nested episodes or tracks
//   - [UserHistory] : one user's records, keyed by kind
//   - [Snapshot] : username to [UserHistory], the unit written to disk
//   - [Outcome] : explicit result of a resolve or apply step
//
// 2. Persistent Entities: database-backed run ledger
//   - [RunJob] : one export or import invocation
//   - [UserOutcome] : what happened to one user within a run
//
// Persistent entities implement the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
