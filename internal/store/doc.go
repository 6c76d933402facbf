// Package store provides SQLite-backed durable storage for pending
// telemetry events.
//
// The store is an append-only log of opaque payloads:
//   - Append assigns the next id (AUTOINCREMENT: never reused, never
//     decreasing). Ids are the only ordering key.
//   - PeekBatch snapshots the oldest records without removing them.
//   - RemoveUpTo deletes everything up to and including an id once the
//     collector has acknowledged it.
//   - Trim enforces the hard record cap by dropping the oldest block.
//
// The same database holds a small key/value table that implements
// settings.Store (see Settings).
//
// # Database Configuration
//
//   - WAL mode: readers (the status command) never block the writer
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Failures are returned as *StorageError. The tracker logs them and
// carries on; a telemetry buffer must not fail the host application.
package store
