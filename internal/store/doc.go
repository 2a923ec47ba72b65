// Package store provides SQLite-backed durable storage for reflector
// sessions.
//
// The store is an append-only log with:
//   - Sessions: one row per session id
//   - Messages: every reflected message with its (seq, time) and digest
//   - Snapshots: checkpoints collected from clients, with their hashes
//
// # Ordering
//
// Messages are ordered by seq within a session, never by wall time. All
// queries use ORDER BY so results are identical across runs. Writes use
// ON CONFLICT DO NOTHING, so re-persisting after a reflector restart is
// harmless.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
