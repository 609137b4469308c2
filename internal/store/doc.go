// Package store provides SQLite-backed durable storage for workspace update
// logs.
//
// Each workspace is an append-only log of encoded document updates. The
// relay appends every update it forwards and replays the log to sessions
// that join later, so a workspace survives relay restarts and every member
// leaving.
//
// # Patterns
//
// Idempotent append:
//   - UNIQUE(workspace, digest) with ON CONFLICT DO NOTHING
//   - A retransmitted update is stored once; replaying it twice is harmless
//     anyway because document integration skips ops already seen
//
// Logical ordering:
//   - Entries are ordered by a per-workspace seq assigned at append time,
//     never by wall-clock timestamps
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Digests are computed with model.HashWithDomain over the encoded update.
package store
