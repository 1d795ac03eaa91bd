// Package store provides SQLite-backed durable state for generation sessions.
//
// Tables:
//   - sessions: one row per generation session (UUIDv7 token, mode, start)
//   - programs: every validated program, deduplicated by content hash
//   - seed_meta: append-only seed metadata (path, elapsed, coverage)
//   - api_triples: call triples discovered in successful programs
//   - gadget_counters: per-gadget prompt and energy counters
//   - scheduler_state: loop counter and last combination
//
// # Ordering
//
// Seed metadata is read back in insertion order (seq ASC). Recomputation
// re-sorts by elapsed time itself; the store never reorders rows.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
