// Package store provides durable storage for the catalog graph.
//
// The store holds two tables:
//   - snapshots: one denormalized record per (id, type), data as canonical JSON
//   - edges: parent -> child relation edges between snapshots
//
// # Invariants
//
// Snapshot identity
//   - PRIMARY KEY (id, type); upserts replace data in place
//
// Edge integrity
//   - Both endpoints must exist when an edge is written (ErrDanglingEdge)
//   - FOREIGN KEY ... ON DELETE CASCADE on both endpoints
//   - UNIQUE(parent_id, parent_type, child_id, child_type); rewriting is a no-op
//
// Deterministic reads
//   - Snapshots are listed ORDER BY id COLLATE BINARY
//   - Edges are listed ORDER BY seq, id COLLATE BINARY (resolution order)
//   - All ordering uses seq (logical clock), never timestamps
//
// # Backends
//
// SQLite (mattn/go-sqlite3) is the default:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// PostgreSQL (lib/pq) is available through OpenPostgres and shares the same
// API. Statements are written with ? placeholders and rebound to $n.
package store
