package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/catalog/internal/record"
)

// UpsertResult reports what an upsert did to the stored data.
type UpsertResult int

const (
	// Inserted means no snapshot existed for the key.
	Inserted UpsertResult = iota + 1
	// Changed means the snapshot existed with different data.
	Changed
	// Unchanged means the snapshot existed with identical data; seq was still bumped.
	Unchanged
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// UpsertSnapshot inserts or replaces the snapshot for (snap.ID, snap.Type).
//
// Data is serialized to canonical JSON and hashed; snap.Hash is ignored.
// The row is updated in place (never deleted and reinserted), so edges
// pointing at the snapshot survive.
func (s *Store) UpsertSnapshot(ctx context.Context, snap record.Snapshot) (UpsertResult, error) {
	if snap.ID == "" || snap.Type == "" {
		return 0, fmt.Errorf("upsert snapshot: id and type are required")
	}

	dataJSON, hash, err := marshalData(snap.Data)
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot %s: %w", snap.Key(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed
	c := conn{s: s, x: tx}

	var prevHash string
	result := Inserted
	err = c.queryRow(ctx, `SELECT hash FROM snapshots WHERE id = ? AND type = ?`, snap.ID, snap.Type).Scan(&prevHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("upsert snapshot: read existing: %w", err)
	case prevHash == hash:
		result = Unchanged
	default:
		result = Changed
	}

	_, err = c.exec(ctx, `
		INSERT INTO snapshots (id, type, data, hash, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id, type) DO UPDATE SET
			data = excluded.data,
			hash = excluded.hash,
			seq = excluded.seq
	`, snap.ID, snap.Type, dataJSON, hash, snap.Seq)
	if err != nil {
		return 0, fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert snapshot: commit: %w", err)
	}
	return result, nil
}

// DeleteResult reports what DeleteSnapshot removed.
type DeleteResult struct {
	Found bool // a snapshot existed for the key
	Edges int  // edges removed with it
}

// DeleteSnapshot removes a snapshot and every edge touching it.
// Deleting a missing snapshot is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, key record.Key) (DeleteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()
	c := conn{s: s, x: tx}

	// Edges are removed explicitly so the count can be reported; the
	// foreign keys would cascade them anyway.
	res, err := c.exec(ctx, `
		DELETE FROM edges
		WHERE (parent_id = ? AND parent_type = ?)
		   OR (child_id = ? AND child_type = ?)
	`, key.ID, key.Type, key.ID, key.Type)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete snapshot %s: edges: %w", key, err)
	}
	edges, err := res.RowsAffected()
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete snapshot %s: rows affected: %w", key, err)
	}

	res, err = c.exec(ctx, `DELETE FROM snapshots WHERE id = ? AND type = ?`, key.ID, key.Type)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	found, err := res.RowsAffected()
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete snapshot %s: rows affected: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return DeleteResult{}, fmt.Errorf("delete snapshot %s: commit: %w", key, err)
	}
	return DeleteResult{Found: found > 0, Edges: int(edges)}, nil
}

// WriteEdge inserts a relation edge. Returns whether a new row was inserted.
//
// Both endpoints must already have snapshots, otherwise the error wraps
// ErrDanglingEdge and nothing is written. Rewriting an existing edge
// (same endpoints) is a no-op: the original id and seq are kept.
func (s *Store) WriteEdge(ctx context.Context, e record.Edge) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write edge: begin tx: %w", err)
	}
	defer tx.Rollback()
	c := conn{s: s, x: tx}

	for _, k := range []record.Key{e.Parent(), e.Child()} {
		ok, err := exists(ctx, c, k)
		if err != nil {
			return false, fmt.Errorf("write edge %s: %w", e, err)
		}
		if !ok {
			return false, fmt.Errorf("write edge %s: %w: %s", e, ErrDanglingEdge, k)
		}
	}

	res, err := c.exec(ctx, `
		INSERT INTO edges (id, parent_id, parent_type, child_id, child_type, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (parent_id, parent_type, child_id, child_type) DO NOTHING
	`, e.ID, e.ParentID, e.ParentType, e.ChildID, e.ChildType, e.Seq)
	if err != nil {
		return false, fmt.Errorf("write edge %s: %w", e, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write edge %s: rows affected: %w", e, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write edge %s: commit: %w", e, err)
	}
	return n > 0, nil
}

// DeleteEdge removes exactly the edge parent -> child.
// Returns whether an edge existed.
func (s *Store) DeleteEdge(ctx context.Context, parent, child record.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM edges
		WHERE parent_id = ? AND parent_type = ? AND child_id = ? AND child_type = ?
	`), parent.ID, parent.Type, child.ID, child.Type)
	if err != nil {
		return false, fmt.Errorf("delete edge %s -> %s: %w", parent, child, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete edge %s -> %s: rows affected: %w", parent, child, err)
	}
	return n > 0, nil
}
