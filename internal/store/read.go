package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/catalog/internal/record"
)

// ReadSnapshot retrieves a single snapshot. Returns ErrNotFound if missing.
func (s *Store) ReadSnapshot(ctx context.Context, key record.Key) (record.Snapshot, error) {
	c := conn{s: s, x: s.db}
	row := c.queryRow(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE id = ? AND type = ?
	`, key.ID, key.Type)

	snap, err := scanSnapshot(row)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Exists reports whether a snapshot exists for key.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	return exists(ctx, conn{s: s, x: s.db}, key)
}

func exists(ctx context.Context, c conn, key record.Key) (bool, error) {
	var one int
	err := c.queryRow(ctx, `SELECT 1 FROM snapshots WHERE id = ? AND type = ?`, key.ID, key.Type).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check snapshot %s: %w", key, err)
	}
	return true, nil
}

// ListSnapshots returns every snapshot of the given type ordered by id.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListSnapshots(ctx context.Context, typ string) ([]record.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE type = ?
		ORDER BY id `+s.binaryCollation()+` ASC
	`), typ)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", typ, err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// CountSnapshots returns the number of snapshots of the given type.
// An empty type counts all snapshots.
func (s *Store) CountSnapshots(ctx context.Context, typ string) (int, error) {
	var (
		n   int
		err error
	)
	if typ == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM snapshots WHERE type = ?`), typ).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// ListEdges returns every edge in creation order.
func (s *Store) ListEdges(ctx context.Context) ([]record.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+edgeColumns+`
		FROM edges
		ORDER BY seq ASC, id `+s.binaryCollation()+` ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	return collectEdges(rows)
}

// EdgesOf returns every edge with key as parent or child, in creation order.
func (s *Store) EdgesOf(ctx context.Context, key record.Key) ([]record.Edge, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+edgeColumns+`
		FROM edges
		WHERE (parent_id = ? AND parent_type = ?)
		   OR (child_id = ? AND child_type = ?)
		ORDER BY seq ASC, id `+s.binaryCollation()+` ASC
	`), key.ID, key.Type, key.ID, key.Type)
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", key, err)
	}
	defer rows.Close()

	return collectEdges(rows)
}

// MaxSeq returns the highest seq stamped on any snapshot or edge, or 0.
// The engine clock resumes from this value.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT MAX(seq) AS seq FROM snapshots
			UNION ALL
			SELECT MAX(seq) AS seq FROM edges
		) AS seqs
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

// binaryCollation returns the dialect's byte-order collation clause.
func (s *Store) binaryCollation() string {
	if s.dialect == DialectPostgres {
		return `COLLATE "C"`
	}
	return "COLLATE BINARY"
}

func collectSnapshots(rows *sql.Rows) ([]record.Snapshot, error) {
	snaps := []record.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

func collectEdges(rows *sql.Rows) ([]record.Edge, error) {
	edges := []record.Edge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}
