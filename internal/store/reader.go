package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/catalog/internal/record"
)

// Reader runs caller-compiled queries inside one read transaction.
//
// Queries must already use the dialect's placeholders; Reader does not
// rebind them.
type Reader struct {
	tx      *sql.Tx
	dialect Dialect
}

// Child is a snapshot reached through an edge from ParentID.
type Child struct {
	ParentID string
	record.Snapshot
}

// ReadTx runs fn inside a single read transaction so every query sees the
// same state. The transaction is always rolled back.
func (s *Store) ReadTx(ctx context.Context, fn func(*Reader) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	}

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("read tx: begin: %w", err)
	}
	defer tx.Rollback()

	return fn(&Reader{tx: tx, dialect: s.dialect})
}

// Dialect reports the SQL backend the reader runs against.
func (r *Reader) Dialect() Dialect {
	return r.dialect
}

// Snapshots runs a query whose columns are (id, type, data, hash, seq).
func (r *Reader) Snapshots(ctx context.Context, query string, args ...any) ([]record.Snapshot, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// Children runs a query whose columns are (parent_id, id, type, data, hash, seq).
func (r *Reader) Children(ctx context.Context, query string, args ...any) ([]Child, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	children := []Child{}
	for rows.Next() {
		var (
			c   Child
			raw []byte
		)
		if err := rows.Scan(&c.ParentID, &c.ID, &c.Type, &raw, &c.Hash, &c.Seq); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		data, err := unmarshalData(raw)
		if err != nil {
			return nil, err
		}
		c.Data = data
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return children, nil
}

// Count runs a single-value COUNT query.
func (r *Reader) Count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return n, nil
}
