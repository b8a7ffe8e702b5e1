package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/catalog/internal/record"
)

// marshalData converts snapshot data to canonical JSON TEXT and its content hash.
func marshalData(d record.Data) (string, string, error) {
	raw, err := record.MarshalCanonical(d)
	if err != nil {
		return "", "", fmt.Errorf("marshal data: %w", err)
	}
	hash, err := record.DataHash(d)
	if err != nil {
		return "", "", fmt.Errorf("hash data: %w", err)
	}
	return string(raw), hash, nil
}

// unmarshalData parses stored JSON TEXT (or JSONB) back to Data.
// Numbers are kept as json.Number to avoid float64 precision loss.
func unmarshalData(raw []byte) (record.Data, error) {
	d, err := record.ParseData(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return d, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const snapshotColumns = "id, type, data, hash, seq"

func scanSnapshot(sc scanner) (record.Snapshot, error) {
	var (
		snap record.Snapshot
		raw  []byte
	)
	if err := sc.Scan(&snap.ID, &snap.Type, &raw, &snap.Hash, &snap.Seq); err != nil {
		if err == sql.ErrNoRows {
			return record.Snapshot{}, ErrNotFound
		}
		return record.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	data, err := unmarshalData(raw)
	if err != nil {
		return record.Snapshot{}, err
	}
	snap.Data = data
	return snap, nil
}

const edgeColumns = "id, parent_id, parent_type, child_id, child_type, seq"

func scanEdge(sc scanner) (record.Edge, error) {
	var e record.Edge
	if err := sc.Scan(&e.ID, &e.ParentID, &e.ParentType, &e.ChildID, &e.ChildType, &e.Seq); err != nil {
		return record.Edge{}, fmt.Errorf("scan edge: %w", err)
	}
	return e, nil
}
