package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/catalog/internal/record"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustUpsert writes a snapshot or fails the test.
func mustUpsert(t *testing.T, s *Store, typ, id string, seq int64, data record.Data) {
	t.Helper()
	if data == nil {
		data = record.Data{}
	}
	data["id"] = id
	if _, err := s.UpsertSnapshot(context.Background(), record.Snapshot{ID: id, Type: typ, Data: data, Seq: seq}); err != nil {
		t.Fatalf("UpsertSnapshot(%s:%s) failed: %v", typ, id, err)
	}
}

// mustEdge writes an edge or fails the test.
func mustEdge(t *testing.T, s *Store, id string, parent, child record.Key, seq int64) {
	t.Helper()
	e := record.Edge{
		ID:         id,
		ParentID:   parent.ID,
		ParentType: parent.Type,
		ChildID:    child.ID,
		ChildType:  child.Type,
		Seq:        seq,
	}
	if _, err := s.WriteEdge(context.Background(), e); err != nil {
		t.Fatalf("WriteEdge(%s) failed: %v", e, err)
	}
}
