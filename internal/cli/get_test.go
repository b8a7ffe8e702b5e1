package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSnapshot(t *testing.T) {
	db := syncedDB(t)

	out, err := execute(t, NewGetCommand(&RootOptions{Format: "text"}), "--db", db, "Product", "p1")
	require.NoError(t, err)

	assert.Contains(t, out, "Product:p1 (seq ")
	assert.Contains(t, out, `"title": "Shirt"`)
	assert.Contains(t, out, "Parents (0):")
	assert.Contains(t, out, "Children (2):")
	assert.Contains(t, out, "] ProductVariant:v1")
	assert.Contains(t, out, "] ProductVariant:v2")
	assert.NotContains(t, out, "hash:")
}

func TestGetSnapshotVerbose(t *testing.T) {
	db := syncedDB(t)

	out, err := execute(t, NewGetCommand(&RootOptions{Format: "text", Verbose: true}), "--db", db, "ProductVariant", "v1")
	require.NoError(t, err)
	assert.Contains(t, out, "hash: ")
	assert.Contains(t, out, "Parents (1):")
	assert.Contains(t, out, "] Product:p1")
	assert.Contains(t, out, "Children (0):")
}

func TestGetSnapshotJSON(t *testing.T) {
	db := syncedDB(t)

	out, err := execute(t, NewGetCommand(&RootOptions{Format: "json"}), "--db", db, "Product", "p1")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   GetResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "p1", resp.Data.Snapshot.ID)
	assert.Equal(t, "Shirt", resp.Data.Snapshot.Data["title"])
	assert.NotEmpty(t, resp.Data.Snapshot.Hash)
	assert.Empty(t, resp.Data.Parents)
	require.Len(t, resp.Data.Children, 2)
	assert.Less(t, resp.Data.Children[0].Seq, resp.Data.Children[1].Seq)
	assert.Equal(t, "v1", resp.Data.Children[0].ChildID)
}

func TestGetNotFound(t *testing.T) {
	db := syncedDB(t)

	out, err := execute(t, NewGetCommand(&RootOptions{Format: "text"}), "--db", db, "Product", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeNotFound+"]: no snapshot for Product:nope")
}

func TestGetCommandErrors(t *testing.T) {
	t.Run("missing database flag", func(t *testing.T) {
		_, err := execute(t, NewGetCommand(&RootOptions{Format: "text"}), "Product", "p1")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), ErrCodeStore)
	})

	t.Run("database in missing directory", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "missing", "catalog.db")
		_, err := execute(t, NewGetCommand(&RootOptions{Format: "text"}), "--db", db, "Product", "p1")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("wrong arg count", func(t *testing.T) {
		_, err := execute(t, NewGetCommand(&RootOptions{Format: "text"}), "Product")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accepts 2 arg")
	})
}
