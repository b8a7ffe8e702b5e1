package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestFile = filepath.Join("testdata", "request.yaml")

func TestQueryText(t *testing.T) {
	db := syncedDB(t)

	out, err := execute(t, NewQueryCommand(&RootOptions{Format: "text"}),
		"--db", db, "--registry", registryDir, requestFile)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "1 of 1 row(s)\n"))
	assert.Contains(t, out, `"title": "Shirt"`)
	assert.Contains(t, out, `"sku": "S-1"`)
	assert.Less(t, strings.Index(out, "S-1"), strings.Index(out, "S-2"))
}

func TestQueryJSON(t *testing.T) {
	db := syncedDB(t)

	out, err := execute(t, NewQueryCommand(&RootOptions{Format: "json"}),
		"--db", db, "--registry", registryDir, requestFile)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Rows []struct {
				ID       string           `json:"id"`
				Title    string           `json:"title"`
				Variants []map[string]any `json:"variants"`
			} `json:"rows"`
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Count)
	require.Len(t, resp.Data.Rows, 1)

	row := resp.Data.Rows[0]
	assert.Equal(t, "p1", row.ID)
	assert.Equal(t, "Shirt", row.Title)
	require.Len(t, row.Variants, 2)
	assert.Equal(t, "v1", row.Variants[0]["id"])
	assert.Equal(t, "v2", row.Variants[1]["id"])
}

func TestQueryFromStdin(t *testing.T) {
	db := syncedDB(t)
	cmd := NewQueryCommand(&RootOptions{Format: "text"})
	cmd.SetIn(strings.NewReader(`{"select": {"Product": true}, "take": 1}`))

	out, err := execute(t, cmd, "--db", db, "--registry", registryDir, "-")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "1 of 2 row(s)\n"))
}

func TestQueryShapeError(t *testing.T) {
	db := syncedDB(t)
	request := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(request, []byte("select: { Product: true }\nwhere: { title: { $regex: Sh } }\n"), 0o644))

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, NewQueryCommand(&RootOptions{Format: "text"}),
			"--db", db, "--registry", registryDir, request)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error ["+ErrCodeQueryShape+"]")
		assert.Contains(t, out, "unknown operator")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, NewQueryCommand(&RootOptions{Format: "json"}),
			"--db", db, "--registry", registryDir, request)
		require.Error(t, err)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeQueryShape, resp.Error.Code)
		assert.Contains(t, resp.Error.Details, "path")
	})
}

func TestQueryRequestErrors(t *testing.T) {
	db := syncedDB(t)
	dir := t.TempDir()
	noSelect := filepath.Join(dir, "no_select.yaml")
	unknownKey := filepath.Join(dir, "unknown_key.yaml")
	require.NoError(t, os.WriteFile(noSelect, []byte("take: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(unknownKey, []byte("select: { Product: true }\nlimit: 1\n"), 0o644))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing select", []string{"--db", db, "--registry", registryDir, noSelect}, ErrCodeInvalidInput},
		{"unknown key", []string{"--db", db, "--registry", registryDir, unknownKey}, ErrCodeInvalidInput},
		{"missing registry", []string{"--db", db, requestFile}, "--registry is required"},
		{"missing database", []string{"--registry", registryDir, requestFile}, ErrCodeStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewQueryCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
