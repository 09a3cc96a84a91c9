package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetagg/internal/service"
	"sheetagg/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Tool handler tests
// Handlers are called directly; no stdio transport.
// ─────────────────────────────────────────────────────────────

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(Deps{Runs: service.NewRunService(storage.NewRunStore(db), nil, nil)})
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestRunConfigAndListRuns(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	files := map[string]string{
		"run.yaml": `
master_source: {file_path: apps.csv, primary_key_column: id}
detail_sources:
  - file_path: findings.csv
    foreign_key_column: app_id
    summaries:
      - {output_column_name: n, aggregation: count}
`,
		"apps.csv":     "id\n1\n2\n",
		"findings.csv": "app_id\n1\n1\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	res, err := s.handleRunConfig(context.Background(), call(map[string]any{
		"configPath":  filepath.Join(dir, "run.yaml"),
		"previewRows": float64(1),
	}))
	require.NoError(t, err)

	var sum runSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &sum))
	assert.Equal(t, storage.StatusSuccess, sum.Status)
	assert.Equal(t, 2, sum.MasterRows)
	assert.Equal(t, []string{"id", "n"}, sum.Columns)
	assert.Len(t, sum.Rows, 1)

	res, err = s.handleListRuns(context.Background(), call(nil))
	require.NoError(t, err)
	var runs []storage.Run
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, service.TriggerMCP, runs[0].Trigger)
}

func TestRunConfig_RequiresPath(t *testing.T) {
	s := newTestServer(t)
	_, err := s.handleRunConfig(context.Background(), call(map[string]any{}))
	assert.ErrorContains(t, err, "configPath is required")
}

func TestListRuns_Empty(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleListRuns(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.", resultText(t, res))
}

func TestPreviewSource(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(t.TempDir(), "apps.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,a\n2,b\n3,c\n"), 0o644))

	res, err := s.handlePreviewSource(context.Background(), call(map[string]any{
		"filePath": path,
		"maxRows":  float64(2),
	}))
	require.NoError(t, err)

	var got struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	assert.Equal(t, []string{"id", "name"}, got.Columns)
	assert.Len(t, got.Rows, 2)

	_, err = s.handlePreviewSource(context.Background(), call(map[string]any{}))
	assert.Error(t, err)
}

func TestListSourceTypes(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleListSourceTypes(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"type": "csv"`)
}
