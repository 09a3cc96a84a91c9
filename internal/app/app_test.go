package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────
// CLI tests
// Commands run through NewRootCmd with a temp history database.
// ─────────────────────────────────────────────────────────────

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"run.yaml": `
master_source:
  file_path: apps.csv
  primary_key_column: id
  include_master_columns: [id, name]
summary_definitions:
  - output_column_name: open
    source_file: findings.csv
    foreign_key_column: app_id
    aggregation: count
    filters:
      - {column: status, operator: "==", value: Open}
json_output:
  file: tree.json
`,
		"apps.csv":     "id,name\n1,alpha\n2,beta\n",
		"findings.csv": "app_id,status\n1,Open\n2,Closed\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return filepath.Join(dir, "run.yaml")
}

func TestRunThenHistory(t *testing.T) {
	cfg := writeConfig(t)
	history := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, "--history", history, "run", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "rows:    2")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfg), "tree.json"))

	out, err = execute(t, "--history", history, "history")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, "header plus one run")
	assert.Contains(t, lines[1], "success")
	assert.Contains(t, lines[1], cfg)
}

func TestRun_FailureExitsNonZero(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("master_source: {file_path: gone.csv, primary_key_column: id}\n"), 0o644))

	out, err := execute(t, "--no-history", "run", cfg)
	require.Error(t, err)
	assert.Contains(t, out, "FAILED")
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "status == Open")
	assert.Contains(t, out, "output: json:")

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("summary_definitions: []\n"), 0o644))
	_, err = execute(t, "validate", bad)
	assert.ErrorContains(t, err, "primary_key_column")
}

func TestPreviewAndSources(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "preview", filepath.Join(filepath.Dir(cfg), "apps.csv"), "--rows", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.NotContains(t, out, "beta")
	assert.Contains(t, out, "(1 rows)")

	out, err = execute(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "csv")
	assert.Contains(t, out, "mongodb")
}

func TestSchedule_RequiresExpression(t *testing.T) {
	_, err := execute(t, "--no-history", "schedule", writeConfig(t))
	assert.ErrorContains(t, err, "no schedule")
}

func TestHistoryPath(t *testing.T) {
	t.Setenv("SHEETAGG_HISTORY_DB", "")
	assert.Equal(t, "/x/h.db", historyPath(Options{HistoryDB: "/x/h.db"}))
	assert.Equal(t, DefaultHistoryDB(), historyPath(Options{}))

	t.Setenv("SHEETAGG_HISTORY_DB", "/env/h.db")
	assert.Equal(t, "/env/h.db", historyPath(Options{}))
}
