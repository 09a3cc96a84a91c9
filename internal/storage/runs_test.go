package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetagg/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// RunStore tests
// Real SQLite file under t.TempDir().
// ─────────────────────────────────────────────────────────────

func newStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunStore(db)
}

func TestRunStore_Lifecycle(t *testing.T) {
	s := newStore(t)

	run := &Run{ConfigPath: "/cfg/run.yaml", StartedAt: time.Now().Add(-time.Second)}
	require.NoError(t, s.CreateRun(run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "manual", run.Trigger)

	run.Status = StatusSuccess
	run.MasterRows = 12
	run.Rules = 3
	run.Warnings = 1
	run.Outputs = []string{"excel:/out/summary.xlsx"}
	require.NoError(t, s.FinishRun(run))
	assert.GreaterOrEqual(t, run.DurationMs, int64(1000))

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, 12, got.MasterRows)
	assert.Equal(t, []string{"excel:/out/summary.xlsx"}, got.Outputs)
	require.NotNil(t, got.FinishedAt)

	_, err = s.GetRun("nope")
	assert.Error(t, err)
	assert.Error(t, s.FinishRun(&Run{ID: "nope"}))
}

func TestRunStore_ListRunsNewestFirst(t *testing.T) {
	s := newStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, s.CreateRun(&Run{ConfigPath: "c.yaml", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	assert.Nil(t, runs[0].FinishedAt)
}

func TestRunStore_Diagnostics(t *testing.T) {
	s := newStore(t)
	run := &Run{ConfigPath: "c.yaml"}
	require.NoError(t, s.CreateRun(run))

	first := []etl.Diagnostic{
		{Severity: etl.SeverityWarning, Component: etl.ComponentMaster, Subject: "id", Message: "duplicate keys"},
		{Severity: etl.SeverityError, Component: etl.ComponentFilter, Rule: "n", Message: "bad regex"},
	}
	second := []etl.Diagnostic{
		{Severity: etl.SeverityInfo, Component: etl.ComponentMerge, Rule: "n", Message: "filled"},
	}
	require.NoError(t, s.AddDiagnostics(run.ID, first))
	require.NoError(t, s.AddDiagnostics(run.ID, second))
	require.NoError(t, s.AddDiagnostics(run.ID, nil))

	got, err := s.ListDiagnostics(run.ID)
	require.NoError(t, err)
	assert.Equal(t, append(first, second...), got)

	other, err := s.ListDiagnostics("other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestNew_MigrationsAreRerunnable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
