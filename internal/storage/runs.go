package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sheetagg/internal/etl"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusDegraded  = "degraded" // completed with error diagnostics
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one recorded execution of a config file.
type Run struct {
	ID         string     `json:"id"`
	ConfigPath string     `json:"configPath"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	MasterRows int        `json:"masterRows"`
	Rules      int        `json:"rules"`
	Warnings   int        `json:"warnings"`
	Errors     int        `json:"errors"`
	Outputs    []string   `json:"outputs"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	DurationMs int64      `json:"durationMs"`
}

// RunStore persists run history and each run's diagnostics.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// ── Runs ───────────────────────────────────────────────────

// CreateRun inserts run in the running state and assigns its ID.
func (s *RunStore) CreateRun(run *Run) error {
	run.ID = uuid.New().String()
	run.Status = StatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Trigger == "" {
		run.Trigger = "manual"
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO runs (id, config_path, trigger, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.ConfigPath, run.Trigger, run.Status, run.StartedAt,
	)
	return err
}

// FinishRun records the outcome of run.
func (s *RunStore) FinishRun(run *Run) error {
	now := time.Now()
	run.FinishedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	outputs, _ := json.Marshal(run.Outputs)

	res, err := s.db.conn.Exec(
		`UPDATE runs SET status=?, master_rows=?, rules=?, warnings=?, errors=?,
		 outputs_json=?, error=?, finished_at=?, duration_ms=? WHERE id=?`,
		run.Status, run.MasterRows, run.Rules, run.Warnings, run.Errors,
		string(outputs), run.Error, now, run.DurationMs, run.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// GetRun returns the run with id.
func (s *RunStore) GetRun(id string) (*Run, error) {
	row := s.db.conn.QueryRow(
		`SELECT id, config_path, trigger, status, master_rows, rules, warnings, errors,
		 outputs_json, error, started_at, finished_at, duration_ms
		 FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.Query(
		`SELECT id, config_path, trigger, status, master_rows, rules, warnings, errors,
		 outputs_json, error, started_at, finished_at, duration_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var outputs string
	var finished sql.NullTime
	if err := row.Scan(
		&run.ID, &run.ConfigPath, &run.Trigger, &run.Status,
		&run.MasterRows, &run.Rules, &run.Warnings, &run.Errors,
		&outputs, &run.Error, &run.StartedAt, &finished, &run.DurationMs,
	); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	json.Unmarshal([]byte(outputs), &run.Outputs)
	return &run, nil
}

// ── Diagnostics ────────────────────────────────────────────

// AddDiagnostics appends ds to runID's report, in order.
func (s *RunStore) AddDiagnostics(runID string, ds []etl.Diagnostic) error {
	if len(ds) == 0 {
		return nil
	}
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var base int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM run_diagnostics WHERE run_id = ?`, runID).Scan(&base); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO run_diagnostics (id, run_id, seq, severity, component, rule, subject, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range ds {
		if _, err := stmt.Exec(uuid.New().String(), runID, base+i,
			string(d.Severity), d.Component, d.Rule, d.Subject, d.Message); err != nil {
			return fmt.Errorf("insert diagnostic %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListDiagnostics returns runID's diagnostics in the order they were reported.
func (s *RunStore) ListDiagnostics(runID string) ([]etl.Diagnostic, error) {
	rows, err := s.db.conn.Query(
		`SELECT severity, component, rule, subject, message
		 FROM run_diagnostics WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []etl.Diagnostic
	for rows.Next() {
		var d etl.Diagnostic
		var sev string
		if err := rows.Scan(&sev, &d.Component, &d.Rule, &d.Subject, &d.Message); err != nil {
			return nil, err
		}
		d.Severity = etl.Severity(sev)
		ds = append(ds, d)
	}
	return ds, rows.Err()
}
