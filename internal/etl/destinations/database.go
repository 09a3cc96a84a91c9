package destinations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sheetagg/internal/dbclient"
	"sheetagg/internal/etl"
)

// ── Database Destination ───────────────────────────────────
// Replaces a table (or collection) with the output table.
// Always replace mode: each run fully owns its target.

// DefaultTable is the table name used when none is configured.
const DefaultTable = "summary"

// DatabaseWriter writes the output table through a dbclient connector.
type DatabaseWriter struct {
	Driver string // dbclient.Driver*; sqlite when empty
	DSN    string // file path for sqlite
	Table  string
	Log    *zap.Logger
}

func (w *DatabaseWriter) driver() string {
	if w.Driver == "" {
		return dbclient.DriverSQLite
	}
	return w.Driver
}

func (w *DatabaseWriter) Name() string { return w.driver() + ":" + w.DSN }

func (w *DatabaseWriter) Write(ctx context.Context, out *etl.Output) (int, error) {
	table := w.Table
	if table == "" {
		table = DefaultTable
	}
	t := out.Result.Table

	if w.driver() == dbclient.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(w.DSN), 0o755); err != nil {
			return 0, fmt.Errorf("create output dir: %w", err)
		}
	}

	conn, err := dbclient.NewConnector(w.driver(), w.DSN, w.Log)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	rows := make([][]any, t.Len())
	for i := range rows {
		rows[i] = etl.RowValues(t, i)
	}
	n, err := conn.ReplaceTable(ctx, table, t.Columns(), rows)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", table, err)
	}
	logger(w.Log).Info("database output written",
		zap.String("driver", w.driver()),
		zap.String("table", table),
		zap.Int("rows", n))
	return n, nil
}
