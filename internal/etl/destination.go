package etl

import (
	"context"
	"time"
)

// ── Destination ────────────────────────────────────────────
// A Destination renders a finished run somewhere: a workbook, a JSON
// tree, a text digest, a database table. Implementations live in
// etl/destinations/.

// Output is everything a destination may consume.
type Output struct {
	Result *RunResult
	Rules  *RuleSet
	// Reader re-reads sources; the Engine's run-scoped cache.
	Reader Reader
	// Now is the run's clock, used to resolve TODAY in selection filters.
	Now time.Time
}

// Destination writes a run's output and returns how many units (rows,
// records, blocks) it wrote.
type Destination interface {
	Name() string
	Write(ctx context.Context, out *Output) (int, error)
}

// RowValues returns row i of t as plain Go values in column order, with
// integer columns narrowed to int64. Shared by the tabular writers.
func RowValues(t *Table, i int) []any {
	row := t.Row(i)
	vals := make([]any, len(row))
	for j, v := range row {
		vals[j] = v.Any()
		if n, ok := vals[j].(float64); ok && t.fields[j].Type == FieldInteger {
			vals[j] = int64(n)
		}
	}
	return vals
}
