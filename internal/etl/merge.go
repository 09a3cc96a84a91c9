package etl

import (
	"fmt"
	"math"
)

// ── Merge ──────────────────────────────────────────────────
// Folds an aggregation back onto the master table as one new column.
// Left-outer: every master row is kept and receives either its group's
// value or the kind's default.

// Merge adds (or replaces) column output on master. Master keys and
// aggregation keys are both compared in their string-normalized form.
// The only error is a missing key column, which is a caller defect.
func Merge(master *Table, keyColumn, output string, agg Aggregation) error {
	keys, ok := master.Column(keyColumn)
	if !ok {
		return fmt.Errorf("merge %q: key column %q not found in master", output, keyColumn)
	}

	def := agg.Kind.Default()
	col := make([]Value, len(keys))
	for i, k := range keys {
		v := def
		if !k.IsNull() {
			if got, ok := agg.Values[k.Key()]; ok && !got.IsNull() {
				v = got
			}
		}
		col[i] = enforce(agg.Kind, v)
	}
	return master.SetColumn(output, agg.Kind.FieldType(), col)
}

// FillDefault adds column output to master holding kind's default in every row.
func FillDefault(master *Table, output string, kind Kind) error {
	col := make([]Value, master.Len())
	for i := range col {
		col[i] = enforce(kind, kind.Default())
	}
	return master.SetColumn(output, kind.FieldType(), col)
}

// enforce casts v to the column type of kind, so defaults and computed
// values agree after the fill.
func enforce(kind Kind, v Value) Value {
	switch kind {
	case KindCount:
		n, ok := v.AsNumber()
		if !ok {
			return Int(0)
		}
		return Number(math.Trunc(n))
	case KindExists:
		return Bool(v.Truthy())
	case KindSum:
		n, ok := v.AsNumber()
		if !ok {
			return Number(0)
		}
		return Number(n)
	default:
		return v
	}
}
