package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────
// Filter tests
// One table, every operator; then the degraded paths, which must
// skip the condition and report it rather than fail.
// ─────────────────────────────────────────────────────────────

var testNow = time.Date(2024, 6, 15, 14, 0, 0, 0, time.Local)

func issues() *Table {
	d := func(y int, m time.Month, day int) Value { return Date(time.Date(y, m, day, 0, 0, 0, 0, time.UTC)) }
	return FromRows([]string{"id", "sev", "score", "title", "due"}, [][]Value{
		{Int(1), Text("high"), Number(9), Text("SQL injection"), d(2024, 6, 1)},
		{Int(2), Text("low"), Number(2), Text("Weak cipher"), d(2024, 7, 1)},
		{Int(3), Text("high"), Number(7.5), Text("sql errors leak"), Text("2024-06-15")},
		{Int(4), Null(), Null(), Text("Missing header"), Null()},
	})
}

func ids(t *testing.T, tbl *Table) []float64 {
	t.Helper()
	col, ok := tbl.Column("id")
	require.True(t, ok)
	out := make([]float64, len(col))
	for i, v := range col {
		out[i], _ = v.AsNumber()
	}
	return out
}

func TestFilter_Operators(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		want []float64
	}{
		{"eq", Condition{"sev", OpEq, "high"}, []float64{1, 3}},
		{"neq keeps nulls", Condition{"sev", OpNeq, "high"}, []float64{2, 4}},
		{"gt numeric", Condition{"score", OpGt, 5}, []float64{1, 3}},
		{"gte numeric", Condition{"score", OpGte, 7.5}, []float64{1, 3}},
		{"lt numeric skips null", Condition{"score", OpLt, 8}, []float64{2, 3}},
		{"lte numeric", Condition{"score", OpLte, 2}, []float64{2}},
		{"in", Condition{"id", OpIn, []any{1, "2", 4}}, []float64{1, 4}},
		{"not in", Condition{"id", OpNotIn, []int{1, 2}}, []float64{3, 4}},
		{"isnull", Condition{"sev", OpIsNull, nil}, []float64{4}},
		{"notnull", Condition{"sev", OpNotNull, nil}, []float64{1, 2, 3}},
		{"contains is case-insensitive", Condition{"title", OpContains, "SQL"}, []float64{1, 3}},
		{"startswith is case-sensitive", Condition{"title", OpStartsWith, "sql"}, []float64{3}},
		{"endswith", Condition{"title", OpEndsWith, "cipher"}, []float64{2}},
		{"regex", Condition{"title", OpRegex, `^[A-Z]\w+ (injection|header)$`}, []float64{1, 4}},
		{"date literal", Condition{"due", OpLt, "2024-06-10"}, []float64{1}},
		{"today", Condition{"due", OpGte, "TODAY"}, []float64{2, 3}},
		{"today eq matches text date", Condition{"due", OpEq, "today"}, []float64{3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, diags := Filter(issues(), []Condition{tc.cond}, testNow)
			assert.Empty(t, diags)
			assert.Equal(t, tc.want, ids(t, out))
		})
	}
}

func TestFilter_ConditionsAreANDed(t *testing.T) {
	out, diags := Filter(issues(), []Condition{
		{"sev", OpEq, "high"},
		{"score", OpGt, 8},
	}, testNow)
	assert.Empty(t, diags)
	assert.Equal(t, []float64{1}, ids(t, out))
}

func TestFilter_SkippedConditions(t *testing.T) {
	tests := []struct {
		name     string
		cond     Condition
		severity Severity
	}{
		{"missing column", Condition{"nope", OpEq, 1}, SeverityWarning},
		{"invalid definition", Condition{"", OpEq, 1}, SeverityWarning},
		{"unsupported operator", Condition{"sev", "like", "h%"}, SeverityWarning},
		{"in without list", Condition{"id", OpIn, 3}, SeverityError},
		{"bad regex", Condition{"title", OpRegex, "(["}, SeverityError},
		{"string op in date mode", Condition{"due", OpContains, "TODAY"}, SeverityError},
		{"incomparable kinds", Condition{"title", OpGt, 3}, SeverityError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, diags := Filter(issues(), []Condition{tc.cond, {"sev", OpEq, "high"}}, testNow)
			require.Len(t, diags, 1)
			assert.Equal(t, tc.severity, diags[0].Severity)
			assert.Equal(t, ComponentFilter, diags[0].Component)
			// The later condition still applies.
			assert.Equal(t, []float64{1, 3}, ids(t, out))
		})
	}
}

func TestFilter_DateModeDropsUnparseableRows(t *testing.T) {
	tbl := FromRows([]string{"id", "due"}, [][]Value{
		{Int(1), Text("not a date")},
		{Int(2), Text("2024-01-01")},
		{Int(3), Number(45000)},
	})
	out, diags := Filter(tbl, []Condition{{"due", OpNeq, "TODAY"}}, testNow)
	assert.Empty(t, diags)
	assert.Equal(t, []float64{2}, ids(t, out))
}

func TestFilter_DoesNotModifyInput(t *testing.T) {
	in := issues()
	out, _ := Filter(in, nil, testNow)
	assert.Equal(t, in.Len(), out.Len())
	require.NoError(t, out.SetColumn("extra", FieldAny, make([]Value, out.Len())))
	assert.False(t, in.Has("extra"))
}

func TestFilter_EmptyTable(t *testing.T) {
	out, diags := Filter(NewTable("id"), []Condition{{"missing", OpEq, 1}}, testNow)
	assert.Empty(t, diags)
	assert.True(t, out.Empty())
}
