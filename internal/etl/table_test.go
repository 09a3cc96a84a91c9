package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────
// Value, Table, Aggregate, Merge, transform and cache tests
// ─────────────────────────────────────────────────────────────

// ── Value ────────────────────────────────────────────────────

func TestValue_Key(t *testing.T) {
	assert.Equal(t, "5", Number(5).Key())
	assert.Equal(t, "5", Int(5).Key())
	assert.Equal(t, "5", Text("5").Key())
	assert.Equal(t, "2.5", Number(2.5).Key())
	assert.Equal(t, "True", Bool(true).Key())
	assert.Equal(t, "", Null().Key())
}

func TestValue_Coercions(t *testing.T) {
	n, ok := Text(" 12.5 ").AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 12.5, n)

	_, ok = Text("abc").AsNumber()
	assert.False(t, ok)
	_, ok = Text("inf").AsNumber()
	assert.False(t, ok, "infinities are not numbers")
	_, ok = Null().AsNumber()
	assert.False(t, ok)

	d, ok := Text("2024-03-01").AsDate()
	require.True(t, ok)
	assert.Equal(t, 2024, d.Year())
	_, ok = Number(45000).AsDate()
	assert.False(t, ok, "numbers are not epoch offsets")

	assert.True(t, Number(2).Truthy())
	assert.False(t, Text("").Truthy())
	assert.False(t, Null().Truthy())
}

func TestValue_DatesAreLocalWallClock(t *testing.T) {
	withLocal(t, time.FixedZone("EST", -5*60*60))

	d, _ := Date(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)).AsDate()
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.Local), d)

	d, ok := Text("2024-06-15T08:00:00Z").AsDate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 15, 8, 0, 0, 0, time.Local), d)

	parsed, ok := Text("2024-06-15").AsDate()
	require.True(t, ok)
	assert.True(t, Equal(Date(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)), Date(parsed)))
}

// withLocal swaps time.Local for the duration of the test.
func withLocal(t *testing.T, loc *time.Location) {
	t.Helper()
	prev := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = prev })
}

func TestValue_FromAny(t *testing.T) {
	assert.Equal(t, KindNull, FromAny(nil).Kind())
	assert.Equal(t, KindNumber, FromAny(int32(3)).Kind())
	assert.Equal(t, KindText, FromAny([]byte("x")).Kind())
	assert.Equal(t, KindDate, FromAny(time.Now()).Kind())
	assert.True(t, FromAny(Bool(true)).Truthy())
}

func TestValue_InferCell(t *testing.T) {
	assert.True(t, InferCell("  ").IsNull())
	assert.Equal(t, Number(42), InferCell("42"))
	assert.Equal(t, Bool(false), InferCell("FALSE"))
	assert.Equal(t, Text("n/a"), InferCell("n/a"))
}

func TestValue_EqualCompare(t *testing.T) {
	assert.True(t, Equal(Number(1), Bool(true)))
	assert.False(t, Equal(Number(5), Text("5")), "direct equality does not normalize")
	assert.False(t, Equal(Null(), Null()))

	c, ok := Compare(Text("a"), Text("b"))
	assert.True(t, ok)
	assert.Equal(t, -1, c)
	_, ok = Compare(Text("a"), Number(1))
	assert.False(t, ok)
}

// ── Table ────────────────────────────────────────────────────

func TestTable_FromRowsPadsAndDedupesHeaders(t *testing.T) {
	tbl := FromRows([]string{"a", "b", "a"}, [][]Value{
		{Int(1), Int(2), Int(3)},
		{Int(4)},
	})
	assert.Equal(t, []string{"a", "b"}, tbl.Columns())
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, Int(1), tbl.Value(0, "a"))
	assert.True(t, tbl.Value(1, "b").IsNull())
	assert.True(t, tbl.Value(0, "zzz").IsNull())
}

func TestTable_RenameReorderSelect(t *testing.T) {
	tbl := FromRows([]string{"a", "b", "c"}, [][]Value{{Int(1), Int(2), Int(3)}})

	require.NoError(t, tbl.Rename(map[string]string{"a": "x"}))
	assert.Equal(t, []string{"x", "b", "c"}, tbl.Columns())
	assert.Error(t, tbl.Rename(map[string]string{"b": "c"}))

	out, err := tbl.Reorder([]string{"c", "x", "b"})
	require.NoError(t, err)
	assert.Equal(t, []Value{Int(3), Int(1), Int(2)}, out.Row(0))
	_, err = tbl.Reorder([]string{"c", "x"})
	assert.Error(t, err)

	_, err = tbl.Select("nope")
	assert.Error(t, err)
}

func TestTable_SetColumnLength(t *testing.T) {
	tbl := FromRows([]string{"a"}, [][]Value{{Int(1)}, {Int(2)}})
	assert.Error(t, tbl.SetColumn("b", FieldAny, []Value{Int(1)}))
	require.NoError(t, tbl.SetColumn("b", FieldInteger, []Value{Int(1), Int(2)}))
	assert.Equal(t, FieldInteger, tbl.FieldType("b"))
	assert.Equal(t, []any{2.0, int64(2)}, RowValues(tbl, 1))
}

// ── Aggregate / Merge ────────────────────────────────────────

func TestAggregate_NullKeysFormOneGroup(t *testing.T) {
	tbl := FromRows([]string{"fk"}, [][]Value{{Null()}, {Null()}, {Int(1)}})
	agg, diags := Aggregate(tbl, "fk", KindCount, "")
	assert.Empty(t, diags)
	assert.Equal(t, []string{NullGroupKey, "1"}, agg.Order)
	v, _ := agg.Get(NullGroupKey)
	assert.Equal(t, Int(2), v)
}

func TestAggregate_Degraded(t *testing.T) {
	tbl := FromRows([]string{"fk", "v"}, [][]Value{{Int(1), Text("x")}})

	agg, diags := Aggregate(tbl, "fk", KindSum, "")
	assert.Zero(t, agg.Len())
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityError, diags[0].Severity)

	agg, diags = Aggregate(tbl, "fk", KindSum, "v")
	v, _ := agg.Get("1")
	assert.Equal(t, Number(0), v)
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityWarning, diags[0].Severity)

	_, diags = Aggregate(tbl, "fk", "median", "")
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "unsupported")
}

func TestMerge_LeftOuterWithDefaults(t *testing.T) {
	master := FromRows([]string{"id"}, [][]Value{{Text("1")}, {Text("2")}, {Null()}})
	agg := Aggregation{Kind: KindExists, Values: map[string]Value{
		"1":          Bool(true),
		NullGroupKey: Bool(true),
	}}
	require.NoError(t, Merge(master, "id", "has", agg))

	col, _ := master.Column("has")
	assert.Equal(t, []Value{Bool(true), Bool(false), Bool(false)}, col, "null master keys never match")
	assert.Error(t, Merge(master, "missing", "x", agg))
}

func TestFillDefault_UnknownKindIsFalse(t *testing.T) {
	master := FromRows([]string{"id"}, [][]Value{{Int(1)}})
	require.NoError(t, FillDefault(master, "x", "median"))
	assert.Equal(t, Bool(false), master.Value(0, "x"))
}

// ── Transforms ───────────────────────────────────────────────

func TestProject(t *testing.T) {
	tbl := FromRows([]string{"id", "name", "extra"}, [][]Value{{Int(1), Text("a"), Text("z")}})

	out, key, diags, err := Project(tbl, []ColumnMapping{
		{Source: "name", Output: "Name"},
		{Source: "ghost", Output: "Ghost"},
	}, "id")
	require.NoError(t, err)
	assert.Equal(t, "id", key)
	assert.Equal(t, []string{"Name", "id"}, out.Columns())
	assert.Len(t, diags, 2, "missing column and implicit primary key")
}

func TestDedupeAndDropNullKeys(t *testing.T) {
	tbl := FromRows([]string{"id"}, [][]Value{{Int(1)}, {Text("1")}, {Null()}, {Null()}, {Int(2)}})
	deduped, dups := DedupeByKey(tbl, "id")
	assert.Equal(t, 3, deduped.Len())
	assert.Equal(t, []string{"1", "<null>"}, dups)

	cleaned, dropped := DropNullKeys(deduped, "id")
	assert.Equal(t, 2, cleaned.Len())
	assert.Equal(t, 1, dropped)
}

// ── Cache ────────────────────────────────────────────────────

type countingReader struct{ calls int }

func (c *countingReader) Read(_ context.Context, ref SourceRef) (*Table, error) {
	c.calls++
	if ref.Sheet == "bad" {
		return nil, errors.New("boom")
	}
	return FromRows([]string{"a"}, [][]Value{{Int(1)}}), nil
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	next := &countingReader{}
	c := NewCache(next)

	t1, err := c.Read(ctx, SourceRef{Path: "x.xlsx", Sheet: "s"})
	require.NoError(t, err)
	require.NoError(t, t1.SetColumn("a", FieldAny, []Value{Int(99)}))

	t2, err := c.Read(ctx, SourceRef{Path: "./x.xlsx", Sheet: "s"})
	require.NoError(t, err)
	assert.Equal(t, Int(1), t2.Value(0, "a"), "callers get private copies")
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, c.Hits())

	_, err = c.Read(ctx, SourceRef{Path: "x.xlsx", Sheet: "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = c.Read(ctx, SourceRef{Path: "x.xlsx", Sheet: "bad"})
	assert.Error(t, err)
	assert.Equal(t, 2, c.Len(), "failures are not cached")

	c.Clear()
	assert.Zero(t, c.Len())
}
