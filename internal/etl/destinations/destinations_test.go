package destinations_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sheetagg/internal/dbclient"
	"sheetagg/internal/etl"
	"sheetagg/internal/etl/destinations"
)

// ─────────────────────────────────────────────────────────────
// Destination tests
// Every renderer writes into t.TempDir(); detail sources come
// from an in-memory reader keyed by path.
// ─────────────────────────────────────────────────────────────

type memReader map[string]*etl.Table

func (m memReader) Read(_ context.Context, ref etl.SourceRef) (*etl.Table, error) {
	t, ok := m[ref.Path]
	if !ok {
		return nil, etl.ErrNotFound
	}
	return t.Clone(), nil
}

// summaryTable is a finished run: id, name, open_count (integer).
func summaryTable(t *testing.T) *etl.Table {
	t.Helper()
	tbl := etl.FromRows([]string{"id", "name"}, [][]etl.Value{
		{etl.Text("A"), etl.Text("Alpha")},
		{etl.Text("B"), etl.Text("Beta")},
	})
	require.NoError(t, tbl.SetColumn("open_count", etl.FieldInteger, []etl.Value{etl.Int(2), etl.Int(0)}))
	return tbl
}

func output(t *testing.T, r etl.Reader) *etl.Output {
	return &etl.Output{
		Result: &etl.RunResult{Table: summaryTable(t), KeyColumn: "id", MasterRows: 2},
		Reader: r,
		Now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func findings() *etl.Table {
	return etl.FromRows([]string{"app", "title", "score"}, [][]etl.Value{
		{etl.Text("A"), etl.Text("X"), etl.Number(1.5)},
		{etl.Text("A"), etl.Text("Y"), etl.Number(2)},
		{etl.Null(), etl.Text("orphan"), etl.Number(9)},
		{etl.Text("Z"), etl.Text("unknown"), etl.Number(4)},
	})
}

// ── Excel ────────────────────────────────────────────────────

func TestExcelWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summary.xlsx")
	w := &destinations.ExcelWriter{Path: path}

	n, err := w.Write(context.Background(), output(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(destinations.DefaultSheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"id", "name", "open_count"},
		{"A", "Alpha", "2"},
		{"B", "Beta", "0"},
	}, rows)
}

// ── Database ─────────────────────────────────────────────────

func TestDatabaseWriter_SQLiteReplace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.db")
	w := &destinations.DatabaseWriter{DSN: path, Table: "apps"}

	for range 2 {
		n, err := w.Write(ctx, output(t, nil))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	conn, err := dbclient.NewConnector(dbclient.DriverSQLite, path, nil)
	require.NoError(t, err)
	defer conn.Close()
	page, err := dbclient.ReadAll(ctx, conn, conn.TableQuery("apps"), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "open_count"}, page.Columns)
	assert.Len(t, page.Rows, 2, "second write replaces the first")
}

// ── JSON tree ────────────────────────────────────────────────

func TestJSONTree_Dict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.json")
	w := &destinations.JSONTree{
		Path: path,
		Details: []destinations.JSONDetail{{
			Ref:        etl.SourceRef{Path: "findings.xlsx"},
			ForeignKey: "app",
			Key:        "findings",
			Include: []etl.ColumnMapping{
				{Source: "title", Output: "Title"},
				{Source: "missing", Output: "Missing"},
			},
		}, {
			Ref:        etl.SourceRef{Path: "absent.xlsx"},
			ForeignKey: "app",
			Key:        "absent",
		}},
	}

	n, err := w.Write(context.Background(), output(t, memReader{"findings.xlsx": findings()}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(raw), `"A"`), strings.Index(string(raw), `"B"`), "master order kept")

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)

	a := got["A"]
	assert.Equal(t, "Alpha", a["name"])
	assert.EqualValues(t, 2, a["open_count"])
	assert.Equal(t, []any{
		map[string]any{"Title": "X", "Missing": nil},
		map[string]any{"Title": "Y", "Missing": nil},
	}, a["findings"])
	assert.Equal(t, []any{}, a["absent"], "unreadable source leaves an empty list")

	assert.Equal(t, []any{}, got["B"]["findings"])
}

func TestJSONTree_ListPutsIDFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.json")
	w := &destinations.JSONTree{Path: path, Format: destinations.FormatList}

	_, err := w.Write(context.Background(), output(t, memReader{}))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "[\n    {\n        \"id\": \"A\","), string(raw))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[1]["id"])
}

func TestJSONTree_DatesOutsideUTC(t *testing.T) {
	prev := time.Local
	time.Local = time.FixedZone("EST", -5*60*60)
	t.Cleanup(func() { time.Local = prev })

	tbl := etl.FromRows([]string{"id", "due"}, [][]etl.Value{
		{etl.Text("A"), etl.Date(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))},
		{etl.Text("B"), etl.Date(time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC))},
	})
	path := filepath.Join(t.TempDir(), "tree.json")
	w := &destinations.JSONTree{Path: path}
	_, err := w.Write(context.Background(), &etl.Output{
		Result: &etl.RunResult{Table: tbl, KeyColumn: "id", MasterRows: 2},
		Reader: memReader{},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "2024-06-15", got["A"]["due"])
	assert.Equal(t, "2024-06-15T13:45:00-05:00", got["B"]["due"])
}

func TestJSONTree_UnknownFormat(t *testing.T) {
	w := &destinations.JSONTree{Path: filepath.Join(t.TempDir(), "x.json"), Format: "yaml"}
	_, err := w.Write(context.Background(), output(t, memReader{}))
	assert.Error(t, err)
}

// ── Text digest ──────────────────────────────────────────────

func digest(path string, sel destinations.DigestSelection) *destinations.TextDigest {
	return &destinations.TextDigest{
		Path:      path,
		Selection: sel,
		Sources: []destinations.DigestSource{{
			Ref:        etl.SourceRef{Path: "findings.xlsx"},
			ForeignKey: "app",
			Fields: []etl.ColumnMapping{
				{Source: "title", Output: "Title"},
				{Source: "score", Output: "Score"},
			},
			Format: "{Title} ({Score}) {Owner}",
		}},
	}
}

func TestTextDigest_FilterSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.txt")
	d := digest(path, destinations.DigestSelection{
		Filters: []etl.Condition{{Column: "name", Operator: etl.OpStartsWith, Value: "A"}},
	})
	d.HeaderFormat = "=== {id}: {name} ==="

	n, err := d.Write(context.Background(), output(t, memReader{"findings.xlsx": findings()}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "=== A: Alpha ===\n  - X (1.50) N/A\n  - Y (2) N/A\n", string(raw))
}

func TestTextDigest_IDSelectionSortedWithNoFindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.txt")
	d := digest(path, destinations.DigestSelection{IDs: []string{"B", "A", "B"}})

	n, err := d.Write(context.Background(), output(t, memReader{"findings.xlsx": findings()}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "=== A ===\n  - X (1.50) N/A\n  - Y (2) N/A\n" +
		"\n---\n" +
		"=== B ===\n  - No findings.\n"
	assert.Equal(t, want, string(raw))
}

func TestTextDigest_EmptySelectionWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.txt")
	d := digest(path, destinations.DigestSelection{
		Filters: []etl.Condition{{Column: "name", Operator: etl.OpEq, Value: "nobody"}},
	})

	n, err := d.Write(context.Background(), output(t, memReader{}))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, path)
}

// ── Formatter ────────────────────────────────────────────────

func TestFormatter(t *testing.T) {
	f := destinations.NewFormatter()
	fields := map[string]etl.Value{
		"name":  etl.Text("web"),
		"score": etl.Number(3.14159),
		"n":     etl.Int(7),
		"big":   etl.Int(1234567),
		"id":    etl.Number(20240615),
		"when":  etl.Date(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)),
		"flag":  etl.Bool(true),
		"gone":  etl.Null(),
	}

	tests := []struct {
		tmpl string
		want string
	}{
		{"{name}", "web"},
		{"{score}", "3.14"},
		{"{score:.3f}", "3.142"},
		{"{n}", "7"},
		{"{n:03d}", "007"},
		{"{big} / {id}", "1234567 / 20240615"},
		{"{when}", "2024-03-09"},
		{"{when:%d/%m/%Y}", "09/03/2024"},
		{"{when:%j %b}", "069 Mar"},
		{"{flag}", "True"},
		{"{gone}", "N/A"},
		{"{missing}", "N/A"},
		{"{{name}}", "{name}"},
		{"no tags", "no tags"},
	}
	for _, tc := range tests {
		t.Run(tc.tmpl, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Format(tc.tmpl, fields))
		})
	}

	custom := destinations.Formatter{Default: "-"}
	assert.Equal(t, "a=-", custom.Format("a={x}", nil))
}
