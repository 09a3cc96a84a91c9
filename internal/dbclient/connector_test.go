package dbclient

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────
// Connector tests
// SQLite runs for real against a temp file; mysql/mongo only
// exercise the pure DSN helpers.
// ─────────────────────────────────────────────────────────────

func TestSQLite_ReplaceTableThenReadAll(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.db")

	conn, err := NewConnector(DriverSQLite, path, nil)
	require.NoError(t, err)
	defer conn.Close()

	n, err := conn.ReplaceTable(ctx, "summary", []string{"id", "total"}, [][]any{
		{int64(1), 2.5},
		{int64(2), nil},
		{int64(3), 7.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Replacing again must not append.
	n, err = conn.ReplaceTable(ctx, "summary", []string{"id", "total"}, [][]any{{int64(9), 1.0}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err := ReadAll(ctx, conn, conn.TableQuery("summary"), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total"}, page.Columns)
	require.Len(t, page.Rows, 1)
	assert.EqualValues(t, 9, page.Rows[0][0])
}

func TestSQLite_ReadAllPagesThroughCursor(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnector(DriverSQLite, filepath.Join(t.TempDir(), "p.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	rows := make([][]any, 7)
	for i := range rows {
		rows[i] = []any{int64(i), "x"}
	}
	_, err = conn.ReplaceTable(ctx, "t", []string{"n", "s"}, rows)
	require.NoError(t, err)

	page, err := ReadAll(ctx, conn, `SELECT * FROM "t" ORDER BY n`, 3)
	require.NoError(t, err)
	assert.Len(t, page.Rows, 7)
	assert.Equal(t, 7, page.TotalFetched)
	assert.Equal(t, "x", page.Rows[6][1])
}

func TestSQLite_Introspect(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnector(DriverSQLite, filepath.Join(t.TempDir(), "i.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReplaceTable(ctx, "Orders", []string{"id"}, nil)
	require.NoError(t, err)

	schema, err := conn.Introspect(ctx)
	require.NoError(t, err)
	assert.True(t, schema.HasTable("orders"))
	assert.False(t, schema.HasTable("missing"))
}

func TestSQLite_WriteQueryReportsAffectedRows(t *testing.T) {
	ctx := context.Background()
	conn, err := NewConnector(DriverSQLite, filepath.Join(t.TempDir(), "w.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReplaceTable(ctx, "t", []string{"n"}, [][]any{{1}, {2}})
	require.NoError(t, err)

	page, err := conn.Execute(ctx, `DELETE FROM "t" WHERE n = 1`, 0)
	require.NoError(t, err)
	assert.True(t, page.IsWrite)
	assert.Equal(t, 1, page.AffectedRows)
}

func TestNewConnector_UnknownDriver(t *testing.T) {
	_, err := NewConnector("oracle", "x", nil)
	assert.Error(t, err)
}

func TestNormalizeMySQLDSN_EnablesParseTime(t *testing.T) {
	dsn, err := normalizeMySQLDSN("user:pw@tcp(localhost:3306)/crm")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")

	_, err = normalizeMySQLDSN("not a dsn")
	assert.Error(t, err)
}

func TestDatabaseFromURI(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017":                      "test",
		"mongodb://localhost:27017/":                     "test",
		"mongodb://u:p@localhost/crm":                    "crm",
		"mongodb+srv://u:p@cluster.example.net/app?w=1":  "app",
		"mongodb://host1,host2/reports?replicaSet=rs0":   "reports",
	}
	for uri, want := range cases {
		t.Run(uri, func(t *testing.T) {
			assert.Equal(t, want, databaseFromURI(uri))
		})
	}
}

func TestIsReadQuery(t *testing.T) {
	assert.True(t, isReadQuery("  select * from t"))
	assert.True(t, isReadQuery("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.False(t, isReadQuery("DELETE FROM t"))
}

func TestMongoQueryString(t *testing.T) {
	assert.JSONEq(t, `{"collection":"orders"}`, MongoQuery{Collection: "orders"}.String())
}
