package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sheetagg/internal/dbclient"
	"sheetagg/internal/etl"
)

// ── Database Sources ───────────────────────────────────────
// Read a whole table (sheet_name) or the result of a query through a
// dbclient.Connector. One source is registered per driver.

// fetchSize is the cursor batch size used when draining a query.
const fetchSize = 500

type databaseSource struct {
	driver string
	label  string
}

func init() {
	etl.RegisterSource(&databaseSource{driver: dbclient.DriverSQLite, label: "SQLite Database"})
	etl.RegisterSource(&databaseSource{driver: dbclient.DriverMySQL, label: "MySQL Database"})
	etl.RegisterSource(&databaseSource{driver: dbclient.DriverPostgres, label: "PostgreSQL Database"})
	etl.RegisterSource(&databaseSource{driver: dbclient.DriverMongoDB, label: "MongoDB Collection"})
}

func (s *databaseSource) Spec() etl.SourceSpec {
	fields := []etl.ConfigField{
		{Key: "dsn", Label: "Connection", Required: s.driver != dbclient.DriverSQLite, Help: "Driver connection string"},
		{Key: "sheet_name", Label: "Table", Help: "Table to read in full"},
		{Key: "query", Label: "Query", Help: "Query to run instead of reading a table"},
	}
	switch s.driver {
	case dbclient.DriverSQLite:
		fields[0] = etl.ConfigField{Key: "file_path", Label: "File Path", Required: true, Help: "Path to the SQLite database file"}
	case dbclient.DriverMongoDB:
		fields[1] = etl.ConfigField{Key: "sheet_name", Label: "Collection", Required: true, Help: "Collection to read"}
		fields[2] = etl.ConfigField{Key: "query", Label: "Filter", Help: "Extended-JSON filter document"}
	}
	return etl.SourceSpec{Type: s.driver, Label: s.label, ConfigFields: fields}
}

func (s *databaseSource) Read(ctx context.Context, ref etl.SourceRef) (*etl.Table, error) {
	location := ref.Location()
	if location == "" {
		return nil, fmt.Errorf("%s source needs a dsn or file_path", s.driver)
	}
	if s.driver == dbclient.DriverSQLite && ref.DSN == "" {
		if err := requireFile(ref.Path); err != nil {
			return nil, err
		}
	}

	conn, err := dbclient.NewConnector(s.driver, location, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query, err := s.buildQuery(ctx, conn, ref)
	if err != nil {
		return nil, err
	}
	page, err := dbclient.ReadAll(ctx, conn, query, fetchSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return pageToTable(page.Columns, page.Rows), nil
}

// buildQuery resolves ref to the query the connector runs. A named table
// or collection must exist.
func (s *databaseSource) buildQuery(ctx context.Context, conn dbclient.Connector, ref etl.SourceRef) (string, error) {
	if s.driver == dbclient.DriverMongoDB {
		return s.mongoQuery(ctx, conn, ref)
	}
	if ref.Query != "" {
		return ref.Query, nil
	}
	if ref.Sheet == "" {
		return "", fmt.Errorf("%s source needs sheet_name (table) or query", s.driver)
	}
	if err := requireTable(ctx, conn, ref.Sheet); err != nil {
		return "", err
	}
	return conn.TableQuery(ref.Sheet), nil
}

// mongoQuery accepts either a full query document (with "collection") in
// query, or a bare filter applied to the sheet_name collection.
func (s *databaseSource) mongoQuery(ctx context.Context, conn dbclient.Connector, ref etl.SourceRef) (string, error) {
	q := dbclient.MongoQuery{Collection: ref.Sheet}
	if strings.TrimSpace(ref.Query) != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(ref.Query), &doc); err != nil {
			return "", fmt.Errorf("mongo query: %w", err)
		}
		if _, full := doc["collection"]; full {
			if err := json.Unmarshal([]byte(ref.Query), &q); err != nil {
				return "", fmt.Errorf("mongo query: %w", err)
			}
		} else {
			q.Filter = doc
		}
	}
	if q.Collection == "" {
		return "", fmt.Errorf("mongodb source needs sheet_name (collection)")
	}
	if err := requireTable(ctx, conn, q.Collection); err != nil {
		return "", err
	}
	return q.String(), nil
}

func requireTable(ctx context.Context, conn dbclient.Connector, name string) error {
	schema, err := conn.Introspect(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if !schema.HasTable(name) {
		return fmt.Errorf("%w: table %q", etl.ErrNotFound, name)
	}
	return nil
}
