package dbclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNoTable is returned when a table or collection does not exist.
var ErrNoTable = errors.New("no such table")

// Drivers understood by NewConnector.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// QueryPage is a batch of rows fetched from a query cursor.
type QueryPage struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	TotalFetched int      `json:"totalFetched"` // total rows fetched so far
	HasMore      bool     `json:"hasMore"`      // cursor has more rows
	IsWrite      bool     `json:"isWrite"`
	AffectedRows int      `json:"affectedRows"`
}

// SchemaInfo lists the tables (or collections) of a database.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// HasTable reports whether name is one of the tables in s.
func (s *SchemaInfo) HasTable(name string) bool {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

// Connector abstracts interaction with an external database.
type Connector interface {
	// Execute runs a query and returns the first batch of rows.
	// For reads: opens a cursor and fetches fetchSize rows.
	// For writes: executes and returns affected rows count.
	Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error)

	// FetchMore continues reading from the open cursor.
	FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error)

	// Introspect returns the tables and their columns.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// TableQuery returns the query that selects every row of table.
	TableQuery(table string) string

	// ReplaceTable drops table (if present) and recreates it holding rows.
	ReplaceTable(ctx context.Context, table string, columns []string, rows [][]any) (int, error)

	// Close closes the connection and any open cursors.
	Close() error
}

// NewConnector creates a Connector for driver. dsn is a file path for
// sqlite and a driver-native connection string otherwise.
func NewConnector(driver, dsn string, log *zap.Logger) (Connector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(driver) {
	case DriverSQLite:
		return newSQLiteConnector(dsn)
	case DriverMySQL:
		mysqlDSN, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
		return newSQLConnector(DriverMySQL, mysqlDSN)
	case DriverPostgres:
		return newSQLConnector(DriverPostgres, dsn)
	case DriverMongoDB:
		return newMongoConnector(dsn, log)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// ReadAll executes query and drains the cursor into a single page.
func ReadAll(ctx context.Context, c Connector, query string, fetchSize int) (*QueryPage, error) {
	page, err := c.Execute(ctx, query, fetchSize)
	if err != nil {
		return nil, err
	}
	all := &QueryPage{Columns: page.Columns, Rows: page.Rows}
	for page.HasMore {
		page, err = c.FetchMore(ctx, fetchSize)
		if err != nil {
			return nil, err
		}
		all.Rows = append(all.Rows, page.Rows...)
		if len(page.Columns) > len(all.Columns) {
			all.Columns = page.Columns
		}
	}
	all.TotalFetched = len(all.Rows)
	return all, nil
}
