package dbclient

import (
	"strings"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector creates a connector for a SQLite file.
// Opens in WAL mode with busy timeout for concurrent access.
func newSQLiteConnector(path string) (*sqlConnector, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return newSQLConnector(DriverSQLite, dsn)
}
