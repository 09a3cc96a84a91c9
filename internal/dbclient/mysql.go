package dbclient

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// normalizeMySQLDSN parses dsn and turns on parseTime so DATE/DATETIME
// columns scan as time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func quoteMySQL(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
