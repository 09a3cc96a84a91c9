package dbclient

import (
	"github.com/lib/pq"
)

func quotePostgres(ident string) string {
	return pq.QuoteIdentifier(ident)
}
