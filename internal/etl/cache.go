package etl

import (
	"context"
	"path/filepath"
	"sync"
)

// ── Read Cache ─────────────────────────────────────────────
// Avoids re-reading the same source/sheet across rules of one run.
// Owned by whoever runs the Engine; cleared at run start and end.

type cacheKey struct {
	location string
	selector string
}

// Cache memoizes successful reads keyed by resolved location + sheet/query.
// Failed reads are not cached.
type Cache struct {
	next Reader

	mu     sync.Mutex
	tables map[cacheKey]*Table
	hits   int
}

// NewCache wraps next with a read cache.
func NewCache(next Reader) *Cache {
	return &Cache{next: next, tables: make(map[cacheKey]*Table)}
}

func keyFor(ref SourceRef) cacheKey {
	loc := ref.Location()
	if ref.DSN == "" && loc != "" {
		if abs, err := filepath.Abs(loc); err == nil {
			loc = abs
		}
	}
	sel := ref.Sheet
	if ref.Query != "" {
		sel = "query:" + ref.Query
	}
	return cacheKey{location: loc, selector: sel}
}

// Read returns a private copy of the table for ref, reading it at most once.
func (c *Cache) Read(ctx context.Context, ref SourceRef) (*Table, error) {
	key := keyFor(ref)

	c.mu.Lock()
	if t, ok := c.tables[key]; ok {
		c.hits++
		c.mu.Unlock()
		return t.Clone(), nil
	}
	c.mu.Unlock()

	t, err := c.next.Read(ctx, ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tables[key] = t.Clone()
	c.mu.Unlock()
	return t, nil
}

// Clear drops every cached table.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = make(map[cacheKey]*Table)
	c.hits = 0
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}

// Hits returns how many reads were served from the cache since the last Clear.
func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}
