package sources

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"sheetagg/internal/etl"
)

// ── JSON → Table helpers ───────────────────────────────────
// Shared by the json file and http sources.

// navigatePath walks a dot-separated path into nested maps.
func navigatePath(obj any, path string) (any, error) {
	if path == "" {
		return obj, nil
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: data path %q: %q is not an object", etl.ErrNotFound, path, part)
		}
		next, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("%w: data path %q: key %q", etl.ErrNotFound, path, part)
		}
		current = next
	}
	return current, nil
}

// toTable converts a decoded JSON value into a Table. An array of objects
// yields one row per object; a single object yields one row. Columns keep
// first-seen order, with each object's keys taken alphabetically.
func toTable(raw any) (*etl.Table, error) {
	var objects []map[string]any
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				objects = append(objects, flattenMap(m))
			}
		}
	case map[string]any:
		objects = []map[string]any{flattenMap(v)}
	case nil:
		return etl.NewTable(), nil
	default:
		return nil, fmt.Errorf("expected an array of objects, got %T", raw)
	}

	seen := make(map[string]bool)
	var columns []string
	for _, obj := range objects {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	return etl.FromRecords(columns, objects), nil
}

// flattenMap keeps only scalar values (string, number, bool) from a map.
// Nested objects/arrays are serialized as JSON strings.
func flattenMap(m map[string]any) map[string]any {
	flat := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, float64, bool, nil:
			flat[k] = v
		default:
			b, _ := json.Marshal(v)
			flat[k] = string(b)
		}
	}
	return flat
}

// pageToTable converts a database result page into a Table.
func pageToTable(columns []string, rows [][]any) *etl.Table {
	cells := make([][]etl.Value, len(rows))
	for i, row := range rows {
		cells[i] = make([]etl.Value, len(row))
		for j, v := range row {
			cells[i][j] = etl.FromAny(v)
		}
	}
	return etl.FromRows(columns, cells)
}
