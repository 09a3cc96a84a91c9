package etl

import (
	"fmt"
)

// ── Table ──────────────────────────────────────────────────
// In-memory rectangular dataset. All sources produce a Table,
// all renderers consume one.
//
// Storage is column-major; every column always has Len() rows.

// FieldType is the declared (intended) type of a column. Cell values
// stay loosely typed; the field type tells renderers how to emit them.
type FieldType string

const (
	FieldAny     FieldType = "any"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldText    FieldType = "text"
	FieldDate    FieldType = "date"
)

// Field describes a single column in a table.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema describes the shape of a table.
type Schema struct {
	Fields []Field `json:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Table is an ordered set of named columns with equal row counts.
type Table struct {
	fields []Field
	index  map[string]int
	cols   [][]Value
	rows   int
}

// NewTable creates an empty table with the given columns, all typed FieldAny.
// Duplicate names keep their first position.
func NewTable(columns ...string) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if _, dup := t.index[c]; dup {
			continue
		}
		t.index[c] = len(t.fields)
		t.fields = append(t.fields, Field{Name: c, Type: FieldAny})
		t.cols = append(t.cols, nil)
	}
	return t
}

// FromRows builds a table from a header and positional rows. Short rows are
// padded with Null, extra cells are dropped.
func FromRows(header []string, rows [][]Value) *Table {
	t := NewTable(header...)
	// src[c] is the header position feeding column c; the first
	// occurrence of a duplicated header wins.
	src := make([]int, len(t.fields))
	for i := len(header) - 1; i >= 0; i-- {
		src[t.index[header[i]]] = i
	}
	for _, row := range rows {
		cells := make([]Value, len(t.fields))
		for c, i := range src {
			if i < len(row) {
				cells[c] = row[i]
			}
		}
		t.appendUnchecked(cells)
	}
	return t
}

// FromRecords builds a table from map-shaped records. Column order follows
// columns; keys absent from a record become Null.
func FromRecords(columns []string, records []map[string]any) *Table {
	t := NewTable(columns...)
	for _, rec := range records {
		cells := make([]Value, len(t.fields))
		for i, f := range t.fields {
			cells[i] = FromAny(rec[f.Name])
		}
		t.appendUnchecked(cells)
	}
	return t
}

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// Empty reports whether the table is nil or has no rows.
func (t *Table) Empty() bool { return t.Len() == 0 }

// Columns returns the ordered column names.
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	s := Schema{Fields: t.fields}
	return s.FieldNames()
}

// Schema returns a copy of the table's fields.
func (t *Table) Schema() *Schema {
	if t == nil {
		return &Schema{}
	}
	return &Schema{Fields: append([]Field(nil), t.fields...)}
}

// Has reports whether column exists.
func (t *Table) Has(column string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[column]
	return ok
}

// FieldType returns the declared type of column.
func (t *Table) FieldType(column string) FieldType {
	if i, ok := t.index[column]; ok {
		return t.fields[i].Type
	}
	return FieldAny
}

// Column returns the values of column. The slice must not be modified.
func (t *Table) Column(column string) ([]Value, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[column]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Value returns the cell at row for column, or Null if the column is absent.
func (t *Table) Value(row int, column string) Value {
	i, ok := t.index[column]
	if !ok || row < 0 || row >= t.rows {
		return Null()
	}
	return t.cols[i][row]
}

// Row returns the positional cells of row i, in column order.
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.cols))
	for c := range t.cols {
		out[c] = t.cols[c][i]
	}
	return out
}

// RowMap returns row i keyed by column name.
func (t *Table) RowMap(i int) map[string]Value {
	out := make(map[string]Value, len(t.cols))
	for c, f := range t.fields {
		out[f.Name] = t.cols[c][i]
	}
	return out
}

// AppendRow adds one row. The number of cells must match the column count.
func (t *Table) AppendRow(cells ...Value) error {
	if len(cells) != len(t.fields) {
		return fmt.Errorf("append row: got %d cells, table has %d columns", len(cells), len(t.fields))
	}
	t.appendUnchecked(cells)
	return nil
}

func (t *Table) appendUnchecked(cells []Value) {
	for c := range t.cols {
		t.cols[c] = append(t.cols[c], cells[c])
	}
	t.rows++
}

// Mask returns a new table holding the rows where mask is true.
// The mask must be row-aligned with t.
func (t *Table) Mask(mask []bool) *Table {
	out := t.emptyLike()
	if t == nil {
		return out
	}
	keep := 0
	for _, m := range mask {
		if m {
			keep++
		}
	}
	for c := range t.cols {
		col := make([]Value, 0, keep)
		for r, m := range mask {
			if m && r < t.rows {
				col = append(col, t.cols[c][r])
			}
		}
		out.cols[c] = col
	}
	out.rows = keep
	return out
}

// Take returns a new table holding the given row positions, in order.
func (t *Table) Take(rows []int) *Table {
	out := t.emptyLike()
	for c := range t.cols {
		col := make([]Value, len(rows))
		for i, r := range rows {
			col[i] = t.cols[c][r]
		}
		out.cols[c] = col
	}
	out.rows = len(rows)
	return out
}

// Select returns a new table with only the named columns, in the given order.
func (t *Table) Select(columns ...string) (*Table, error) {
	out := &Table{index: make(map[string]int, len(columns)), rows: t.Len()}
	for _, name := range columns {
		i, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("select: column %q not found", name)
		}
		if _, dup := out.index[name]; dup {
			continue
		}
		out.index[name] = len(out.fields)
		out.fields = append(out.fields, t.fields[i])
		out.cols = append(out.cols, append([]Value(nil), t.cols[i]...))
	}
	return out, nil
}

// Rename renames columns in place (old → new). Unknown names are ignored.
// Renaming onto an existing column is an error.
func (t *Table) Rename(mapping map[string]string) error {
	next := make([]Field, len(t.fields))
	copy(next, t.fields)
	for i, f := range t.fields {
		if to, ok := mapping[f.Name]; ok {
			next[i].Name = to
		}
	}
	index := make(map[string]int, len(next))
	for i, f := range next {
		if _, dup := index[f.Name]; dup {
			return fmt.Errorf("rename: duplicate column %q", f.Name)
		}
		index[f.Name] = i
	}
	t.fields, t.index = next, index
	return nil
}

// SetColumn adds or replaces a column. values must have Len() entries.
func (t *Table) SetColumn(name string, typ FieldType, values []Value) error {
	if len(values) != t.rows {
		return fmt.Errorf("set column %q: got %d values, table has %d rows", name, len(values), t.rows)
	}
	if i, ok := t.index[name]; ok {
		t.fields[i].Type = typ
		t.cols[i] = values
		return nil
	}
	t.index[name] = len(t.fields)
	t.fields = append(t.fields, Field{Name: name, Type: typ})
	t.cols = append(t.cols, values)
	return nil
}

// Reorder returns a new table whose columns follow order. Every column of t
// must appear exactly once in order.
func (t *Table) Reorder(order []string) (*Table, error) {
	if len(order) != len(t.fields) {
		return nil, fmt.Errorf("reorder: got %d columns, table has %d", len(order), len(t.fields))
	}
	out, err := t.Select(order...)
	if err != nil {
		return nil, fmt.Errorf("reorder: %w", err)
	}
	if len(out.fields) != len(t.fields) {
		return nil, fmt.Errorf("reorder: duplicate columns in order")
	}
	return out, nil
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	if t == nil {
		return NewTable()
	}
	out := t.emptyLike()
	for c := range t.cols {
		out.cols[c] = append([]Value(nil), t.cols[c]...)
	}
	out.rows = t.rows
	return out
}

func (t *Table) emptyLike() *Table {
	if t == nil {
		return NewTable()
	}
	out := &Table{
		fields: append([]Field(nil), t.fields...),
		index:  make(map[string]int, len(t.index)),
		cols:   make([][]Value, len(t.cols)),
	}
	for k, v := range t.index {
		out.index[k] = v
	}
	return out
}
