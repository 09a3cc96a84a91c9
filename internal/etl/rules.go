package etl

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ── Rule Set ───────────────────────────────────────────────
// The already-validated, in-memory form of a configuration file.
// internal/config produces it; the Engine consumes it.

// SourceRef locates one table: a sheet in a workbook, a CSV/JSON file,
// a table or query in a database.
type SourceRef struct {
	Path   string `json:"path" yaml:"file_path"`
	Sheet  string `json:"sheet,omitempty" yaml:"sheet_name"`
	Driver string `json:"driver,omitempty" yaml:"driver"` // empty = infer from extension
	DSN    string `json:"dsn,omitempty" yaml:"dsn"`
	Query  string `json:"query,omitempty" yaml:"query"`
}

// Location is the path or DSN that identifies the underlying store.
func (r SourceRef) Location() string {
	if r.DSN != "" {
		return r.DSN
	}
	return r.Path
}

// Kind returns the reader type for r: the explicit driver, or one
// derived from the file extension.
func (r SourceRef) Kind() string {
	if r.Driver != "" {
		return strings.ToLower(r.Driver)
	}
	if strings.HasPrefix(r.Path, "http://") || strings.HasPrefix(r.Path, "https://") {
		return "http"
	}
	switch strings.ToLower(filepath.Ext(r.Path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return "xlsx"
	case ".csv", ".tsv":
		return "csv"
	case ".json":
		return "json"
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func (r SourceRef) String() string {
	sel := r.Sheet
	if r.Query != "" {
		sel = r.Query
	}
	if sel == "" {
		return r.Location()
	}
	return fmt.Sprintf("%s[%s]", r.Location(), sel)
}

// ColumnMapping maps a source column to its output name.
type ColumnMapping struct {
	Source string `json:"source"`
	Output string `json:"output"`
}

// MasterSource is the primary entity table.
type MasterSource struct {
	Ref        SourceRef       `json:"ref"`
	PrimaryKey string          `json:"primaryKey"`
	Include    []ColumnMapping `json:"include"`
}

// Operator is a filter predicate name.
type Operator string

const (
	OpEq         Operator = "=="
	OpNeq        Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpIn         Operator = "in"
	OpNotIn      Operator = "not in"
	OpIsNull     Operator = "isnull"
	OpNotNull    Operator = "notnull"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpRegex      Operator = "regex"
)

// IsOrdering reports whether op is one of >, >=, <, <=.
func (op Operator) IsOrdering() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// IsString reports whether op is one of the string predicates.
func (op Operator) IsString() bool {
	switch op {
	case OpContains, OpStartsWith, OpEndsWith, OpRegex:
		return true
	}
	return false
}

// Condition is one column/operator/value filter. Value is a literal,
// a list (for in / not in) or the string "TODAY".
type Condition struct {
	Column   string   `json:"column" yaml:"column"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Column, c.Operator, c.Value)
}

// Kind is an aggregation kind.
type Kind string

const (
	KindCount  Kind = "count"
	KindExists Kind = "exists"
	KindSum    Kind = "sum"
)

// Default is the value given to master rows with no matching detail rows.
// Unknown kinds default to false.
func (k Kind) Default() Value {
	switch k {
	case KindCount, KindSum:
		return Number(0)
	default:
		return Bool(false)
	}
}

// FieldType is the column type enforced after merging a result of this kind.
func (k Kind) FieldType() FieldType {
	switch k {
	case KindCount:
		return FieldInteger
	case KindSum:
		return FieldNumber
	case KindExists:
		return FieldBoolean
	default:
		return FieldAny
	}
}

// Summary is one aggregation rule producing one output column.
type Summary struct {
	Output  string      `json:"output"`
	Kind    Kind        `json:"kind"`
	Column  string      `json:"column,omitempty"` // aggregation_column, required for sum
	Filters []Condition `json:"filters,omitempty"`
}

// DetailSource groups the summaries computed from one detail table.
type DetailSource struct {
	Ref        SourceRef `json:"ref"`
	ForeignKey string    `json:"foreignKey"`
	Summaries  []Summary `json:"summaries"`
}

// RuleSet is a complete run definition.
type RuleSet struct {
	Master      MasterSource   `json:"master"`
	Details     []DetailSource `json:"details"`
	ColumnOrder []string       `json:"columnOrder,omitempty"`
}
