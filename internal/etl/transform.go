package etl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// ── Table Transforms ───────────────────────────────────────
// Whole-table steps used to prepare the master record set and
// finalize the output: dedupe, null-key drop, projection, ordering.

// DedupeByKey keeps the first row for each normalized value of column and
// returns the keys that had duplicates, in first-seen order. Null keys
// are compared as equal to each other.
func DedupeByKey(t *Table, column string) (*Table, []string) {
	keys, ok := t.Column(column)
	if !ok {
		return t.Clone(), nil
	}
	seen := make(map[string]bool, len(keys))
	keep := make([]bool, len(keys))
	var dups []string
	for i, k := range keys {
		g := groupKey(k)
		if seen[g] {
			dups = append(dups, k.String())
			continue
		}
		seen[g] = true
		keep[i] = true
	}
	return t.Mask(keep), lo.Uniq(dups)
}

// DropNullKeys removes rows whose column is null and returns how many were dropped.
func DropNullKeys(t *Table, column string) (*Table, int) {
	keys, ok := t.Column(column)
	if !ok {
		return t.Clone(), 0
	}
	keep := make([]bool, len(keys))
	dropped := 0
	for i, k := range keys {
		keep[i] = !k.IsNull()
		if !keep[i] {
			dropped++
		}
	}
	return t.Mask(keep), dropped
}

// Project selects the included master columns and renames them to their
// output names. Missing source columns are skipped with a diagnostic. If
// the primary key was not requested it is added under its own name.
// keyColumn is the output name of the primary key.
func Project(t *Table, include []ColumnMapping, primaryKey string) (out *Table, keyColumn string, diags []Diagnostic, err error) {
	var missing []string
	var present []ColumnMapping
	for _, m := range include {
		if t.Has(m.Source) {
			present = append(present, m)
		} else {
			missing = append(missing, m.Source)
		}
	}
	if len(missing) > 0 {
		diags = append(diags, warnf(ComponentMaster, strings.Join(missing, ","),
			"master sheet missing requested columns %v, they will be skipped", missing))
	}

	if _, found := lo.Find(present, func(m ColumnMapping) bool { return m.Source == primaryKey }); !found {
		diags = append(diags, warnf(ComponentMaster, primaryKey,
			"primary key %q not explicitly in include_master_columns, adding it with its original name", primaryKey))
		present = append(present, ColumnMapping{Source: primaryKey, Output: primaryKey})
	}

	sources := lo.Map(present, func(m ColumnMapping, _ int) string { return m.Source })
	out, err = t.Select(sources...)
	if err != nil {
		return nil, "", diags, err
	}

	rename := make(map[string]string, len(present))
	for _, m := range present {
		name := m.Output
		if name == "" {
			name = m.Source
		}
		rename[m.Source] = name
		if m.Source == primaryKey {
			keyColumn = name
		}
	}
	if err := out.Rename(rename); err != nil {
		return nil, "", diags, fmt.Errorf("project master columns: %w", err)
	}
	return out, keyColumn, diags, nil
}

// OrderColumns applies an explicit column order. Listed columns that exist
// come first, in list order; unlisted columns follow alphabetically.
// An empty order leaves t unchanged.
func OrderColumns(t *Table, order []string) (*Table, []Diagnostic) {
	if len(order) == 0 {
		return t, nil
	}
	var diags []Diagnostic
	final := lo.Filter(lo.Uniq(order), func(c string, _ int) bool { return t.Has(c) })
	missing := lo.Filter(order, func(c string, _ int) bool { return !t.Has(c) })
	extra := lo.Without(t.Columns(), final...)
	sort.Strings(extra)

	if len(missing) > 0 {
		diags = append(diags, warnf(ComponentFinalize, strings.Join(missing, ","),
			"columns specified in column order but not found: %v", missing))
	}
	if len(extra) > 0 {
		diags = append(diags, Diagnostic{Severity: SeverityInfo, Component: ComponentFinalize,
			Subject: strings.Join(extra, ","),
			Message: fmt.Sprintf("columns found but not in column order: %v, appending", extra)})
	}

	out, err := t.Reorder(append(final, extra...))
	if err != nil {
		// Unreachable: final ∪ extra is exactly t's column set.
		return t, append(diags, errorf(ComponentFinalize, "", "%v", err))
	}
	return out, diags
}
