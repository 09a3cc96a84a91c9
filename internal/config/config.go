// Package config loads the YAML run definition and turns it into an
// etl.RuleSet plus the list of configured destinations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"sheetagg/internal/etl"
)

// ErrInvalid wraps every structural validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvHistoryDB overrides history_db when set.
const EnvHistoryDB = "SHEETAGG_HISTORY_DB"

// File is the on-disk configuration document.
type File struct {
	Master MasterSource `yaml:"master_source"`

	// Flat layout: one entry per output column.
	SummaryDefinitions []SummaryDefinition `yaml:"summary_definitions"`
	// Grouped layout: one entry per detail table.
	DetailSources []DetailSource `yaml:"detail_sources"`

	ColumnOrder []string `yaml:"excel_column_order"`

	// OutputFile is shorthand for a single excel output.
	OutputFile      string   `yaml:"output_file"`
	OutputSheetName string   `yaml:"output_sheet_name"`
	Outputs         []Output `yaml:"outputs"`

	JSONOutput *JSONOutput `yaml:"json_output"`
	TextReport *TextReport `yaml:"text_report"`

	// HistoryDB is the sqlite file run history is recorded in.
	HistoryDB string `yaml:"history_db"`
	// Schedule is a cron expression used by `sheetagg schedule`.
	Schedule string `yaml:"schedule"`

	// path is the file the config was loaded from; relative paths are
	// resolved against its directory.
	path string
}

// SourceFields are the location keys shared by every source section.
type SourceFields struct {
	FilePath  string `yaml:"file_path"`
	SheetName string `yaml:"sheet_name"`
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Query     string `yaml:"query"`
}

// Ref converts the location keys into an etl.SourceRef.
func (s SourceFields) Ref() etl.SourceRef {
	return etl.SourceRef{Path: s.FilePath, Sheet: s.SheetName, Driver: s.Driver, DSN: s.DSN, Query: s.Query}
}

func (s SourceFields) empty() bool { return s.FilePath == "" && s.DSN == "" }

// MasterSource is the master_source section.
type MasterSource struct {
	SourceFields `yaml:",inline"`
	PrimaryKey   string    `yaml:"primary_key_column"`
	Include      ColumnMap `yaml:"include_master_columns"`
}

// Summary is one aggregation rule inside a grouped detail source.
type Summary struct {
	Output  string          `yaml:"output_column_name"`
	Kind    string          `yaml:"aggregation"`
	Column  string          `yaml:"aggregation_column"`
	Filters []etl.Condition `yaml:"filters"`
}

// SummaryDefinition is one entry of the flat layout.
type SummaryDefinition struct {
	Summary    `yaml:",inline"`
	SourceFile string `yaml:"source_file"`
	Sheet      string `yaml:"source_sheet"`
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Query      string `yaml:"query"`
	ForeignKey string `yaml:"foreign_key_column"`
}

func (d SummaryDefinition) source() SourceFields {
	return SourceFields{FilePath: d.SourceFile, SheetName: d.Sheet, Driver: d.Driver, DSN: d.DSN, Query: d.Query}
}

// DetailSource is one entry of the grouped layout.
type DetailSource struct {
	SourceFields `yaml:",inline"`
	ForeignKey   string    `yaml:"foreign_key_column"`
	Summaries    []Summary `yaml:"summaries"`
}

// Load reads and validates the config at path. Environment overrides
// are applied before validation.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	f.path = abs
	f.resolvePaths(filepath.Dir(abs))
	// An override path is taken as given, not relative to the config.
	f.applyEnvOverrides()
	return f, nil
}

// Parse decodes and validates a config document. Relative paths are
// left as they are.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	f.applyEnvOverrides()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the absolute path the config was loaded from, if any.
func (f *File) Path() string { return f.path }

func (f *File) applyEnvOverrides() {
	if path := os.Getenv(EnvHistoryDB); path != "" {
		f.HistoryDB = path
	}
}

// Validate checks the structural requirements. Problems the engine can
// degrade around (bad filters, unknown aggregation kinds) are not
// checked here.
func (f *File) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if f.Master.empty() {
		add("master_source.file_path is required")
	}
	if f.Master.PrimaryKey == "" {
		add("master_source.primary_key_column is required")
	}

	checkSummary := func(where string, s Summary) {
		if s.Output == "" {
			add("%s: output_column_name is required", where)
		}
		if s.Kind == "" {
			add("%s: aggregation is required", where)
		}
		if etl.Kind(strings.ToLower(s.Kind)) == etl.KindSum && s.Column == "" {
			add("%s (%s): 'sum' aggregation requires aggregation_column", where, s.Output)
		}
	}
	for i, d := range f.SummaryDefinitions {
		where := fmt.Sprintf("summary_definitions[%d]", i)
		checkSummary(where, d.Summary)
		if d.source().empty() {
			add("%s: source_file is required", where)
		}
		if d.ForeignKey == "" {
			add("%s: foreign_key_column is required", where)
		}
	}
	for i, d := range f.DetailSources {
		where := fmt.Sprintf("detail_sources[%d]", i)
		if d.empty() {
			add("%s: file_path is required", where)
		}
		if d.ForeignKey == "" {
			add("%s: foreign_key_column is required", where)
		}
		for j, s := range d.Summaries {
			checkSummary(fmt.Sprintf("%s.summaries[%d]", where, j), s)
		}
	}

	for i, o := range f.Outputs {
		if err := o.validate(); err != nil {
			add("outputs[%d]: %v", i, err)
		}
	}
	if f.JSONOutput != nil {
		if err := f.JSONOutput.validate(); err != nil {
			add("json_output: %v", err)
		}
	}
	if f.TextReport != nil {
		if err := f.TextReport.validate(); err != nil {
			add("text_report: %v", err)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// RuleSet builds the engine's rule set. Flat summary definitions are
// grouped by source and foreign key, in first-seen order, after any
// grouped detail sources.
func (f *File) RuleSet() *etl.RuleSet {
	rs := &etl.RuleSet{
		Master: etl.MasterSource{
			Ref:        f.Master.Ref(),
			PrimaryKey: f.Master.PrimaryKey,
			Include:    []etl.ColumnMapping(f.Master.Include),
		},
		ColumnOrder: f.ColumnOrder,
	}

	for _, d := range f.DetailSources {
		group := etl.DetailSource{Ref: d.Ref(), ForeignKey: d.ForeignKey}
		for _, s := range d.Summaries {
			group.Summaries = append(group.Summaries, s.rule())
		}
		rs.Details = append(rs.Details, group)
	}

	type groupKey struct {
		ref etl.SourceRef
		fk  string
	}
	index := make(map[groupKey]int)
	for _, d := range f.SummaryDefinitions {
		k := groupKey{ref: d.source().Ref(), fk: d.ForeignKey}
		i, ok := index[k]
		if !ok {
			i = len(rs.Details)
			index[k] = i
			rs.Details = append(rs.Details, etl.DetailSource{Ref: k.ref, ForeignKey: k.fk})
		}
		rs.Details[i].Summaries = append(rs.Details[i].Summaries, d.rule())
	}
	return rs
}

func (s Summary) rule() etl.Summary {
	return etl.Summary{
		Output:  s.Output,
		Kind:    etl.Kind(strings.ToLower(strings.TrimSpace(s.Kind))),
		Column:  s.Column,
		Filters: s.Filters,
	}
}

// SourcePaths lists every local file the config reads, for file watching.
func (f *File) SourcePaths() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s SourceFields) {
		p := s.FilePath
		if p == "" || isURL(p) || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	add(f.Master.SourceFields)
	for _, d := range f.DetailSources {
		add(d.SourceFields)
	}
	for _, d := range f.SummaryDefinitions {
		add(d.source())
	}
	if f.JSONOutput != nil {
		for _, d := range f.JSONOutput.Details {
			add(d.SourceFields)
		}
	}
	if f.TextReport != nil {
		for _, d := range f.TextReport.Sources {
			add(d.SourceFields)
		}
	}
	return out
}

// ── Path resolution ────────────────────────────────────────

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

func resolve(dir, p string) string {
	if p == "" || isURL(p) || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func (s *SourceFields) resolve(dir string) {
	s.FilePath = resolve(dir, s.FilePath)
	if strings.EqualFold(s.Driver, "sqlite") && s.DSN != "" {
		s.DSN = resolve(dir, s.DSN)
	}
}

func (f *File) resolvePaths(dir string) {
	f.Master.resolve(dir)
	for i := range f.DetailSources {
		f.DetailSources[i].resolve(dir)
	}
	for i := range f.SummaryDefinitions {
		d := &f.SummaryDefinitions[i]
		d.SourceFile = resolve(dir, d.SourceFile)
		if strings.EqualFold(d.Driver, "sqlite") && d.DSN != "" {
			d.DSN = resolve(dir, d.DSN)
		}
	}
	f.OutputFile = resolve(dir, f.OutputFile)
	for i := range f.Outputs {
		o := &f.Outputs[i]
		o.File = resolve(dir, o.File)
		if o.Target == TargetSQLite && o.DSN != "" {
			o.DSN = resolve(dir, o.DSN)
		}
	}
	if f.JSONOutput != nil {
		f.JSONOutput.File = resolve(dir, f.JSONOutput.File)
		for i := range f.JSONOutput.Details {
			f.JSONOutput.Details[i].resolve(dir)
		}
	}
	if f.TextReport != nil {
		f.TextReport.File = resolve(dir, f.TextReport.File)
		for i := range f.TextReport.Sources {
			f.TextReport.Sources[i].resolve(dir)
		}
	}
	if f.HistoryDB != "" {
		f.HistoryDB = resolve(dir, f.HistoryDB)
	}
}
