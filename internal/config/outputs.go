package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sheetagg/internal/etl"
	"sheetagg/internal/etl/destinations"
)

// Output targets.
const (
	TargetExcel  = "excel"
	TargetJSON   = "json"
	TargetText   = "text"
	TargetSQLite = "sqlite"
	TargetMySQL  = "mysql"
	TargetPG     = "postgres"
	TargetMongo  = "mongodb"
)

// Output is one entry of outputs[]. Database targets take DSN (sqlite
// accepts File instead) and Table.
type Output struct {
	Target    string `yaml:"target"`
	File      string `yaml:"file"`
	SheetName string `yaml:"sheet_name"`
	DSN       string `yaml:"dsn"`
	Table     string `yaml:"table"`
}

func (o Output) validate() error {
	switch o.Target {
	case TargetExcel:
		if o.File == "" {
			return errors.New("excel output requires file")
		}
	case TargetSQLite:
		if o.File == "" && o.DSN == "" {
			return errors.New("sqlite output requires file or dsn")
		}
	case TargetMySQL, TargetPG, TargetMongo:
		if o.DSN == "" {
			return fmt.Errorf("%s output requires dsn", o.Target)
		}
	case TargetJSON, TargetText:
		return fmt.Errorf("%s output is configured through the %s section", o.Target, sectionFor(o.Target))
	default:
		return fmt.Errorf("unknown target %q", o.Target)
	}
	return nil
}

func sectionFor(target string) string {
	if target == TargetJSON {
		return "json_output"
	}
	return "text_report"
}

// JSONOutput is the json_output section.
type JSONOutput struct {
	File    string       `yaml:"file"`
	Format  string       `yaml:"format"`
	Details []JSONDetail `yaml:"detail_sheets"`
}

// JSONDetail nests one detail table under each master record.
type JSONDetail struct {
	SourceFields `yaml:",inline"`
	ForeignKey   string    `yaml:"foreign_key_column"`
	Key          string    `yaml:"json_key"`
	Include      ColumnMap `yaml:"include_columns"`
}

func (j *JSONOutput) validate() error {
	if j.File == "" {
		return errors.New("file is required")
	}
	if j.Format != "" && j.Format != destinations.FormatDict && j.Format != destinations.FormatList {
		return fmt.Errorf("format must be %q or %q", destinations.FormatDict, destinations.FormatList)
	}
	for i, d := range j.Details {
		if d.empty() || d.ForeignKey == "" || d.Key == "" {
			return fmt.Errorf("detail_sheets[%d] requires file_path, foreign_key_column and json_key", i)
		}
	}
	return nil
}

// TextReport is the text_report section.
type TextReport struct {
	File       string         `yaml:"file"`
	Selection  Selection      `yaml:"selection_criteria"`
	Formatting Formatting     `yaml:"formatting_options"`
	Sources    []DigestSource `yaml:"detail_sources"`
}

// Selection picks the master records to report on.
type Selection struct {
	MasterFilters []etl.Condition `yaml:"master_filters"`
	IDs           []string        `yaml:"app_ids"`
}

// Formatting overrides the digest's layout strings.
type Formatting struct {
	HeaderFormat string `yaml:"app_header_format"`
	Separator    string `yaml:"app_separator"`
	Prefix       string `yaml:"finding_prefix"`
	NoFindings   string `yaml:"no_findings_message"`
	Default      string `yaml:"missing_value"`
}

// DigestSource renders one line per matching detail row.
type DigestSource struct {
	SourceFields `yaml:",inline"`
	ForeignKey   string   `yaml:"foreign_key_column"`
	Fields       AliasMap `yaml:"display_fields"`
	Format       string   `yaml:"format_string"`
}

func (t *TextReport) validate() error {
	if t.File == "" {
		return errors.New("file is required")
	}
	if len(t.Selection.MasterFilters) == 0 && len(t.Selection.IDs) == 0 {
		return errors.New("selection_criteria needs master_filters or app_ids")
	}
	for i, s := range t.Sources {
		if s.empty() || s.ForeignKey == "" || s.Format == "" {
			return fmt.Errorf("detail_sources[%d] requires file_path, foreign_key_column and format_string", i)
		}
	}
	return nil
}

// Destinations builds every configured renderer, in the order: output_file,
// outputs[], json_output, text_report.
func (f *File) Destinations(log *zap.Logger) []etl.Destination {
	var out []etl.Destination
	if f.OutputFile != "" {
		out = append(out, &destinations.ExcelWriter{Path: f.OutputFile, Sheet: f.OutputSheetName, Log: log})
	}
	for _, o := range f.Outputs {
		switch o.Target {
		case TargetExcel:
			out = append(out, &destinations.ExcelWriter{Path: o.File, Sheet: o.SheetName, Log: log})
		case TargetSQLite, TargetMySQL, TargetPG, TargetMongo:
			dsn := o.DSN
			if dsn == "" {
				dsn = o.File
			}
			out = append(out, &destinations.DatabaseWriter{Driver: o.Target, DSN: dsn, Table: o.Table, Log: log})
		}
	}
	if j := f.JSONOutput; j != nil {
		tree := &destinations.JSONTree{Path: j.File, Format: j.Format, Log: log}
		for _, d := range j.Details {
			tree.Details = append(tree.Details, destinations.JSONDetail{
				Ref:        d.Ref(),
				ForeignKey: d.ForeignKey,
				Key:        d.Key,
				Include:    []etl.ColumnMapping(d.Include),
			})
		}
		out = append(out, tree)
	}
	if t := f.TextReport; t != nil {
		digest := &destinations.TextDigest{
			Path: t.File,
			Selection: destinations.DigestSelection{
				Filters: t.Selection.MasterFilters,
				IDs:     t.Selection.IDs,
			},
			HeaderFormat: t.Formatting.HeaderFormat,
			Separator:    t.Formatting.Separator,
			Prefix:       t.Formatting.Prefix,
			NoFindings:   t.Formatting.NoFindings,
			Formatter:    destinations.Formatter{Default: t.Formatting.Default},
			Log:          log,
		}
		for _, s := range t.Sources {
			digest.Sources = append(digest.Sources, destinations.DigestSource{
				Ref:        s.Ref(),
				ForeignKey: s.ForeignKey,
				Fields:     []etl.ColumnMapping(s.Fields),
				Format:     s.Format,
			})
		}
		out = append(out, digest)
	}
	return out
}
