package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"sheetagg/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads a local CSV (or TSV) file. The first row is the header;
// sheet_name is ignored.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "file_path", Label: "File Path", Required: true, Help: "Path to the .csv or .tsv file"},
		},
	}
}

func (s *csvFileSource) Read(ctx context.Context, ref etl.SourceRef) (*etl.Table, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("file_path is required")
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, ref.Path)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(ref.Path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return etl.NewTable(), nil
	}

	headers := records[0]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	rows := make([][]etl.Value, 0, len(records)-1)
	for _, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make([]etl.Value, len(rec))
		for j, cell := range rec {
			row[j] = etl.InferCell(cell)
		}
		rows = append(rows, row)
	}
	return etl.FromRows(headers, rows), nil
}
