package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sheetagg/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads an array of objects from a local JSON file. sheet_name, when
// set, is a dot-separated path to the array (e.g. "data.items").

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "file_path", Label: "File Path", Required: true, Help: "Path to the JSON file"},
			{Key: "sheet_name", Label: "Data Path", Help: "Dot-separated path to the array. Leave empty if root is an array."},
		},
	}
}

func (s *jsonFileSource) Read(ctx context.Context, ref etl.SourceRef) (*etl.Table, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("file_path is required")
	}

	data, err := os.ReadFile(ref.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, ref.Path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	raw, err = navigatePath(raw, ref.Sheet)
	if err != nil {
		return nil, err
	}
	return toTable(raw)
}
