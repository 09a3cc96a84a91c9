package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sheetagg/internal/etl"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches a JSON array from a REST endpoint (GET). file_path is the URL,
// sheet_name an optional dot-separated path into the response.

type httpSource struct {
	client *http.Client
}

func init() { etl.RegisterSource(&httpSource{client: &http.Client{Timeout: 30 * time.Second}}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "file_path", Label: "URL", Required: true, Help: "Full URL returning JSON"},
			{Key: "sheet_name", Label: "Data Path", Help: "Dot-separated path to the array in the response (e.g. 'data.items')"},
		},
	}
}

func (s *httpSource) Read(ctx context.Context, ref etl.SourceRef) (*etl.Table, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, ref.Path)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var raw any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	raw, err = navigatePath(raw, ref.Sheet)
	if err != nil {
		return nil, err
	}
	return toTable(raw)
}
