package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// ── sheetagg://runs ────────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"sheetagg://runs",
		"Recent Runs",
		mcp.WithMIMEType("application/json"),
	), s.handleRunsResource)

	// ── sheetagg://sources ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"sheetagg://sources",
		"Source Types",
		mcp.WithMIMEType("application/json"),
	), s.handleSourcesResource)
}

func (s *Server) handleRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	runs, err := s.runs.History(20)
	if err != nil {
		return nil, err
	}

	type runBrief struct {
		ID     string `json:"id"`
		Config string `json:"config"`
		Status string `json:"status"`
	}

	briefs := make([]runBrief, 0, len(runs))
	for _, r := range runs {
		briefs = append(briefs, runBrief{ID: r.ID, Config: r.ConfigPath, Status: r.Status})
	}

	data, _ := json.MarshalIndent(briefs, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "sheetagg://runs",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSourcesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, _ := json.MarshalIndent(s.runs.ListSources(), "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "sheetagg://sources",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
