package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"sheetagg/internal/etl"
)

func (s *Server) registerSourceTools() {
	s.mcp.AddTool(mcp.NewTool("list_source_types",
		mcp.WithDescription("List the table source types sheetagg can read, with their configuration fields"),
	), s.handleListSourceTypes)

	s.mcp.AddTool(mcp.NewTool("preview_source",
		mcp.WithDescription("Read the first rows of a source (spreadsheet, CSV, JSON, database table or query) without running any rules"),
		mcp.WithString("filePath", mcp.Description("File path, or database file for sqlite")),
		mcp.WithString("sheetName", mcp.Description("Sheet, table or collection name")),
		mcp.WithString("driver", mcp.Description("Source type override (use list_source_types)")),
		mcp.WithString("dsn", mcp.Description("Connection string for mysql, postgres or mongodb")),
		mcp.WithString("query", mcp.Description("SQL query (or Mongo filter JSON) instead of a whole table")),
		mcp.WithNumber("maxRows", mcp.Description("Maximum rows to return (default 20)")),
	), s.handlePreviewSource)
}

func (s *Server) handleListSourceTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.runs.ListSources())
}

func (s *Server) handlePreviewSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := etl.SourceRef{
		Path:   req.GetString("filePath", ""),
		Sheet:  req.GetString("sheetName", ""),
		Driver: req.GetString("driver", ""),
		DSN:    req.GetString("dsn", ""),
		Query:  req.GetString("query", ""),
	}
	if ref.Path == "" && ref.DSN == "" {
		return nil, fmt.Errorf("filePath or dsn is required")
	}

	t, err := s.runs.Preview(ctx, ref, intArg(req.GetArguments(), "maxRows", 20))
	if err != nil {
		return nil, fmt.Errorf("preview source: %w", err)
	}

	rows := make([][]any, t.Len())
	for i := range rows {
		rows[i] = etl.RowValues(t, i)
	}
	return jsonResult(map[string]any{
		"source":  ref.String(),
		"columns": t.Columns(),
		"rows":    rows,
	})
}
