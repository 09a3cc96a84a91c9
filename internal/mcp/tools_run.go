package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"sheetagg/internal/etl"
	"sheetagg/internal/service"
)

func (s *Server) registerRunTools() {
	s.mcp.AddTool(mcp.NewTool("run_config",
		mcp.WithDescription("Run a sheetagg YAML config end to end: load the master, apply every summary rule, and write the configured outputs. Overwrites output files and tables."),
		mcp.WithString("configPath", mcp.Description("Path to the YAML config file"), mcp.Required()),
		mcp.WithNumber("previewRows", mcp.Description("Rows of the summary table to include in the result (default 10, 0 for none)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunConfig)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent runs from the history database, newest first"),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	), s.handleListRuns)

	s.mcp.AddTool(mcp.NewTool("get_run_diagnostics",
		mcp.WithDescription("Get the diagnostics (warnings and errors) recorded for a run"),
		mcp.WithString("runId", mcp.Description("Run ID from list_runs or run_config"), mcp.Required()),
	), s.handleRunDiagnostics)
}

// runSummary is the compact shape returned to agents.
type runSummary struct {
	RunID       string                 `json:"runId,omitempty"`
	Status      string                 `json:"status"`
	MasterRows  int                    `json:"masterRows"`
	Rules       int                    `json:"rules"`
	Warnings    int                    `json:"warnings"`
	Errors      int                    `json:"errors"`
	Outputs     []service.OutputResult `json:"outputs"`
	Error       string                 `json:"error,omitempty"`
	Columns     []string               `json:"columns,omitempty"`
	Rows        [][]any                `json:"rows,omitempty"`
	Diagnostics []string               `json:"diagnostics,omitempty"`
}

func summarizeReport(report *service.RunReport, previewRows int) runSummary {
	sum := runSummary{
		RunID:   report.RunID,
		Status:  report.Status,
		Outputs: report.Outputs,
		Error:   report.Error,
	}
	res := report.Result
	if res == nil {
		return sum
	}
	sum.MasterRows = res.MasterRows
	sum.Rules = res.Rules
	sum.Warnings = res.Count(etl.SeverityWarning)
	sum.Errors = res.Count(etl.SeverityError)
	for _, d := range res.Diagnostics {
		if d.Severity != etl.SeverityInfo {
			sum.Diagnostics = append(sum.Diagnostics, d.String())
		}
	}
	if res.Table != nil && previewRows > 0 {
		sum.Columns = res.Table.Columns()
		for i := 0; i < res.Table.Len() && i < previewRows; i++ {
			sum.Rows = append(sum.Rows, etl.RowValues(res.Table, i))
		}
	}
	return sum
}

func (s *Server) handleRunConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("configPath", "")
	if path == "" {
		return nil, fmt.Errorf("configPath is required")
	}
	previewRows := intArg(req.GetArguments(), "previewRows", 10)

	report, err := s.runs.Run(ctx, path, service.TriggerMCP)
	if report == nil {
		return nil, fmt.Errorf("run config: %w", err)
	}
	// A failed run still has a report worth showing.
	return jsonResult(summarizeReport(report, previewRows))
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.runs.History(intArg(req.GetArguments(), "limit", 20))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return textResult("No runs recorded."), nil
	}
	return jsonResult(runs)
}

func (s *Server) handleRunDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("runId", "")
	if runID == "" {
		return nil, fmt.Errorf("runId is required")
	}
	ds, err := s.runs.Diagnostics(runID)
	if err != nil {
		return nil, fmt.Errorf("get diagnostics: %w", err)
	}
	if len(ds) == 0 {
		return textResult("No diagnostics recorded for this run."), nil
	}
	return jsonResult(ds)
}
