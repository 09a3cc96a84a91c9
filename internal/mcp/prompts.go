package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("review_run",
		mcp.WithPromptDescription("Run a config and explain its warnings and errors"),
		mcp.WithArgument("configPath",
			mcp.ArgumentDescription("Path to the YAML config file"),
			mcp.RequiredArgument(),
		),
	), s.handleReviewRunPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("draft_rule",
		mcp.WithPromptDescription("Draft a summary rule for a detail source"),
		mcp.WithArgument("source",
			mcp.ArgumentDescription("Detail source file path"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What the new column should count or measure"),
			mcp.RequiredArgument(),
		),
	), s.handleDraftRulePrompt)
}

func (s *Server) handleReviewRunPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	path := req.Params.Arguments["configPath"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review a run of %s", path),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Run the config at "%s" and review the result. Follow these steps:

1. Call run_config with configPath "%s"
2. Group the diagnostics by rule and explain what each one means for the output column
3. For every error, use preview_source on the source it names to check the column names and values
4. Suggest concrete edits to the YAML that would clear the errors

Keep the answer short and list the edits as YAML snippets.`, path, path),
				},
			},
		},
	}, nil
}

func (s *Server) handleDraftRulePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	source := req.Params.Arguments["source"]
	goal := req.Params.Arguments["goal"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Draft a rule over %s", source),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Draft a sheetagg summary rule over "%s" that answers: %s

1. Call preview_source with filePath "%s" to see its columns and sample values
2. Pick the foreign key column that links rows to the master
3. Choose an aggregation (count, sum or exists) and any filters; valid operators are ==, !=, >, >=, <, <=, in, not in, isnull, notnull, contains, startswith, endswith and regex; date comparisons may use TODAY
4. Reply with the summary_definitions entry as YAML`, source, goal, source),
				},
			},
		},
	}, nil
}
