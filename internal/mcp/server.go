package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"sheetagg/internal/service"
)

// Server is the MCP server for sheetagg.
// It exposes tools, resources, and prompts so AI agents can run configs
// and inspect their history.
type Server struct {
	mcp  *server.MCPServer
	runs *service.RunService
	log  *zap.Logger
}

// Deps holds the dependencies passed from the CLI to the MCP server.
type Deps struct {
	Runs *service.RunService
	Log  *zap.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{runs: deps.Runs, log: log}

	s.mcp = server.NewMCPServer(
		"sheetagg-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerRunTools()
	s.registerSourceTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio starts the MCP server on stdin/stdout. Logs must go to stderr.
func (s *Server) ServeStdio() error {
	s.log.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// Emitter forwards run lifecycle events to the connected client as
// logging notifications.
type Emitter struct {
	Server *Server
}

func (e Emitter) Emit(ctx context.Context, event string, data any) {
	if e.Server == nil || e.Server.mcp == nil {
		return
	}
	e.Server.mcp.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": "sheetagg",
		"data":   map[string]any{"event": event, "payload": data},
	})
}
