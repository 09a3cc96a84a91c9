package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sheetagg/internal/config"
	mcpserver "sheetagg/internal/mcp"
	"sheetagg/internal/service"
	"sheetagg/internal/storage"
)

// App wires storage and services for one CLI invocation.
type App struct {
	log  *zap.Logger
	db   *storage.DB // nil when history is disabled
	runs *service.RunService
}

// Options controls how an App is started.
type Options struct {
	// HistoryDB overrides every other history location.
	HistoryDB string
	// NoHistory disables run history.
	NoHistory bool
	// ConfigPath, when set, may name a history_db of its own.
	ConfigPath string
	Emitter    service.EventEmitter
}

// DefaultHistoryDB is where run history lives when nothing else says.
func DefaultHistoryDB() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "sheetagg", "history.db")
}

// historyPath picks the history database: flag, then the config's
// history_db, then SHEETAGG_HISTORY_DB, then the default.
func historyPath(opts Options) string {
	if opts.HistoryDB != "" {
		return opts.HistoryDB
	}
	if opts.ConfigPath != "" {
		if cfg, err := config.Load(opts.ConfigPath); err == nil && cfg.HistoryDB != "" {
			return cfg.HistoryDB
		}
	}
	if env := os.Getenv(config.EnvHistoryDB); env != "" {
		return env
	}
	return DefaultHistoryDB()
}

// New opens the history database and creates the services.
func New(log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{log: log}

	var store *storage.RunStore
	if !opts.NoHistory {
		path := historyPath(opts)
		db, err := storage.New(path)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", path, err)
		}
		a.db = db
		store = storage.NewRunStore(db)
		log.Debug("history opened", zap.String("path", path))
	}

	emitter := opts.Emitter
	if emitter == nil {
		emitter = service.LogEmitter{Log: log}
	}
	a.runs = service.NewRunService(store, emitter, log)
	return a, nil
}

// Runs returns the run service.
func (a *App) Runs() *service.RunService { return a.runs }

// Shutdown stops triggers, waits for in-flight runs and closes storage.
func (a *App) Shutdown(ctx context.Context) {
	a.runs.Stop()
	a.runs.WaitRunning(ctx)
	if a.db != nil {
		a.db.Close()
	}
}

// ServeMCP runs a standalone MCP server on stdin/stdout until the client
// disconnects. Run events are forwarded to the client.
func (a *App) ServeMCP() error {
	srv := mcpserver.New(mcpserver.Deps{Runs: a.runs, Log: a.log})
	a.runs.SetEmitter(mcpserver.Emitter{Server: srv})
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
