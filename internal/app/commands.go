package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sheetagg/internal/config"
	"sheetagg/internal/etl"
	"sheetagg/internal/service"
)

// cli holds global flags and the logger shared by every command.
type cli struct {
	verbose   bool
	history   string
	noHistory bool
	logger    *zap.Logger
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "sheetagg",
		Short: "Aggregate detail spreadsheets into a master summary",
		Long: `sheetagg reads a master table and any number of detail tables, applies
the summary rules of a YAML config (filter, then count / sum / exists per
foreign key), and merges the results into the master as new columns.

The summary can be written to Excel, JSON, a text digest, SQLite, MySQL,
PostgreSQL or MongoDB.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.logger != nil {
				return nil
			}
			zc := zap.NewProductionConfig()
			zc.Encoding = "console"
			zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			if c.verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			c.logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&c.history, "history", "", "History database (default: config history_db, $"+config.EnvHistoryDB+", or ~/.local/share/sheetagg/history.db)")
	root.PersistentFlags().BoolVar(&c.noHistory, "no-history", false, "Do not record run history")

	root.AddCommand(
		c.runCmd(),
		c.validateCmd(),
		c.watchCmd(),
		c.scheduleCmd(),
		c.historyCmd(),
		c.previewCmd(),
		c.sourcesCmd(),
		c.mcpCmd(),
	)
	return root
}

func (c *cli) open(configPath string) (*App, error) {
	return New(c.logger, Options{
		HistoryDB:  c.history,
		NoHistory:  c.noHistory,
		ConfigPath: configPath,
	})
}

// ── run ────────────────────────────────────────────────────

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.yaml>...",
		Short: "Run one or more configs and write their outputs",
		Long: `Runs every config in order. A config whose master cannot be read, or
whose outputs fail to write, makes the command exit non-zero; the other
configs still run. Rule-level problems are logged and recorded but do
not fail the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0])
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var errs []error
			for _, path := range args {
				report, err := a.runs.Run(ctx, path, service.TriggerManual)
				if report != nil {
					printReport(cmd.OutOrStdout(), report)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// ── validate ───────────────────────────────────────────────

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Check a config without reading any source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			printRuleSet(cmd.OutOrStdout(), cfg.RuleSet(), cfg.Destinations(c.logger))
			return nil
		},
	}
}

// ── watch / schedule ───────────────────────────────────────

func (c *cli) watchCmd() *cobra.Command {
	var skipInitial bool
	cmd := &cobra.Command{
		Use:   "watch <config.yaml>",
		Short: "Rerun a config whenever it or one of its source files changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			defer c.shutdown(a)

			if !skipInitial {
				if report, err := a.runs.Run(ctx, args[0], service.TriggerManual); report != nil {
					printReport(cmd.OutOrStdout(), report)
				} else if err != nil {
					return err
				}
			}
			if err := a.runs.Watch(ctx, args[0]); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "Do not run once before watching")
	return cmd
}

func (c *cli) scheduleCmd() *cobra.Command {
	var expr string
	cmd := &cobra.Command{
		Use:   "schedule <config.yaml>",
		Short: "Run a config on a cron schedule",
		Long: `Runs the config on a cron expression (standard five fields, or
descriptors such as @hourly and @every 30m). The expression comes from
--cron, or from the config's schedule key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expr == "" {
				cfg, err := config.Load(args[0])
				if err != nil {
					return err
				}
				expr = cfg.Schedule
			}
			if expr == "" {
				return fmt.Errorf("no schedule: pass --cron or set schedule in %s", args[0])
			}

			a, err := c.open(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			defer c.shutdown(a)

			if err := a.runs.Schedule(ctx, expr, args[0]); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "Cron expression (overrides the config's schedule)")
	return cmd
}

// shutdown gives in-flight runs a grace period.
func (c *cli) shutdown(a *App) {
	c.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Shutdown(ctx)
}

// ── history ────────────────────────────────────────────────

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the diagnostics of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.noHistory {
				return fmt.Errorf("history is disabled")
			}
			a, err := c.open("")
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			if len(args) == 1 {
				ds, err := a.runs.Diagnostics(args[0])
				if err != nil {
					return err
				}
				printDiagnostics(cmd.OutOrStdout(), ds)
				return nil
			}
			runs, err := a.runs.History(limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

// ── preview / sources ──────────────────────────────────────

func (c *cli) previewCmd() *cobra.Command {
	var ref etl.SourceRef
	var rows int
	cmd := &cobra.Command{
		Use:   "preview [file]",
		Short: "Print the first rows of a source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				ref.Path = args[0]
			}
			if ref.Path == "" && ref.DSN == "" {
				return fmt.Errorf("a file or --dsn is required")
			}
			svc := service.NewRunService(nil, nil, c.logger)
			t, err := svc.Preview(cmd.Context(), ref, rows)
			if err != nil {
				return err
			}
			printTable(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref.Sheet, "sheet", "", "Sheet, table or collection")
	cmd.Flags().StringVar(&ref.Driver, "driver", "", "Source type (see `sheetagg sources`)")
	cmd.Flags().StringVar(&ref.DSN, "dsn", "", "Database connection string")
	cmd.Flags().StringVar(&ref.Query, "query", "", "SQL query or Mongo filter")
	cmd.Flags().IntVar(&rows, "rows", 20, "Rows to print (0 for all)")
	return cmd
}

func (c *cli) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the source types that can be read",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printSources(cmd.OutOrStdout(), etl.ListSources())
		},
	}
}

// ── mcp ────────────────────────────────────────────────────

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open("")
			if err != nil {
				return err
			}
			defer c.shutdown(a)
			return a.ServeMCP()
		},
	}
}
