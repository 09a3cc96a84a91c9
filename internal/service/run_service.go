package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sheetagg/internal/config"
	"sheetagg/internal/etl"
	_ "sheetagg/internal/etl/sources"
	"sheetagg/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// RunService: load config → engine → destinations → history
// ─────────────────────────────────────────────────────────────

// ErrAlreadyRunning is returned when a run of the same config is in flight.
var ErrAlreadyRunning = errors.New("config is already running")

// Run triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
	TriggerMCP      = "mcp"
)

const (
	runTimeout     = 5 * time.Minute
	previewTimeout = 30 * time.Second
	watchDebounce  = 500 * time.Millisecond
)

// OutputResult is the outcome of one destination.
type OutputResult struct {
	Name  string `json:"name"`
	Units int    `json:"units"`
	Error string `json:"error,omitempty"`
}

// RunReport is what a completed (or failed) run hands back.
type RunReport struct {
	RunID      string         `json:"runId,omitempty"`
	ConfigPath string         `json:"configPath"`
	Status     string         `json:"status"`
	Result     *etl.RunResult `json:"result,omitempty"`
	Outputs    []OutputResult `json:"outputs"`
	Error      string         `json:"error,omitempty"`
}

// RunService executes config files and owns scheduling and file watching.
type RunService struct {
	store   *storage.RunStore // nil disables history
	emitter EventEmitter
	log     *zap.Logger

	// Reader overrides the source registry; tests use it.
	Reader etl.Reader

	running runGuard

	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewRunService creates a RunService. store and emitter may be nil.
func NewRunService(store *storage.RunStore, emitter EventEmitter, log *zap.Logger) *RunService {
	if log == nil {
		log = zap.NewNop()
	}
	if emitter == nil {
		emitter = LogEmitter{Log: log}
	}
	return &RunService{store: store, emitter: emitter, log: log}
}

// SetEmitter replaces the event emitter. Call it before any run starts.
func (s *RunService) SetEmitter(e EventEmitter) {
	if e != nil {
		s.emitter = e
	}
}

func (s *RunService) engine(log *zap.Logger) *etl.Engine {
	e := etl.NewEngine(log)
	if s.Reader != nil {
		e.Reader = s.Reader
	}
	return e
}

// ── Run ────────────────────────────────────────────────────

// Run executes the config at path end to end. The error is non-nil when
// the config is invalid, the master cannot be loaded, or a destination
// fails; the report is returned in every case but the first.
func (s *RunService) Run(ctx context.Context, path, trigger string) (*RunReport, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if !s.running.TryLock(abs) {
		s.emitter.Emit(ctx, EventRunSkipped, abs)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, abs)
	}
	defer s.running.Unlock(abs)

	cfg, err := config.Load(abs)
	if err != nil {
		s.log.Error("config rejected", zap.String("config", abs), zap.Error(err))
		return nil, err
	}

	log := s.log.With(zap.String("config", abs), zap.String("trigger", trigger))
	report := &RunReport{ConfigPath: abs, Status: storage.StatusRunning}
	run := &storage.Run{ConfigPath: abs, Trigger: trigger}
	if s.store != nil {
		if err := s.store.CreateRun(run); err != nil {
			log.Warn("could not record run start", zap.Error(err))
		}
		report.RunID = run.ID
	}
	s.emitter.Emit(ctx, EventRunStarted, report)

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	engine := s.engine(log)
	defer engine.Release()

	rs := cfg.RuleSet()
	res, runErr := engine.Run(runCtx, rs)
	if runErr == nil {
		report.Result = res
		report.Outputs, runErr = s.render(runCtx, cfg, rs, engine, res, log)
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		report.Status = storage.StatusCancelled
	case runErr != nil:
		report.Status = storage.StatusFailed
	case res.Count(etl.SeverityError) > 0:
		report.Status = storage.StatusDegraded
	default:
		report.Status = storage.StatusSuccess
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	s.record(run, report, log)

	if runErr != nil {
		log.Error("run failed", zap.Error(runErr))
		s.emitter.Emit(ctx, EventRunFailed, report)
		return report, runErr
	}
	s.emitter.Emit(ctx, EventRunCompleted, report)
	return report, nil
}

// render writes every configured destination. A failing destination does
// not stop the others; their errors are joined.
func (s *RunService) render(ctx context.Context, cfg *config.File, rs *etl.RuleSet, engine *etl.Engine, res *etl.RunResult, log *zap.Logger) ([]OutputResult, error) {
	dests := cfg.Destinations(log)
	if len(dests) == 0 {
		log.Warn("no outputs configured, nothing written")
		return nil, nil
	}
	out := &etl.Output{Result: res, Rules: rs, Reader: engine.Cache(), Now: time.Now()}
	if engine.Now != nil {
		out.Now = engine.Now()
	}

	var results []OutputResult
	var errs []error
	for _, d := range dests {
		n, err := d.Write(ctx, out)
		r := OutputResult{Name: d.Name(), Units: n}
		if err != nil {
			r.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			log.Error("output failed", zap.String("output", d.Name()), zap.Error(err))
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

func (s *RunService) record(run *storage.Run, report *RunReport, log *zap.Logger) {
	if s.store == nil || run.ID == "" {
		return
	}
	run.Status = report.Status
	run.Error = report.Error
	for _, o := range report.Outputs {
		if o.Error == "" {
			run.Outputs = append(run.Outputs, o.Name)
		}
	}
	if res := report.Result; res != nil {
		run.MasterRows = res.MasterRows
		run.Rules = res.Rules
		run.Warnings = res.Count(etl.SeverityWarning)
		run.Errors = res.Count(etl.SeverityError)
		if err := s.store.AddDiagnostics(run.ID, res.Diagnostics); err != nil {
			log.Warn("could not record diagnostics", zap.Error(err))
		}
	}
	if err := s.store.FinishRun(run); err != nil {
		log.Warn("could not record run result", zap.Error(err))
	}
}

// ── History / Preview ──────────────────────────────────────

// History returns the most recent runs.
func (s *RunService) History(limit int) ([]storage.Run, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRuns(limit)
}

// Diagnostics returns the recorded diagnostics of one run.
func (s *RunService) Diagnostics(runID string) ([]etl.Diagnostic, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListDiagnostics(runID)
}

// Preview reads at most maxRows rows of a single source.
func (s *RunService) Preview(ctx context.Context, ref etl.SourceRef, maxRows int) (*etl.Table, error) {
	previewCtx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	engine := s.engine(s.log)
	defer engine.Release()
	return engine.Preview(previewCtx, ref, maxRows)
}

// ListSources returns the registered source readers.
func (s *RunService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ── Schedule / Watch ───────────────────────────────────────

// Schedule runs path on the cron expression expr until Stop is called.
func (s *RunService) Schedule(ctx context.Context, expr, path string) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		s.log.Info("cron: running config", zap.String("config", path))
		if _, err := s.Run(ctx, path, TriggerSchedule); err != nil {
			s.log.Warn("cron: run failed", zap.String("config", path), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	s.mu.Lock()
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
	s.cronSched = c
	s.mu.Unlock()

	c.Start()
	s.log.Info("cron: scheduled", zap.String("config", path), zap.String("expr", expr))
	return nil
}

// Watch reruns path whenever the config or one of its local sources
// changes. Bursts of events are debounced.
func (s *RunService) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("bad path %q: %w", path, err)
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := map[string]bool{abs: true}
	watchedDirs := map[string]bool{}
	addFile := func(p string) {
		watched[p] = true
		dir := filepath.Dir(p)
		if watchedDirs[dir] {
			return
		}
		if err := watcher.Add(dir); err != nil {
			s.log.Warn("watcher: failed to watch dir", zap.String("dir", dir), zap.Error(err))
			return
		}
		watchedDirs[dir] = true
	}
	addFile(abs)
	for _, p := range cfg.SourcePaths() {
		addFile(p)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopWatcherLocked()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	files := len(watched)
	rerun := func() {
		s.log.Info("watcher: change detected, running config", zap.String("config", abs))
		if _, err := s.Run(watchCtx, abs, TriggerWatch); err != nil {
			s.log.Warn("watcher: run failed", zap.String("config", abs), zap.Error(err))
		}
	}

	go func() {
		var timer *time.Timer
		for {
			select {
			case <-watchCtx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				name, _ := filepath.Abs(event.Name)
				if !watched[name] {
					continue
				}
				if name == abs {
					// The config may now name other sources.
					if next, err := config.Load(abs); err == nil {
						for _, p := range next.SourcePaths() {
							addFile(p)
						}
					}
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, rerun)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("watcher: error", zap.Error(err))
			}
		}
	}()

	s.log.Info("watcher: watching", zap.String("config", abs), zap.Int("files", files))
	return nil
}

// WaitRunning blocks until all in-flight runs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *RunService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop tears down the watcher and scheduler. It is safe to call twice.
func (s *RunService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatcherLocked()
	if s.cronSched != nil {
		<-s.cronSched.Stop().Done()
		s.cronSched = nil
	}
}

func (s *RunService) stopWatcherLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
