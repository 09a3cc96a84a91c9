package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ── Engine ─────────────────────────────────────────────────
// Orchestrates one run: master load → dedupe → project →
// per-group (read → filter → aggregate → merge) → finalize.
// Only the master load can abort a run; everything after it degrades
// locally and is reported as diagnostics.

var (
	// ErrMasterUnreadable is returned when the master source cannot be read.
	ErrMasterUnreadable = errors.New("master source unreadable")
	// ErrPrimaryKeyMissing is returned when the master lacks its primary key column.
	ErrPrimaryKeyMissing = errors.New("primary key column missing from master")
)

// RunResult is the outcome of a successful run.
type RunResult struct {
	Table       *Table        `json:"-"`
	KeyColumn   string        `json:"keyColumn"` // output name of the primary key
	MasterRows  int           `json:"masterRows"`
	Rules       int           `json:"rules"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Count returns how many diagnostics have severity s.
func (r *RunResult) Count(s Severity) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// Engine runs rule sets against a Reader.
type Engine struct {
	Reader Reader
	Log    *zap.Logger
	// Now is the clock used to resolve TODAY; defaults to time.Now.
	Now func() time.Time

	cache *Cache
}

// NewEngine returns an Engine reading through the source registry.
func NewEngine(log *zap.Logger) *Engine {
	return &Engine{Reader: Registry{}, Log: log}
}

func (e *Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Cache returns the run-scoped read cache, creating it on first use.
// Renderers that re-read detail sources share it.
func (e *Engine) Cache() *Cache {
	if e.cache == nil {
		reader := e.Reader
		if reader == nil {
			reader = Registry{}
		}
		e.cache = NewCache(reader)
	}
	return e.cache
}

// run accumulates diagnostics and logs each one as it arrives.
type run struct {
	log   *zap.Logger
	diags []Diagnostic
}

func (r *run) report(ds ...Diagnostic) {
	for _, d := range ds {
		d.Log(r.log)
		r.diags = append(r.diags, d)
	}
}

// Run executes rs end-to-end. The returned error is non-nil only for
// ErrMasterUnreadable and ErrPrimaryKeyMissing.
func (e *Engine) Run(ctx context.Context, rs *RuleSet) (*RunResult, error) {
	start := time.Now()
	cache := e.Cache()
	cache.Clear()

	r := &run{log: e.logger()}
	now := e.now()

	// 1. Load master.
	master, key, err := e.loadMaster(ctx, cache, rs.Master, r)
	if err != nil {
		cache.Clear()
		return nil, err
	}
	r.log.Info("master loaded",
		zap.String("source", rs.Master.Ref.String()),
		zap.Int("rows", master.Len()))

	// 4-5. Detail groups.
	rules := 0
	for _, group := range rs.Details {
		rules += len(group.Summaries)
		e.runGroup(ctx, cache, master, key, group, now, r)
	}

	// 6. Finalize.
	out, ds := OrderColumns(master, rs.ColumnOrder)
	r.report(ds...)

	result := &RunResult{
		Table:       out,
		KeyColumn:   key,
		MasterRows:  out.Len(),
		Rules:       rules,
		Diagnostics: r.diags,
		Duration:    time.Since(start),
	}
	r.log.Info("run complete",
		zap.Int("rows", result.MasterRows),
		zap.Int("rules", rules),
		zap.Int("warnings", result.Count(SeverityWarning)),
		zap.Int("errors", result.Count(SeverityError)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// loadMaster reads, dedupes and projects the master table. It returns the
// projected table and the output name of the primary key column.
func (e *Engine) loadMaster(ctx context.Context, cache *Cache, ms MasterSource, r *run) (*Table, string, error) {
	raw, err := cache.Read(ctx, ms.Ref)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrMasterUnreadable, ms.Ref, err)
	}
	if !raw.Has(ms.PrimaryKey) {
		return nil, "", fmt.Errorf("%w: %q not in %s", ErrPrimaryKeyMissing, ms.PrimaryKey, ms.Ref)
	}

	// 2. Dedupe, then drop null keys.
	deduped, dups := DedupeByKey(raw, ms.PrimaryKey)
	if len(dups) > 0 {
		r.report(warnf(ComponentMaster, ms.PrimaryKey,
			"duplicate primary keys found in master: %s, keeping first occurrence", strings.Join(dups, ", ")))
	}
	cleaned, dropped := DropNullKeys(deduped, ms.PrimaryKey)
	if dropped > 0 {
		r.report(warnf(ComponentMaster, ms.PrimaryKey,
			"dropped %d master rows with null primary key", dropped))
	}

	// 3. Project + rename.
	projected, key, ds, err := Project(cleaned, ms.Include, ms.PrimaryKey)
	r.report(ds...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrMasterUnreadable, err)
	}
	return projected, key, nil
}

// runGroup processes every summary of one detail source. A failed read or
// a missing foreign key defaults every summary in the group.
func (e *Engine) runGroup(ctx context.Context, cache *Cache, master *Table, key string, group DetailSource, now time.Time, r *run) {
	detail, err := cache.Read(ctx, group.Ref)
	if err != nil {
		e.defaultGroup(master, group, r, errorf(ComponentSource, group.Ref.String(),
			"failed to read detail source: %v", err))
		return
	}
	if !detail.Empty() && !detail.Has(group.ForeignKey) {
		e.defaultGroup(master, group, r, errorf(ComponentSource, group.ForeignKey,
			"foreign key column %q not found in %s", group.ForeignKey, group.Ref))
		return
	}

	for _, s := range group.Summaries {
		e.runSummary(master, key, detail, group.ForeignKey, s, now, r)
	}
}

func (e *Engine) defaultGroup(master *Table, group DetailSource, r *run, cause Diagnostic) {
	r.report(cause)
	for _, s := range group.Summaries {
		if err := FillDefault(master, s.Output, s.Kind); err != nil {
			r.report(Diagnostic{Severity: SeverityError, Component: ComponentMerge, Rule: s.Output, Message: err.Error()})
			continue
		}
		r.report(Diagnostic{Severity: SeverityInfo, Component: ComponentMerge, Rule: s.Output,
			Message: fmt.Sprintf("filled with default %s", s.Kind.Default())})
	}
}

// runSummary is filter → aggregate → merge for one rule. It never fails:
// if the merge itself cannot run, the column is filled with its default.
func (e *Engine) runSummary(master *Table, key string, detail *Table, fk string, s Summary, now time.Time, r *run) {
	filtered, ds := Filter(detail, s.Filters, now)
	r.report(withRule(ds, s.Output)...)

	agg, ds := Aggregate(filtered, fk, s.Kind, s.Column)
	r.report(withRule(ds, s.Output)...)

	if err := Merge(master, key, s.Output, agg); err != nil {
		r.report(Diagnostic{Severity: SeverityError, Component: ComponentMerge, Rule: s.Output, Message: err.Error()})
		if err := FillDefault(master, s.Output, s.Kind); err != nil {
			r.report(Diagnostic{Severity: SeverityError, Component: ComponentMerge, Rule: s.Output, Message: err.Error()})
		}
		return
	}
	r.log.Debug("rule applied",
		zap.String("rule", s.Output),
		zap.String("kind", string(s.Kind)),
		zap.Int("matched", filtered.Len()),
		zap.Int("groups", agg.Len()))
}

// Preview reads a single source and returns at most maxRows rows of it.
func (e *Engine) Preview(ctx context.Context, ref SourceRef, maxRows int) (*Table, error) {
	t, err := e.Cache().Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 || t.Len() <= maxRows {
		return t, nil
	}
	idx := make([]int, maxRows)
	for i := range idx {
		idx[i] = i
	}
	return t.Take(idx), nil
}

// Release clears the read cache. Call it once every consumer of the run,
// renderers included, is done with the sources.
func (e *Engine) Release() {
	if e.cache != nil {
		e.cache.Clear()
	}
}
