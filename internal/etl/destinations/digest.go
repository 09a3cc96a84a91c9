package destinations

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"sheetagg/internal/etl"
)

// ── Text Digest Destination ────────────────────────────────
// One free-text block per selected master entity: a header line, then
// one line per matching detail row rendered through that source's
// format string.

// Digest defaults.
const (
	DefaultHeaderFormat = "=== {id} ==="
	DefaultSeparator    = "\n---\n"
	DefaultPrefix       = "  - "
	DefaultNoFindings   = "  - No findings."
)

// DigestSource is one detail table feeding digest lines.
type DigestSource struct {
	Ref        etl.SourceRef
	ForeignKey string
	// Fields maps source columns (Source) to template aliases (Output).
	Fields []etl.ColumnMapping
	Format string
}

// DigestSelection picks the master entities to report on. Filters win
// over IDs when both are set.
type DigestSelection struct {
	Filters []etl.Condition
	IDs     []string
}

// TextDigest renders the digest to Path.
type TextDigest struct {
	Path         string
	Selection    DigestSelection
	HeaderFormat string
	Separator    string
	Prefix       string
	NoFindings   string
	Sources      []DigestSource
	Formatter    Formatter
	Log          *zap.Logger
}

func (d *TextDigest) Name() string { return "text:" + d.Path }

// Write renders one block per target and returns the number of blocks.
// An empty selection writes nothing.
func (d *TextDigest) Write(ctx context.Context, out *etl.Output) (int, error) {
	log := logger(d.Log).With(zap.String("output", d.Path))
	t := out.Result.Table
	key := out.Result.KeyColumn

	targets := d.selectTargets(t, key, out.Now, log)
	if len(targets) == 0 {
		log.Warn("selection resulted in 0 targets, no digest generated")
		return 0, nil
	}
	targetSet := lo.SliceToMap(targets, func(id string) (string, bool) { return id, true })

	master := d.masterContext(t, key, targetSet)
	findings := make(map[string][]string, len(targets))
	for _, src := range d.Sources {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		d.collect(ctx, out.Reader, src, targetSet, findings, log)
	}

	if err := os.MkdirAll(filepath.Dir(d.Path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(d.Path)
	if err != nil {
		return 0, fmt.Errorf("create digest: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	sep := lo.Ternary(d.Separator == "", DefaultSeparator, d.Separator)
	header := lo.Ternary(d.HeaderFormat == "", DefaultHeaderFormat, d.HeaderFormat)
	prefix := lo.Ternary(d.Prefix == "", DefaultPrefix, d.Prefix)
	none := lo.Ternary(d.NoFindings == "", DefaultNoFindings, d.NoFindings)

	for i, id := range targets {
		if i > 0 {
			w.WriteString(sep)
		}
		fields, ok := master[id]
		if !ok {
			fields = map[string]etl.Value{"id": etl.Text(id)}
		}
		w.WriteString(d.formatter().Format(header, fields) + "\n")

		lines := findings[id]
		if len(lines) == 0 {
			w.WriteString(none + "\n")
			continue
		}
		for _, line := range lines {
			w.WriteString(prefix + line + "\n")
		}
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("write digest: %w", err)
	}
	log.Info("text digest written", zap.Int("targets", len(targets)))
	return len(targets), nil
}

func (d *TextDigest) formatter() Formatter {
	if d.Formatter.Default == "" {
		return NewFormatter()
	}
	return d.Formatter
}

// selectTargets returns the sorted, distinct normalized keys to report on.
func (d *TextDigest) selectTargets(t *etl.Table, key string, now time.Time, log *zap.Logger) []string {
	var ids []string
	switch {
	case len(d.Selection.Filters) > 0:
		selected, diags := etl.Filter(t, d.Selection.Filters, now)
		for _, dg := range diags {
			dg.Log(log)
		}
		keys, _ := selected.Column(key)
		for _, k := range keys {
			if !k.IsNull() {
				ids = append(ids, k.Key())
			}
		}
		log.Info("selected targets via master filters", zap.Int("count", len(lo.Uniq(ids))))
	case len(d.Selection.IDs) > 0:
		ids = d.Selection.IDs
		log.Info("selected targets via id list", zap.Int("count", len(lo.Uniq(ids))))
	default:
		log.Warn("no selection criteria")
		return nil
	}
	ids = lo.Uniq(ids)
	sort.Strings(ids)
	return ids
}

// masterContext maps each target to its output row plus an "id" field.
func (d *TextDigest) masterContext(t *etl.Table, key string, targets map[string]bool) map[string]map[string]etl.Value {
	rows := make(map[string]map[string]etl.Value, len(targets))
	keys, _ := t.Column(key)
	for i, k := range keys {
		id := k.Key()
		if !targets[id] {
			continue
		}
		if _, seen := rows[id]; seen {
			continue
		}
		row := t.RowMap(i)
		row["id"] = etl.Text(id)
		rows[id] = row
	}
	return rows
}

// collect renders every row of src whose foreign key is a target.
func (d *TextDigest) collect(ctx context.Context, r etl.Reader, src DigestSource, targets map[string]bool, findings map[string][]string, log *zap.Logger) {
	log = log.With(zap.String("source", src.Ref.String()))
	detail, err := r.Read(ctx, src.Ref)
	if err != nil {
		log.Warn("could not read detail source, skipping", zap.Error(err))
		return
	}
	fks, ok := detail.Column(src.ForeignKey)
	if !ok {
		log.Error("foreign key column not found, skipping", zap.String("column", src.ForeignKey))
		return
	}
	for _, m := range src.Fields {
		if !detail.Has(m.Source) {
			log.Warn("display column not found, will render as default",
				zap.String("column", m.Source), zap.String("alias", m.Output))
		}
	}

	for i, fk := range fks {
		if fk.IsNull() || !targets[fk.Key()] {
			continue
		}
		fields := make(map[string]etl.Value, len(src.Fields))
		for _, m := range src.Fields {
			fields[m.Output] = detail.Value(i, m.Source)
		}
		findings[fk.Key()] = append(findings[fk.Key()], d.formatter().Format(src.Format, fields))
	}
}
