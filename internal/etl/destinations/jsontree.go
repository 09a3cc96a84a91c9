package destinations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"sheetagg/internal/etl"
)

// ── JSON Tree Destination ──────────────────────────────────
// Master key → record (the output row) → one list per detail source,
// linked by normalized foreign key. Record and detail field order
// follows the output table and the configured include lists.

// JSON tree formats.
const (
	FormatDict = "dict"
	FormatList = "list"
)

// JSONDetail nests rows of one detail source under each master record.
type JSONDetail struct {
	Ref        etl.SourceRef
	ForeignKey string
	// Key is the record field holding this detail's list.
	Key string
	// Include maps detail columns (Source) to JSON keys (Output).
	// Empty includes every column under its own name.
	Include []etl.ColumnMapping
}

// JSONTree writes the nested structure to Path.
type JSONTree struct {
	Path    string
	Format  string // dict (default) or list
	Details []JSONDetail
	Log     *zap.Logger
}

func (j *JSONTree) Name() string { return "json:" + j.Path }

// Write builds the tree and returns the number of master records.
func (j *JSONTree) Write(ctx context.Context, out *etl.Output) (int, error) {
	log := logger(j.Log).With(zap.String("output", j.Path))
	format := j.Format
	if format == "" {
		format = FormatDict
	}
	if format != FormatDict && format != FormatList {
		return 0, fmt.Errorf("unknown json format %q", format)
	}

	records, order := j.masterRecords(out.Result)
	for _, d := range j.Details {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		j.attach(ctx, out.Reader, d, records, log)
	}

	var root any
	if format == FormatList {
		list := make([]*object, 0, len(order))
		for _, id := range order {
			rec := newObject()
			rec.Set("id", id)
			for p := records[id].Oldest(); p != nil; p = p.Next() {
				rec.Set(p.Key, p.Value)
			}
			list = append(list, rec)
		}
		root = list
	} else {
		dict := newObject()
		for _, id := range order {
			dict.Set(id, records[id])
		}
		root = dict
	}

	data, err := json.MarshalIndent(root, "", "    ")
	if err != nil {
		return 0, fmt.Errorf("encode json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(j.Path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(j.Path, append(data, '\n'), 0o644); err != nil {
		return 0, fmt.Errorf("write json: %w", err)
	}
	log.Info("json output written",
		zap.String("format", format),
		zap.Int("records", len(order)))
	return len(order), nil
}

// masterRecords turns each output row into a record keyed by the
// normalized primary key. Rows are already deduplicated by the Engine.
func (j *JSONTree) masterRecords(res *etl.RunResult) (map[string]*object, []string) {
	t := res.Table
	records := make(map[string]*object, t.Len())
	order := make([]string, 0, t.Len())
	cols := t.Columns()
	for i := 0; i < t.Len(); i++ {
		k := t.Value(i, res.KeyColumn)
		if k.IsNull() {
			continue
		}
		id := k.Key()
		if _, dup := records[id]; dup {
			continue
		}
		rec := newObject()
		for _, c := range cols {
			rec.Set(c, jsonValue(t.Value(i, c)))
		}
		for _, d := range j.Details {
			rec.Set(d.Key, []*object{})
		}
		records[id] = rec
		order = append(order, id)
	}
	return records, order
}

// attach reads one detail source and appends its rows to the matching
// master records. Read or foreign key failures skip the source.
func (j *JSONTree) attach(ctx context.Context, r etl.Reader, d JSONDetail, records map[string]*object, log *zap.Logger) {
	log = log.With(zap.String("source", d.Ref.String()), zap.String("key", d.Key))
	detail, err := r.Read(ctx, d.Ref)
	if err != nil {
		log.Warn("could not read detail source, skipping", zap.Error(err))
		return
	}
	fks, ok := detail.Column(d.ForeignKey)
	if !ok {
		log.Error("foreign key column not found, skipping", zap.String("column", d.ForeignKey))
		return
	}

	include := d.Include
	if len(include) == 0 {
		for _, c := range detail.Columns() {
			include = append(include, etl.ColumnMapping{Source: c, Output: c})
		}
	}
	for _, m := range include {
		if !detail.Has(m.Source) {
			log.Warn("detail column not found, setting to null", zap.String("column", m.Source))
		}
	}

	var attached, missingFK, unmatched int
	for i, fk := range fks {
		if fk.IsNull() {
			missingFK++
			continue
		}
		rec, ok := records[fk.Key()]
		if !ok {
			unmatched++
			continue
		}
		row := newObject()
		for _, m := range include {
			row.Set(m.Output, jsonValue(detail.Value(i, m.Source)))
		}
		v, _ := rec.Get(d.Key)
		list, _ := v.([]*object)
		rec.Set(d.Key, append(list, row))
		attached++
	}
	log.Info("detail rows attached", zap.Int("rows", attached))
	if missingFK > 0 {
		log.Warn("skipped detail rows with missing foreign key", zap.Int("rows", missingFK))
	}
	if unmatched > 0 {
		log.Warn("skipped detail rows with no matching master record", zap.Int("rows", unmatched))
	}
}

// jsonValue maps a cell to its JSON form. Midnight dates render as
// YYYY-MM-DD, other dates as RFC 3339.
func jsonValue(v etl.Value) any {
	if v.Kind() != etl.KindDate {
		return v.Any()
	}
	t, _ := v.AsDate()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// object is a JSON object that keeps insertion order.
type object = orderedmap.OrderedMap[string, any]

func newObject() *object { return orderedmap.New[string, any]() }
