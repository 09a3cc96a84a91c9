package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"sheetagg/internal/etl"
	"sheetagg/internal/service"
	"sheetagg/internal/storage"
)

// ── Terminal rendering ─────────────────────────────────────

func newTab(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printReport(w io.Writer, r *service.RunReport) {
	fmt.Fprintf(w, "%s  %s\n", r.ConfigPath, strings.ToUpper(r.Status))
	if r.RunID != "" {
		fmt.Fprintf(w, "  run:     %s\n", r.RunID)
	}
	if res := r.Result; res != nil {
		fmt.Fprintf(w, "  rows:    %d\n", res.MasterRows)
		fmt.Fprintf(w, "  rules:   %d\n", res.Rules)
		fmt.Fprintf(w, "  issues:  %d warnings, %d errors\n",
			res.Count(etl.SeverityWarning), res.Count(etl.SeverityError))
		fmt.Fprintf(w, "  took:    %s\n", res.Duration.Round(time.Millisecond))
	}
	for _, o := range r.Outputs {
		if o.Error != "" {
			fmt.Fprintf(w, "  output:  %s FAILED: %s\n", o.Name, o.Error)
			continue
		}
		fmt.Fprintf(w, "  output:  %s (%d)\n", o.Name, o.Units)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:   %s\n", r.Error)
	}
}

func printRuleSet(w io.Writer, rs *etl.RuleSet, dests []etl.Destination) {
	fmt.Fprintf(w, "master: %s (key %s, %d columns)\n", rs.Master.Ref, rs.Master.PrimaryKey, len(rs.Master.Include))
	tw := newTab(w)
	fmt.Fprintln(tw, "SOURCE\tFK\tCOLUMN\tKIND\tFILTERS")
	for _, d := range rs.Details {
		for _, s := range d.Summaries {
			filters := lo.Map(s.Filters, func(c etl.Condition, _ int) string { return c.String() })
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Ref, d.ForeignKey, s.Output, s.Kind, strings.Join(filters, " AND "))
		}
	}
	tw.Flush()
	for _, d := range dests {
		fmt.Fprintf(w, "output: %s\n", d.Name())
	}
}

func printRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := newTab(w)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tTRIGGER\tROWS\tWARN\tERR\tCONFIG")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Trigger,
			r.MasterRows, r.Warnings, r.Errors, r.ConfigPath)
	}
	tw.Flush()
}

func printDiagnostics(w io.Writer, ds []etl.Diagnostic) {
	if len(ds) == 0 {
		fmt.Fprintln(w, "No diagnostics recorded.")
		return
	}
	for _, d := range ds {
		fmt.Fprintln(w, d.String())
	}
}

func printTable(w io.Writer, t *etl.Table) {
	tw := newTab(w)
	fmt.Fprintln(tw, strings.Join(t.Columns(), "\t"))
	for i := 0; i < t.Len(); i++ {
		cells := lo.Map(t.Row(i), func(v etl.Value, _ int) string { return v.String() })
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", t.Len())
}

func printSources(w io.Writer, specs []etl.SourceSpec) {
	tw := newTab(w)
	fmt.Fprintln(tw, "TYPE\tLABEL\tFIELDS")
	for _, s := range specs {
		keys := lo.Map(s.ConfigFields, func(f etl.ConfigField, _ int) string {
			if f.Required {
				return f.Key + "*"
			}
			return f.Key
		})
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Type, s.Label, strings.Join(keys, ", "))
	}
	tw.Flush()
}
