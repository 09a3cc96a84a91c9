package etl

import (
	"fmt"

	"go.uber.org/zap"
)

// ── Diagnostics ────────────────────────────────────────────
// Recoverable problems are values, not errors: every stage returns them
// next to its result and the Engine collects them into the run report.

// Severity of a diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Component names the stage that produced a diagnostic.
const (
	ComponentMaster    = "master"
	ComponentFilter    = "filter"
	ComponentAggregate = "aggregate"
	ComponentMerge     = "merge"
	ComponentSource    = "source"
	ComponentFinalize  = "finalize"
)

// Diagnostic is one recoverable problem.
type Diagnostic struct {
	Severity  Severity `json:"severity"`
	Component string   `json:"component"`
	Rule      string   `json:"rule,omitempty"`    // output column of the rule, if any
	Subject   string   `json:"subject,omitempty"` // column, condition or source
	Message   string   `json:"message"`
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("[%s] %s", d.Severity, d.Component)
	if d.Rule != "" {
		s += " rule=" + d.Rule
	}
	if d.Subject != "" {
		s += " subject=" + d.Subject
	}
	return s + ": " + d.Message
}

func warnf(component, subject, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Component: component, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func errorf(component, subject, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Component: component, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// withRule stamps rule onto every diagnostic in ds.
func withRule(ds []Diagnostic, rule string) []Diagnostic {
	for i := range ds {
		if ds[i].Rule == "" {
			ds[i].Rule = rule
		}
	}
	return ds
}

// Log writes d to log at its severity.
func (d Diagnostic) Log(log *zap.Logger) {
	fields := []zap.Field{zap.String("component", d.Component)}
	if d.Rule != "" {
		fields = append(fields, zap.String("rule", d.Rule))
	}
	if d.Subject != "" {
		fields = append(fields, zap.String("column", d.Subject))
	}
	switch d.Severity {
	case SeverityError:
		log.Error(d.Message, fields...)
	case SeverityWarning:
		log.Warn(d.Message, fields...)
	default:
		log.Info(d.Message, fields...)
	}
}
