package destinations

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ncruces/go-strftime"
	"github.com/valyala/fasttemplate"

	"sheetagg/internal/etl"
)

// ── Formatter ──────────────────────────────────────────────
// Fault-tolerant {field} substitution. A missing or null field renders
// as Default and never fails the line.

// DefaultPlaceholder is what missing fields render as.
const DefaultPlaceholder = "N/A"

// Formatter substitutes {name} and {name:spec} tags from a flat mapping.
// "{{" renders a literal "{".
type Formatter struct {
	Default string
}

// NewFormatter returns a Formatter using DefaultPlaceholder.
func NewFormatter() Formatter {
	return Formatter{Default: DefaultPlaceholder}
}

// Format renders template against fields.
func (f Formatter) Format(template string, fields map[string]etl.Value) string {
	return fasttemplate.ExecuteFuncString(template, "{", "}", func(w io.Writer, tag string) (int, error) {
		if strings.HasPrefix(tag, "{") {
			// "{{x}}": the tag is "{x" and the second "}" stays literal.
			return io.WriteString(w, tag)
		}
		name, spec, _ := strings.Cut(tag, ":")
		v, ok := fields[strings.TrimSpace(name)]
		if !ok || v.IsNull() {
			return io.WriteString(w, f.Default)
		}
		return io.WriteString(w, formatValue(v, spec))
	})
}

// formatValue renders one value. Without a spec, dates render as
// YYYY-MM-DD, integral numbers without decimals, other numbers with two.
// A spec is a printf verb tail for numbers ("8.3f") or a strftime layout
// for dates ("%d/%m/%Y").
func formatValue(v etl.Value, spec string) string {
	switch v.Kind() {
	case etl.KindDate:
		t, _ := v.AsDate()
		if spec != "" {
			return strftime.Format(spec, t)
		}
		return t.Format("2006-01-02")
	case etl.KindNumber:
		n, _ := v.AsNumber()
		if strings.HasSuffix(spec, "d") {
			return fmt.Sprintf("%"+spec, int64(n))
		}
		if spec != "" {
			return fmt.Sprintf("%"+spec, n)
		}
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	default:
		s, _ := v.AsText()
		return s
	}
}
