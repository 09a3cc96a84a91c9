package etl

import (
	"reflect"
	"regexp"
	"strings"
	"time"
)

// ── Predicate Evaluator ────────────────────────────────────
// Applies an ordered list of conditions (AND) to a table. Filtering is
// best-effort per condition: a condition that cannot be evaluated is
// reported and skipped, never fatal.

// Filter returns the rows of t that satisfy every applicable condition.
// now resolves the TODAY sentinel. t is never modified.
func Filter(t *Table, conds []Condition, now time.Time) (*Table, []Diagnostic) {
	if t.Empty() {
		return NewTable(), nil
	}

	var diags []Diagnostic
	out := t
	for _, c := range conds {
		next, d := applyCondition(out, c, now)
		if d != nil {
			diags = append(diags, *d)
		}
		if next != nil {
			out = next
		}
	}
	if out == t {
		out = t.Clone()
	}
	return out, diags
}

// applyCondition evaluates one condition. A nil table means "skipped".
func applyCondition(t *Table, c Condition, now time.Time) (*Table, *Diagnostic) {
	if c.Column == "" || c.Operator == "" {
		d := warnf(ComponentFilter, c.Column, "skipping invalid filter definition: %s", c)
		return nil, &d
	}
	raw, ok := t.Column(c.Column)
	if !ok {
		d := warnf(ComponentFilter, c.Column, "filter column %q not found, condition skipped", c.Column)
		return nil, &d
	}

	op := c.Operator
	lit := FromAny(c.Value)
	values := raw

	isToday := false
	if s, ok := c.Value.(string); ok && strings.EqualFold(s, "TODAY") {
		isToday = true
	}
	dateMode := isToday || (op.IsOrdering() && !isNumericOrDate(lit))

	if dateMode {
		if op.IsString() {
			d := errorf(ComponentFilter, c.Column, "operator %q cannot be used in date mode (value %v), condition skipped", op, c.Value)
			return nil, &d
		}
		var litDate time.Time
		litOK := true
		if isToday {
			y, m, day := now.Date()
			litDate = time.Date(y, m, day, 0, 0, 0, 0, now.Location())
		} else {
			litDate, litOK = lit.AsDate()
		}
		lit = Date(litDate)

		// Rows where either side failed date coercion drop out of
		// consideration for this condition.
		valid := make([]bool, len(raw))
		coerced := make([]Value, 0, len(raw))
		for i, v := range raw {
			if dt, ok := v.AsDate(); ok && litOK {
				valid[i] = true
				coerced = append(coerced, Date(dt))
			}
		}
		t = t.Mask(valid)
		if t.Empty() {
			return t, nil
		}
		values = coerced
		raw, _ = t.Column(c.Column)
	}

	mask := make([]bool, len(values))
	switch op {
	case OpEq:
		for i, v := range values {
			mask[i] = Equal(v, lit)
		}
	case OpNeq:
		for i, v := range values {
			mask[i] = !Equal(v, lit)
		}
	case OpGt, OpGte, OpLt, OpLte:
		for i, v := range values {
			if v.IsNull() {
				continue
			}
			cmp, ok := Compare(v, lit)
			if !ok {
				d := errorf(ComponentFilter, c.Column, "cannot compare %s value %q with %v using %q, condition skipped", v.Kind(), v, c.Value, op)
				return nil, &d
			}
			mask[i] = ordered(op, cmp)
		}
	case OpIn, OpNotIn:
		list, ok := asList(c.Value)
		if !ok {
			d := errorf(ComponentFilter, c.Column, "%q operator requires value to be a list, condition skipped", op)
			return nil, &d
		}
		for i, v := range values {
			member := false
			for _, item := range list {
				if Equal(v, item) {
					member = true
					break
				}
			}
			mask[i] = member == (op == OpIn)
		}
	case OpIsNull:
		for i, v := range raw {
			mask[i] = v.IsNull()
		}
	case OpNotNull:
		for i, v := range raw {
			mask[i] = !v.IsNull()
		}
	case OpContains, OpStartsWith, OpEndsWith, OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			d := errorf(ComponentFilter, c.Column, "%q operator requires a string value, condition skipped", op)
			return nil, &d
		}
		match, err := stringMatcher(op, pattern)
		if err != nil {
			d := errorf(ComponentFilter, c.Column, "invalid regex pattern %q: %v, condition skipped", pattern, err)
			return nil, &d
		}
		for i, v := range values {
			s, _ := v.AsText()
			mask[i] = match(s)
		}
	default:
		d := warnf(ComponentFilter, c.Column, "unsupported filter operator %q, condition skipped", op)
		return nil, &d
	}

	return t.Mask(mask), nil
}

func stringMatcher(op Operator, pattern string) (func(string) bool, error) {
	switch op {
	case OpContains:
		needle := strings.ToLower(pattern)
		return func(s string) bool { return strings.Contains(strings.ToLower(s), needle) }, nil
	case OpStartsWith:
		return func(s string) bool { return strings.HasPrefix(s, pattern) }, nil
	case OpEndsWith:
		return func(s string) bool { return strings.HasSuffix(s, pattern) }, nil
	default:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	}
}

func ordered(op Operator, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	default:
		return cmp <= 0
	}
}

func isNumericOrDate(v Value) bool {
	switch v.Kind() {
	case KindNumber, KindBool, KindDate:
		return true
	}
	return false
}

// asList converts any slice or array into a list of Values.
func asList(x any) ([]Value, bool) {
	if x == nil {
		return nil, false
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isBytes := x.([]byte); isBytes {
		return nil, false
	}
	out := make([]Value, rv.Len())
	for i := range out {
		out[i] = FromAny(rv.Index(i).Interface())
	}
	return out, true
}
