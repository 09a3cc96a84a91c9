package etl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ── Value ──────────────────────────────────────────────────
// A single loosely-typed cell. Source data is untrusted, so every
// column can hold a mix of kinds; coercion happens at the point of use.

// ValueKind tags the active member of a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindText
	KindDate
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// Value is a tagged union over the cell kinds a table may hold.
// The zero Value is Null.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	t    time.Time
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Text(s string) Value { return Value{kind: KindText, s: s} }
func Date(t time.Time) Value { return Value{kind: KindDate, t: wallClock(t)} }
func Int(n int64) Value { return Number(float64(n)) }
func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// wallClock keeps t's calendar fields and moves them into time.Local.
// Source dates carry no zone, so every date is compared as local
// wall-clock time whatever the reader or driver attached.
func wallClock(t time.Time) time.Time {
	if t.IsZero() || t.Location() == time.Local {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
}

// FromAny converts a decoded value (YAML, JSON, driver scan, spreadsheet cell)
// into a Value. NaN floats are treated as Null.
func FromAny(x any) Value {
	switch val := x.(type) {
	case nil:
		return Null()
	case Value:
		return val
	case bool:
		return Bool(val)
	case string:
		return Text(val)
	case []byte:
		return Text(string(val))
	case time.Time:
		return Date(val)
	case *time.Time:
		if val == nil {
			return Null()
		}
		return Date(*val)
	case float64:
		if math.IsNaN(val) {
			return Null()
		}
		return Number(val)
	case float32:
		return FromAny(float64(val))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Number(cast.ToFloat64(val))
	case fmt.Stringer:
		return Text(val.String())
	default:
		return Text(fmt.Sprint(val))
	}
}

// Any returns the Go representation used by renderers.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindText:
		return v.s
	case KindDate:
		return v.t
	default:
		return nil
	}
}

// Key is the string normalization used whenever values from different
// sources are correlated. 5, 5.0 and "5" all yield "5".
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindText:
		return v.s
	default:
		s, _ := v.AsText()
		return s
	}
}

// String renders the value for diagnostics.
func (v Value) String() string {
	if v.kind == KindNull {
		return "<null>"
	}
	s, _ := v.AsText()
	return s
}

// ── Coercions ──────────────────────────────────────────────
// All coercions are total: ok == false is the "coercion failed" marker
// and the caller decides what that means (exclude, drop, skip).

// AsNumber coerces to float64. Text is trimmed and parsed; bools map to 1/0.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindText:
		s := strings.TrimSpace(v.s)
		if s == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(s)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsDate coerces to a time.Time. Only dates and parseable text succeed;
// numbers are not treated as epoch offsets.
func (v Value) AsDate() (time.Time, bool) {
	switch v.kind {
	case KindDate:
		return v.t, true
	case KindText:
		s := strings.TrimSpace(v.s)
		if s == "" {
			return time.Time{}, false
		}
		t, err := cast.ToTimeInDefaultLocationE(s, time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return wallClock(t), true
	default:
		return time.Time{}, false
	}
}

// AsText renders the value as a string. Null renders as "" with ok == false.
func (v Value) AsText() (string, bool) {
	switch v.kind {
	case KindText:
		return v.s, true
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64), true
	case KindBool:
		if v.b {
			return "True", true
		}
		return "False", true
	case KindDate:
		return v.t.Format("2006-01-02 15:04:05"), true
	default:
		return "", false
	}
}

// Truthy reports the boolean interpretation used when a column is cast to boolean.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindText:
		return v.s != ""
	case KindDate:
		return !v.t.IsZero()
	default:
		return false
	}
}

// ── Comparison ─────────────────────────────────────────────

// Equal compares two values directly. Numbers and bools compare numerically,
// text compares exactly, dates compare by instant. Null equals nothing.
func Equal(a, b Value) bool {
	if a.kind == KindNull || b.kind == KindNull {
		return false
	}
	if isNumeric(a) && isNumeric(b) {
		x, _ := a.AsNumber()
		y, _ := b.AsNumber()
		return x == y
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindText:
		return a.s == b.s
	case KindDate:
		return a.t.Equal(b.t)
	}
	return false
}

// Compare orders two non-null values of compatible kinds.
// ok is false when either side is null or the kinds cannot be ordered.
func Compare(a, b Value) (c int, ok bool) {
	if a.kind == KindNull || b.kind == KindNull {
		return 0, false
	}
	if isNumeric(a) && isNumeric(b) {
		x, _ := a.AsNumber()
		y, _ := b.AsNumber()
		return cmpFloat(x, y), true
	}
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindText:
		return strings.Compare(a.s, b.s), true
	case KindDate:
		return a.t.Compare(b.t), true
	}
	return 0, false
}

func isNumeric(v Value) bool { return v.kind == KindNumber || v.kind == KindBool }

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// InferCell turns a raw textual cell into a Value: empty → Null,
// numeric → Number, true/false → Bool, anything else → Text.
func InferCell(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Number(f)
	}
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return Text(s)
}
