package etl

// ── Aggregator ─────────────────────────────────────────────
// Groups rows by a key column and reduces each group to one scalar.

// NullGroupKey is the group key for rows whose key is null. It cannot
// collide with the normalized form of any non-null key.
const NullGroupKey = "\x00null"

// Aggregation maps normalized group keys to their reduced value.
type Aggregation struct {
	Kind   Kind
	Values map[string]Value
	Order  []string // group keys in first-seen order
}

// Len returns the number of groups.
func (a Aggregation) Len() int { return len(a.Values) }

// Get returns the value for a normalized key.
func (a Aggregation) Get(key string) (Value, bool) {
	v, ok := a.Values[key]
	return v, ok
}

func emptyAggregation(kind Kind) Aggregation {
	return Aggregation{Kind: kind, Values: map[string]Value{}}
}

// groupKey normalizes a key cell for grouping; nulls get their own group.
func groupKey(v Value) string {
	if v.IsNull() {
		return NullGroupKey
	}
	return v.Key()
}

// Aggregate groups t by groupColumn and reduces each group with kind.
// valueColumn is required for sum and ignored otherwise.
func Aggregate(t *Table, groupColumn string, kind Kind, valueColumn string) (Aggregation, []Diagnostic) {
	if t.Empty() {
		return emptyAggregation(kind), nil
	}
	keys, ok := t.Column(groupColumn)
	if !ok {
		return emptyAggregation(kind), []Diagnostic{
			errorf(ComponentAggregate, groupColumn, "foreign key column %q not found for aggregation", groupColumn),
		}
	}

	switch kind {
	case KindCount, KindExists:
		agg := emptyAggregation(kind)
		counts := make(map[string]int)
		for _, k := range keys {
			g := groupKey(k)
			if _, seen := counts[g]; !seen {
				agg.Order = append(agg.Order, g)
			}
			counts[g]++
		}
		for g, n := range counts {
			if kind == KindCount {
				agg.Values[g] = Int(int64(n))
			} else {
				agg.Values[g] = Bool(n > 0)
			}
		}
		return agg, nil

	case KindSum:
		if valueColumn == "" {
			return emptyAggregation(kind), []Diagnostic{
				errorf(ComponentAggregate, "", "'sum' aggregation requires an aggregation column"),
			}
		}
		vals, ok := t.Column(valueColumn)
		if !ok {
			return emptyAggregation(kind), []Diagnostic{
				warnf(ComponentAggregate, valueColumn, "aggregation column %q not found for 'sum', every group sums to 0", valueColumn),
			}
		}
		agg := emptyAggregation(kind)
		sums := make(map[string]float64)
		parsed := 0
		for i, k := range keys {
			g := groupKey(k)
			if _, seen := sums[g]; !seen {
				agg.Order = append(agg.Order, g)
				sums[g] = 0
			}
			// Non-numeric cells are excluded from the sum, not counted as zero.
			if n, ok := vals[i].AsNumber(); ok {
				sums[g] += n
				parsed++
			}
		}
		for g, s := range sums {
			agg.Values[g] = Number(s)
		}
		var diags []Diagnostic
		if parsed == 0 {
			diags = append(diags, warnf(ComponentAggregate, valueColumn,
				"column %q could not be converted to numeric for sum aggregation, every group sums to 0", valueColumn))
		}
		return agg, diags

	default:
		return emptyAggregation(kind), []Diagnostic{
			errorf(ComponentAggregate, "", "unsupported aggregation type %q", kind),
		}
	}
}
