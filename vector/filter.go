package vector

import "strings"

// ConditionOp names a metadata filter's comparison operator.
type ConditionOp int

const (
	OpEq ConditionOp = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNotIn
	OpContains
	OpStartsWith
	OpEndsWith
)

// Condition is one field's filter predicate: an operator plus the operand
// value(s) it compares against.
type Condition struct {
	Op       ConditionOp
	Value    interface{}
	Values   []interface{} // used by OpIn / OpNotIn
	Text     string        // used by OpContains / OpStartsWith / OpEndsWith
}

// Matches reports whether actual (the field's value in a document's
// metadata, or nil if the field is absent) satisfies this condition. A
// missing field fails every operator: a document missing the filtered
// field never matches a field-level condition. This is distinct from
// Collection.SearchFiltered's higher-level "no metadata at all"
// allowance, which is checked before any condition runs.
func (c Condition) Matches(actual interface{}) bool {
	if actual == nil {
		return false
	}
	switch c.Op {
	case OpEq:
		return compareEqual(actual, c.Value)
	case OpNe:
		return !compareEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareOrdered(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		for _, v := range c.Values {
			if compareEqual(actual, v) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, v := range c.Values {
			if compareEqual(actual, v) {
				return false
			}
		}
		return true
	case OpContains:
		s, ok := actual.(string)
		return ok && strings.Contains(s, c.Text)
	case OpStartsWith:
		s, ok := actual.(string)
		return ok && strings.HasPrefix(s, c.Text)
	case OpEndsWith:
		s, ok := actual.(string)
		return ok && strings.HasSuffix(s, c.Text)
	default:
		return false
	}
}

func compareEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}

// compareOrdered compares numbers and strings only; any other type pairing
// fails the comparison (returns ok=false) rather than erroring.
func compareOrdered(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Filter is a predicate over a document's metadata, ANDing one Condition
// per named field.
type Filter struct {
	Conditions map[string]Condition
}

// NewFilter returns an empty filter (matches everything).
func NewFilter() *Filter {
	return &Filter{Conditions: make(map[string]Condition)}
}

func (f *Filter) with(field string, c Condition) *Filter {
	f.Conditions[field] = c
	return f
}

// Eq adds an equality condition on field.
func (f *Filter) Eq(field string, v interface{}) *Filter { return f.with(field, Condition{Op: OpEq, Value: v}) }

// Ne adds an inequality condition on field.
func (f *Filter) Ne(field string, v interface{}) *Filter { return f.with(field, Condition{Op: OpNe, Value: v}) }

// Gt adds a greater-than condition on field.
func (f *Filter) Gt(field string, v interface{}) *Filter { return f.with(field, Condition{Op: OpGt, Value: v}) }

// Gte adds a greater-or-equal condition on field.
func (f *Filter) Gte(field string, v interface{}) *Filter {
	return f.with(field, Condition{Op: OpGte, Value: v})
}

// Lt adds a less-than condition on field.
func (f *Filter) Lt(field string, v interface{}) *Filter { return f.with(field, Condition{Op: OpLt, Value: v}) }

// Lte adds a less-or-equal condition on field.
func (f *Filter) Lte(field string, v interface{}) *Filter {
	return f.with(field, Condition{Op: OpLte, Value: v})
}

// In adds a set-membership condition on field.
func (f *Filter) In(field string, values ...interface{}) *Filter {
	return f.with(field, Condition{Op: OpIn, Values: values})
}

// NotIn adds a set-exclusion condition on field.
func (f *Filter) NotIn(field string, values ...interface{}) *Filter {
	return f.with(field, Condition{Op: OpNotIn, Values: values})
}

// Contains adds a substring condition on field.
func (f *Filter) Contains(field, substr string) *Filter {
	return f.with(field, Condition{Op: OpContains, Text: substr})
}

// StartsWith adds a prefix condition on field.
func (f *Filter) StartsWith(field, prefix string) *Filter {
	return f.with(field, Condition{Op: OpStartsWith, Text: prefix})
}

// EndsWith adds a suffix condition on field.
func (f *Filter) EndsWith(field, suffix string) *Filter {
	return f.with(field, Condition{Op: OpEndsWith, Text: suffix})
}

// Matches applies every field condition to metadata, ANDing the results.
func (f *Filter) Matches(metadata map[string]interface{}) bool {
	for field, cond := range f.Conditions {
		var actual interface{}
		if metadata != nil {
			actual = metadata[field]
		}
		if !cond.Matches(actual) {
			return false
		}
	}
	return true
}
