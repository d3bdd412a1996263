package gridbase

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// Predicate reports whether a document matches.
type Predicate func(doc Document) bool

// Query is a single-field test. Exactly one operator must be set.
type Query struct {
	Where string `json:"where" yaml:"where"`

	Equal       interface{} `json:"equal,omitempty" yaml:"equal,omitempty"`
	Exists      *bool       `json:"exists,omitempty" yaml:"exists,omitempty"`
	Contains    string      `json:"contains,omitempty" yaml:"contains,omitempty"`
	Lt          *float64    `json:"lt,omitempty" yaml:"lt,omitempty"`
	Lte         *float64    `json:"lte,omitempty" yaml:"lte,omitempty"`
	Gt          *float64    `json:"gt,omitempty" yaml:"gt,omitempty"`
	Gte         *float64    `json:"gte,omitempty" yaml:"gte,omitempty"`
	ChildExists string      `json:"childExists,omitempty" yaml:"childExists,omitempty"`
	ChildEqual  string      `json:"childEqual,omitempty" yaml:"childEqual,omitempty"`
}

// MultiQuery combines queries as (all of And) OR (any of Or).
type MultiQuery struct {
	And []Query `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []Query `json:"or,omitempty" yaml:"or,omitempty"`
}

// Segment is a cheap equality pre-filter: a field the document has must
// equal the segment's value; fields the document lacks (or holds a falsy
// value for) are ignored.
type Segment map[string]interface{}

// Shorthand builds {where: field, equal: value}.
func Shorthand(field string, value interface{}) Query {
	return Query{Where: field, Equal: value}
}

func (q Query) operatorCount() int {
	n := 0
	if q.Equal != nil {
		n++
	}
	if q.Exists != nil {
		n++
	}
	if q.Contains != "" {
		n++
	}
	for _, p := range []*float64{q.Lt, q.Lte, q.Gt, q.Gte} {
		if p != nil {
			n++
		}
	}
	if q.ChildExists != "" {
		n++
	}
	if q.ChildEqual != "" {
		n++
	}
	return n
}

// Compile turns the query into a predicate.
func (q Query) Compile() (Predicate, error) {
	if q.Where == "" {
		return nil, WithContext(ErrInvalidQuery, map[string]interface{}{"reason": "where is required"})
	}
	if n := q.operatorCount(); n != 1 {
		return nil, WithContext(ErrInvalidQuery, map[string]interface{}{
			"where":     q.Where,
			"operators": n,
			"reason":    "exactly one operator is required",
		})
	}
	field, err := compileFieldPath(q.Where)
	if err != nil {
		return nil, err
	}

	switch {
	case q.Equal != nil:
		want := normalizeValue(q.Equal)
		return func(doc Document) bool {
			v, ok := field.lookup(doc)
			return ok && valuesEqual(v, want)
		}, nil

	case q.Exists != nil:
		want := *q.Exists
		return func(doc Document) bool {
			v, _ := field.lookup(doc)
			return truthy(v) == want
		}, nil

	case q.Contains != "":
		return func(doc Document) bool {
			s, ok := lookupString(field, doc)
			return ok && strings.Contains(s, q.Contains)
		}, nil

	case q.Lt != nil:
		return numericTest(field, func(v float64) bool { return v < *q.Lt }), nil
	case q.Lte != nil:
		return numericTest(field, func(v float64) bool { return v <= *q.Lte }), nil
	case q.Gt != nil:
		return numericTest(field, func(v float64) bool { return v > *q.Gt }), nil
	case q.Gte != nil:
		return numericTest(field, func(v float64) bool { return v >= *q.Gte }), nil

	case q.ChildExists != "":
		return childExists(field, q.ChildExists), nil

	default:
		return childEqual(field, q.ChildEqual), nil
	}
}

func lookupString(field fieldPath, doc Document) (string, bool) {
	v, _ := field.lookup(doc)
	s, ok := v.(string)
	return s, ok
}

func numericTest(field fieldPath, test func(float64) bool) Predicate {
	return func(doc Document) bool {
		v, _ := field.lookup(doc)
		f, ok := v.(float64)
		return ok && test(f)
	}
}

// childExists checks array membership or object key presence. A leading "!"
// negates; a missing field then counts as "not exists".
func childExists(field fieldPath, cond string) Predicate {
	negate := strings.HasPrefix(cond, "!")
	child := strings.TrimPrefix(cond, "!")

	return func(doc Document) bool {
		v, _ := field.lookup(doc)
		if !truthy(v) {
			return negate
		}
		switch container := v.(type) {
		case []interface{}:
			found := false
			for _, item := range container {
				if s, ok := item.(string); ok && s == child {
					found = true
					break
				}
			}
			return found != negate
		case map[string]interface{}:
			return truthy(container[child]) != negate
		}
		return false
	}
}

// childEqual tests "key=value" or "key!=value" on an object field. Values that
// parse as numbers compare as numbers.
func childEqual(field fieldPath, cond string) Predicate {
	notEqual := strings.Contains(cond, "!=")
	sep := "="
	if notEqual {
		sep = "!="
	}
	parts := strings.SplitN(cond, sep, 2)
	key := parts[0]
	var want interface{} = ""
	if len(parts) == 2 {
		want = parts[1]
	}
	if f, err := cast.ToFloat64E(want); err == nil {
		want = f
	}

	return func(doc Document) bool {
		v, _ := field.lookup(doc)
		if !truthy(v) {
			return notEqual
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		child := obj[key]
		if notEqual {
			return !truthy(child) || !valuesEqual(child, want)
		}
		return truthy(child) && valuesEqual(child, want)
	}
}

// Compile turns the multi query into a predicate. One entry in total
// degenerates to that entry's predicate.
func (m MultiQuery) Compile() (Predicate, error) {
	if len(m.And)+len(m.Or) == 0 {
		return nil, WithContext(ErrInvalidQuery, map[string]interface{}{"reason": "and/or lists are empty"})
	}

	and, err := compileAll(m.And)
	if err != nil {
		return nil, err
	}
	or, err := compileAll(m.Or)
	if err != nil {
		return nil, err
	}

	if len(and)+len(or) == 1 {
		if len(and) == 1 {
			return and[0], nil
		}
		return or[0], nil
	}

	return func(doc Document) bool {
		if len(and) > 0 {
			all := true
			for _, p := range and {
				if !p(doc) {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
		for _, p := range or {
			if p(doc) {
				return true
			}
		}
		return false
	}, nil
}

func compileAll(queries []Query) ([]Predicate, error) {
	out := make([]Predicate, 0, len(queries))
	for _, q := range queries {
		p, err := q.Compile()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Match applies the segment to a document. An empty segment matches everything.
func (s Segment) Match(doc Document) bool {
	for field, want := range s {
		v := doc[field]
		if truthy(v) && !valuesEqual(v, normalizeValue(want)) {
			return false
		}
	}
	return true
}

// CompileFilter accepts any supported filter description:
//   - nil: match everything
//   - Predicate or func(Document) bool
//   - Query, *Query, MultiQuery, *MultiQuery
//   - map[string]interface{}: {"and": [...], "or": [...]}, {"where": ..., op: ...}
//     or the shorthand {field: value}
func CompileFilter(filter interface{}) (Predicate, error) {
	switch f := filter.(type) {
	case nil:
		return matchAll, nil
	case Predicate:
		return f, nil
	case func(Document) bool:
		return f, nil
	case Query:
		return f.Compile()
	case *Query:
		return f.Compile()
	case MultiQuery:
		return f.Compile()
	case *MultiQuery:
		return f.Compile()
	case map[string]interface{}:
		return compileFilterMap(f)
	default:
		return nil, WithContext(ErrInvalidQuery, map[string]interface{}{
			"type":   reflect.TypeOf(filter).String(),
			"reason": "unsupported filter",
		})
	}
}

func matchAll(Document) bool { return true }

func compileFilterMap(m map[string]interface{}) (Predicate, error) {
	if len(m) == 0 {
		return matchAll, nil
	}

	_, hasAnd := m["and"]
	_, hasOr := m["or"]
	if hasAnd || hasOr {
		var multi MultiQuery
		if err := decodeInto(m, &multi); err != nil {
			return nil, err
		}
		return multi.Compile()
	}

	if _, ok := m["where"]; ok {
		var q Query
		if err := decodeInto(m, &q); err != nil {
			return nil, err
		}
		return q.Compile()
	}

	if len(m) != 1 {
		return nil, WithContext(ErrInvalidQuery, map[string]interface{}{
			"reason": "shorthand query takes exactly one field",
			"fields": sortedKeys(m),
		})
	}
	for field, value := range m {
		return Shorthand(field, value).Compile()
	}
	return matchAll, nil
}

// decodeInto maps a generic description onto a typed query through JSON.
func decodeInto(m map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return WithContext(ErrInvalidQuery, map[string]interface{}{"reason": err.Error()})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return WithContext(ErrInvalidQuery, map[string]interface{}{"reason": err.Error()})
	}
	return nil
}

// valuesEqual compares normalized values; numbers compare numerically.
func valuesEqual(a, b interface{}) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return reflect.DeepEqual(a, b)
	}
}

// Float returns a pointer for the numeric query operators.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer for Query.Exists.
func Bool(v bool) *bool { return &v }
