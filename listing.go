package gridbase

import (
	"fmt"
	"sort"
	"strings"
)

// Listing orders and pages query results.
//
// OrderBy defaults to the ordinal field when only Order is given. Order holds
// "asc" or "desc" per OrderBy entry; missing entries are ascending.
// A positive Limit keeps the first N documents, a negative one the last N.
// A positive Offset skips N from the start, a negative one drops N from the end.
// Offset applies before Limit.
type Listing struct {
	OrderBy []string `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	Order   []string `json:"order,omitempty" yaml:"order,omitempty"`
	Limit   int      `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// IsZero reports whether the listing changes nothing.
func (l Listing) IsZero() bool {
	return len(l.OrderBy) == 0 && len(l.Order) == 0 && l.Limit == 0 && l.Offset == 0
}

type sortKey struct {
	field fieldPath
	desc  bool
}

func (l Listing) sortKeys() ([]sortKey, error) {
	orderBy := l.OrderBy
	if len(orderBy) == 0 && len(l.Order) > 0 {
		orderBy = []string{OrdinalField}
	}

	keys := make([]sortKey, 0, len(orderBy))
	for i, raw := range orderBy {
		field, err := compileFieldPath(raw)
		if err != nil {
			return nil, err
		}
		desc := false
		if i < len(l.Order) {
			switch strings.ToLower(l.Order[i]) {
			case "desc":
				desc = true
			case "asc", "":
			default:
				return nil, WithContext(ErrInvalidQuery, map[string]interface{}{
					"order":  l.Order[i],
					"reason": "order must be asc or desc",
				})
			}
		}
		keys = append(keys, sortKey{field: field, desc: desc})
	}
	return keys, nil
}

// Apply sorts and pages docs. The input slice is reordered in place.
func (l Listing) Apply(docs []Document) ([]Document, error) {
	keys, err := l.sortKeys()
	if err != nil {
		return nil, err
	}

	if len(keys) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, k := range keys {
				a, okA := k.field.lookup(docs[i])
				b, okB := k.field.lookup(docs[j])

				var cmp int
				switch {
				case !okA && !okB:
					continue
				case !okA:
					cmp = -1
				case !okB:
					cmp = 1
				default:
					cmp = compareValues(a, b)
				}
				if cmp == 0 {
					continue
				}
				if k.desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	docs = applyOffset(docs, l.Offset)
	return applyLimit(docs, l.Limit), nil
}

func applyOffset(docs []Document, offset int) []Document {
	switch {
	case offset > 0:
		if offset >= len(docs) {
			return docs[:0]
		}
		return docs[offset:]
	case offset < 0:
		if -offset >= len(docs) {
			return docs[:0]
		}
		return docs[:len(docs)+offset]
	}
	return docs
}

func applyLimit(docs []Document, limit int) []Document {
	switch {
	case limit > 0:
		if limit < len(docs) {
			return docs[:limit]
		}
	case limit < 0:
		if -limit < len(docs) {
			return docs[len(docs)+limit:]
		}
	}
	return docs
}

// compareValues returns -1, 0 or 1. Numbers compare numerically, everything
// else by its printed form.
func compareValues(a, b interface{}) int {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}
