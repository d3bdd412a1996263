package gridbase

import (
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Path is an ordered list of segments: [] is the root, [collection] a
// collection, [collection, key] a document, anything deeper a nested value.
// Methods never modify the receiver.
type Path []string

// Path depths
const (
	DepthRoot       = 0
	DepthCollection = 1
	DepthDocument   = 2
)

// ParsePath splits s on "/" and drops empty segments.
func ParsePath(s string) Path {
	return splitSegments(s)
}

func splitSegments(s string) []string {
	parts := strings.Split(s, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Child returns p extended with the segments of subpath.
func (p Path) Child(subpath string) Path {
	segments := splitSegments(subpath)
	out := make(Path, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

// Parent drops the last segment. The root is its own parent.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return append(Path{}, p[:len(p)-1]...)
}

// Depth is the number of segments.
func (p Path) Depth() int {
	return len(p)
}

// Collection returns the first segment or "".
func (p Path) Collection() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Key returns the second segment or "".
func (p Path) Key() string {
	if len(p) < 2 {
		return ""
	}
	return p[1]
}

// Last returns the final segment or "".
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// String renders the path with a leading slash.
func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// fieldPath locates a value inside a document. Plain paths use "/" between
// levels ("address/city"); paths starting with "$." or "$[" are JSONPath.
type fieldPath struct {
	raw      string
	segments []string
	expr     jp.Expr
}

func compileFieldPath(raw string) (fieldPath, error) {
	fp := fieldPath{raw: raw}
	if strings.HasPrefix(raw, "$.") || strings.HasPrefix(raw, "$[") {
		expr, err := jp.ParseString(raw)
		if err != nil {
			return fp, WithContext(ErrInvalidQuery, map[string]interface{}{
				"field":  raw,
				"reason": err.Error(),
			})
		}
		fp.expr = expr
		return fp, nil
	}
	fp.segments = splitSegments(raw)
	if len(fp.segments) == 0 {
		return fp, WithContext(ErrInvalidQuery, map[string]interface{}{
			"field":  raw,
			"reason": "empty field path",
		})
	}
	return fp, nil
}

// lookup returns the value at the path and whether it is present.
func (fp fieldPath) lookup(doc map[string]interface{}) (interface{}, bool) {
	if fp.expr != nil {
		results := fp.expr.Get(doc)
		if len(results) == 0 {
			return nil, false
		}
		return results[0], true
	}

	var current interface{} = doc
	for _, seg := range fp.segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
