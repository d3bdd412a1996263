package gridbase

// Helper is a user supplied function callable from rule expressions, either
// as a method on a snapshot (data.isOwner()) where snap is the receiver, or at
// top level (isOwner(x)) where snap is nil.
type Helper func(snap *Snapshot, args ...interface{}) (interface{}, error)

// Snapshot is a read-only view of a value handed to rule expressions as
// data, newData and inputData. The value is resolved on first use.
type Snapshot struct {
	value  interface{}
	load   func() interface{}
	loaded bool
}

// NewSnapshot wraps an already known value.
func NewSnapshot(value interface{}) *Snapshot {
	return &Snapshot{value: snapshotValue(value), loaded: true}
}

// LazySnapshot defers load until the expression reads the value.
func LazySnapshot(load func() interface{}) *Snapshot {
	return &Snapshot{load: load}
}

// Val returns the wrapped value.
func (s *Snapshot) Val() interface{} {
	if s == nil {
		return nil
	}
	if !s.loaded {
		if s.load != nil {
			s.value = snapshotValue(s.load())
		}
		s.loaded = true
	}
	return s.value
}

// snapshotValue normalizes v; a nil map reads as null.
func snapshotValue(v interface{}) interface{} {
	v = normalizeValue(v)
	if m, ok := v.(map[string]interface{}); ok && m == nil {
		return nil
	}
	return v
}

// Only reports whether the value is an object holding no keys besides props.
// With no props it is always true.
func (s *Snapshot) Only(props ...string) bool {
	if len(props) == 0 {
		return true
	}
	obj, ok := s.Val().(map[string]interface{})
	if !ok {
		return false
	}
	allowed := make(map[string]bool, len(props))
	for _, p := range props {
		allowed[p] = true
	}
	for k := range obj {
		if !allowed[k] {
			return false
		}
	}
	return true
}

// Exists reports whether the value is an object with a truthy prop.
func (s *Snapshot) Exists(prop string) bool {
	if prop == "" {
		return false
	}
	obj, ok := s.Val().(map[string]interface{})
	return ok && truthy(obj[prop])
}

// NotExists is true for an empty prop, or when the value is an object whose
// prop is falsy.
func (s *Snapshot) NotExists(prop string) bool {
	if prop == "" {
		return true
	}
	obj, ok := s.Val().(map[string]interface{})
	return ok && !truthy(obj[prop])
}

// Child returns a snapshot of the nested value at a "/" separated path.
func (s *Snapshot) Child(path string) *Snapshot {
	var current interface{} = s.Val()
	for _, seg := range splitSegments(path) {
		m, ok := current.(map[string]interface{})
		if !ok {
			return NewSnapshot(nil)
		}
		current = m[seg]
	}
	return &Snapshot{value: current, loaded: true}
}

// method exposes the snapshot API to expressions.
func (s *Snapshot) method(name string) callable {
	switch name {
	case "val":
		return func([]interface{}) (interface{}, error) { return s.Val(), nil }
	case "only":
		return func(args []interface{}) (interface{}, error) {
			return s.Only(textArgs(args)...), nil
		}
	case "exists":
		return func(args []interface{}) (interface{}, error) {
			return s.Exists(firstText(args)), nil
		}
	case "notExists":
		return func(args []interface{}) (interface{}, error) {
			return s.NotExists(firstText(args)), nil
		}
	case "child":
		return func(args []interface{}) (interface{}, error) {
			return s.Child(firstText(args)), nil
		}
	}
	return nil
}

func textArgs(args []interface{}) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch v := unwrapSnapshot(a).(type) {
		case []interface{}:
			for _, item := range v {
				out = append(out, toText(item))
			}
		case nil:
		default:
			out = append(out, toText(v))
		}
	}
	return out
}

func firstText(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	v := unwrapSnapshot(args[0])
	if v == nil {
		return ""
	}
	return toText(v)
}
