package gridbase

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Ref points at a location in the database. Navigation never touches storage.
type Ref struct {
	db   *DB
	path Path
}

// Path returns a copy of the ref's segments.
func (r *Ref) Path() Path {
	return append(Path{}, r.path...)
}

func (r *Ref) String() string {
	return r.path.String()
}

// Root returns a ref to the database root.
func (r *Ref) Root() *Ref {
	return &Ref{db: r.db, path: Path{}}
}

// Parent returns the enclosing ref. The root is its own parent.
func (r *Ref) Parent() *Ref {
	return &Ref{db: r.db, path: r.path.Parent()}
}

// Child returns a ref below this one.
func (r *Ref) Child(subpath string) *Ref {
	return &Ref{db: r.db, path: r.path.Child(subpath)}
}

// Key returns a fresh document key.
func (r *Ref) Key() string {
	return r.db.keys.Next()
}

// ToObject returns the value at the ref: the whole database as
// collection → key → document, a collection as key → document, a document,
// or a nested value. Unresolvable paths yield nil.
func (r *Ref) ToObject(ctx context.Context) (interface{}, error) {
	value, _, err := r.read(ctx)
	return value, err
}

// ToArray returns the entries of ToObject, each tagged with its key under
// "$key". The root lists collections in sheet order, a collection keeps row
// order. Non-object entries become {"$key": key, "value": entry}.
func (r *Ref) ToArray(ctx context.Context) ([]Document, error) {
	value, keys, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := value.(map[string]interface{})
	if !ok {
		return []Document{}, nil
	}
	if keys == nil {
		keys = sortedKeys(m)
	}

	out := make([]Document, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			entry := copyMap(v)
			entry[DefaultKeyField] = k
			out = append(out, entry)
		default:
			out = append(out, Document{DefaultKeyField: k, "value": v})
		}
	}
	return out, nil
}

// read runs the read checkpoint and resolves the value. Rules see the value
// as data; it is loaded once whether or not they look at it.
func (r *Ref) read(ctx context.Context) (interface{}, []string, error) {
	var (
		value   interface{}
		keys    []string
		loadErr error
	)
	data := LazySnapshot(func() interface{} {
		value, keys, loadErr = r.value(ctx)
		return value
	})
	if err := r.db.security.Check(r.db.access, Checkpoint{
		Permission: PermissionRead,
		Path:       r.path,
		Data:       data,
	}); err != nil {
		return nil, nil, err
	}
	data.Val()
	if loadErr != nil {
		return nil, nil, loadErr
	}
	return value, keys, nil
}

// value resolves the ref against the cache. keys is the row order of a
// collection level value.
func (r *Ref) value(ctx context.Context) (interface{}, []string, error) {
	if r.path.Depth() == DepthRoot {
		names, err := r.visibleSheets(ctx)
		if err != nil {
			return nil, nil, err
		}
		root := make(map[string]interface{}, len(names))
		for _, name := range names {
			docs, _, err := r.collectionValue(ctx, name)
			if err != nil {
				return nil, nil, err
			}
			root[name] = docs
		}
		return root, names, nil
	}

	docs, keys, err := r.collectionValue(ctx, r.path.Collection())
	if err != nil {
		return nil, nil, err
	}
	var current interface{} = docs
	for _, seg := range r.path[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, nil, nil
		}
		if current, ok = m[seg]; !ok {
			return nil, nil, nil
		}
	}
	if r.path.Depth() == DepthCollection {
		return current, keys, nil
	}
	return current, nil, nil
}

// collectionValue copies a collection into key → document. Private keys are
// hidden from callers without bypass.
func (r *Ref) collectionValue(ctx context.Context, name string) (map[string]interface{}, []string, error) {
	hidePrivate := !r.db.security.Bypass(r.db.access)
	docs := make(map[string]interface{})
	var keys []string
	err := r.db.cache.read(ctx, name, func(col *collection) {
		for _, k := range col.keys() {
			if hidePrivate && IsPrivateName(k) {
				continue
			}
			rec, _ := col.lookup(k)
			docs[k] = copyMap(rec.doc)
			keys = append(keys, k)
		}
	})
	return docs, keys, err
}

func (r *Ref) visibleSheets(ctx context.Context) ([]string, error) {
	return r.db.SheetNames(ctx)
}

// Query returns the documents of a collection ref that pass segment and
// filter, in row order. Documents the caller may not read are left out.
func (r *Ref) Query(ctx context.Context, filter interface{}, segment Segment) ([]Document, error) {
	if r.path.Depth() != DepthCollection {
		return nil, depthError("query", r.path, "collection")
	}
	match, err := CompileFilter(filter)
	if err != nil {
		return nil, err
	}

	name := r.path.Collection()
	var candidates []Document
	err = r.db.cache.read(ctx, name, func(col *collection) {
		for _, k := range col.keys() {
			rec, _ := col.lookup(k)
			candidates = append(candidates, copyMap(rec.doc))
		}
	})
	if err != nil {
		return nil, err
	}

	result := make([]Document, 0)
	for _, doc := range candidates {
		if !segment.Match(doc) || !match(doc) {
			continue
		}
		key, _ := doc[DefaultKeyField].(string)
		if err := r.db.security.Check(r.db.access, Checkpoint{
			Permission: PermissionRead,
			Path:       r.path.Child(key),
			Data:       NewSnapshot(doc),
		}); err != nil {
			continue
		}
		result = append(result, doc)
	}
	return result, nil
}

// Set replaces the document at the ref, keeping its key and ordinal. On a
// collection ref it creates a document under a generated key. Nil data
// removes the document.
func (r *Ref) Set(ctx context.Context, data Document) (Document, error) {
	return r.write(ctx, "set", data, true)
}

// Update merges data into the document at the ref. Fields set to nil are
// removed. On a collection ref it creates a document under a generated key.
// Nil data removes the document.
func (r *Ref) Update(ctx context.Context, data Document) (Document, error) {
	return r.write(ctx, "update", data, false)
}

// Remove deletes the document at the ref.
func (r *Ref) Remove(ctx context.Context) error {
	if r.path.Depth() != DepthDocument {
		return depthError("remove", r.path, "document")
	}
	_, err := r.write(ctx, "remove", nil, false)
	return err
}

func (r *Ref) write(ctx context.Context, op string, data Document, clean bool) (Document, error) {
	if d := r.path.Depth(); d != DepthCollection && d != DepthDocument {
		return nil, depthError(op, r.path, "collection or document")
	}
	release, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.writeLocked(ctx, op, data, clean)
}

func (r *Ref) lock(ctx context.Context) (func(), error) {
	start := time.Now()
	release, err := r.db.opts.Locker.Lock(ctx, "gridbase:"+r.path.Collection())
	r.db.metrics.Timing(MetricLockWaitTime, time.Since(start))
	if err != nil {
		r.db.logger.Warn("failed to lock collection", "collection", r.path.Collection(), "error", err)
		return nil, err
	}
	return release, nil
}

type writeAction int

const (
	actionNone writeAction = iota
	actionRemove
	actionUpdate
	actionNew
)

// writeLocked runs with the collection lock held.
func (r *Ref) writeLocked(ctx context.Context, op string, data Document, clean bool) (Document, error) {
	name := r.path.Collection()
	col, err := r.db.cache.get(ctx, name, r.db.opts.FreshWrites)
	if err != nil {
		return nil, err
	}

	key := r.path.Key()
	if key == "" {
		key = r.db.keys.Next()
	}
	input := normalizeMap(data)

	var (
		existing Document
		row      int
		header   []string
		ordinal  float64
		keyField string
	)
	r.db.cache.mu.RLock()
	if rec, ok := col.lookup(key); ok {
		existing = copyMap(rec.doc)
		row = rec.row
	}
	header = append([]string(nil), col.header...)
	ordinal = col.nextOrdinal()
	keyField = col.keyField
	r.db.cache.mu.RUnlock()

	action := actionNone
	switch {
	case data == nil && existing != nil:
		action = actionRemove
	case data != nil && existing != nil:
		action = actionUpdate
	case data != nil:
		action = actionNew
	}

	var item Document
	switch action {
	case actionUpdate:
		if clean {
			item = copyMap(input)
		} else {
			item = copyMap(existing)
			for k, v := range input {
				item[k] = v
			}
		}
		item[OrdinalField] = existing[OrdinalField]
		item[keyField] = key
		item[DefaultKeyField] = key
	case actionNew:
		item = copyMap(input)
		item[OrdinalField] = ordinal
		item[keyField] = key
		item[DefaultKeyField] = key
	}
	for k, v := range item {
		if v == nil {
			delete(item, k)
		}
	}

	docPath := Path{name, key}
	cp := Checkpoint{
		Permission: PermissionWrite,
		Path:       docPath,
		Data:       NewSnapshot(existing),
		NewData:    NewSnapshot(item),
	}
	if data != nil {
		cp.InputData = input
	}
	if err := r.db.security.Check(r.db.access, cp); err != nil {
		r.db.logger.Warn("write denied", "path", docPath.String(), "operation", op, "error", err)
		return nil, err
	}
	if action == actionNone {
		return nil, nil
	}

	labels := []string{"operation", op, "sheet", name}
	start := time.Now()
	defer func() {
		r.db.metrics.Timing(MetricGridLatency, time.Since(start), labels...)
	}()
	r.db.metrics.Increment(MetricGridOps, labels...)

	fail := func(err error) (Document, error) {
		r.db.metrics.Increment(MetricGridErrors, labels...)
		r.db.metrics.Increment(MetricWriteError)
		r.db.logger.Error("write failed", "path", docPath.String(), "operation", op, "error", err)
		return nil, err
	}

	if action == actionRemove {
		if err := r.db.grid.DeleteRow(ctx, name, row); err != nil {
			return fail(err)
		}
		r.db.cache.apply(name, col, func(col *collection) { col.remove(row) })
		r.db.metrics.Increment(MetricWriteSuccess)
		r.db.logger.Info("document removed", "path", docPath.String(), "row", row)
		return nil, nil
	}

	newHeader, headerChanged := headerFor(header, keyField, item)
	if headerChanged {
		if err := r.db.grid.SetRow(ctx, name, 1, newHeader); err != nil {
			return fail(err)
		}
		r.db.cache.apply(name, col, func(col *collection) { col.header = newHeader })
	}
	cells, err := encodeRow(newHeader, item)
	if err != nil {
		return fail(err)
	}

	if action == actionUpdate {
		if err := r.db.grid.SetRow(ctx, name, row, cells); err != nil {
			return fail(err)
		}
	} else {
		if row, err = r.db.grid.AppendRow(ctx, name, cells); err != nil {
			return fail(err)
		}
	}

	stored := copyMap(item)
	r.db.cache.apply(name, col, func(col *collection) {
		col.put(&record{key: key, doc: stored, row: row})
	})
	r.db.metrics.Increment(MetricWriteSuccess)
	r.db.logger.Info("document written", "path", docPath.String(), "operation", op, "row", row, "new", action == actionNew)
	return copyMap(item), nil
}

// Increase adds to numeric fields of the document at the ref. by is a field
// path, a list of field paths (each increased by 1) or a map of field path to
// delta. Paths reach one level down ("stats/views"). Only absent, falsy or
// numeric targets change; other fields are left alone.
func (r *Ref) Increase(ctx context.Context, by interface{}) (Document, error) {
	if r.path.Depth() != DepthDocument {
		return nil, depthError("increase", r.path, "document")
	}
	deltas, err := increaseDeltas(by)
	if err != nil {
		return nil, err
	}

	release, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	col, err := r.db.cache.get(ctx, r.path.Collection(), r.db.opts.FreshWrites)
	if err != nil {
		return nil, err
	}
	item := Document{}
	r.db.cache.mu.RLock()
	if rec, ok := col.lookup(r.path.Key()); ok {
		item = copyMap(rec.doc)
	}
	r.db.cache.mu.RUnlock()

	changed := Document{}
	paths := make([]string, 0, len(deltas))
	for p := range deltas {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		delta := deltas[p]
		segments := splitSegments(p)
		if len(segments) == 0 || delta == 0 {
			continue
		}
		field := segments[0]

		if len(segments) == 1 {
			if next, ok := increased(item[field], delta); ok {
				item[field] = next
				changed[field] = next
			}
			continue
		}

		sub := segments[1]
		var child map[string]interface{}
		switch v := item[field].(type) {
		case map[string]interface{}:
			child = copyMap(v)
		default:
			if truthy(v) {
				continue
			}
			child = map[string]interface{}{}
		}
		if next, ok := increased(child[sub], delta); ok {
			child[sub] = next
			item[field] = child
			changed[field] = child
		}
	}

	return r.writeLocked(ctx, "increase", changed, false)
}

func increased(current interface{}, delta float64) (float64, bool) {
	switch v := current.(type) {
	case float64:
		return v + delta, true
	default:
		if truthy(v) {
			return 0, false
		}
		return delta, true
	}
}

func increaseDeltas(by interface{}) (map[string]float64, error) {
	deltas := make(map[string]float64)
	switch s := by.(type) {
	case string:
		deltas[s] = 1
	case []string:
		for _, p := range s {
			deltas[p] = 1
		}
	case []interface{}:
		for _, p := range s {
			deltas[cast.ToString(p)] = 1
		}
	case map[string]float64:
		for p, d := range s {
			deltas[p] = d
		}
	case map[string]int:
		for p, d := range s {
			deltas[p] = float64(d)
		}
	case map[string]interface{}:
		for p, d := range s {
			f, err := cast.ToFloat64E(d)
			if err != nil {
				return nil, WithContext(ErrInvalidData, map[string]interface{}{
					"field":  p,
					"reason": "increment must be numeric",
				})
			}
			deltas[p] = f
		}
	default:
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "increase takes a path, a list of paths or a map of path to delta",
		})
	}
	for p := range deltas {
		if strings.TrimSpace(p) == "" {
			delete(deltas, p)
		}
	}
	return deltas, nil
}
