package gridbase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Document is an open field map. Stored documents carry their key under
// DefaultKeyField and their ordinal under OrdinalField.
type Document = map[string]interface{}

// record is one physical data row. key is empty for rows without a key,
// which stay in place for row bookkeeping but are never exposed.
type record struct {
	key string
	doc Document
	row int
}

// collection is a fully materialized sheet.
type collection struct {
	name     string
	keyField string
	header   []string
	records  []*record
	index    map[string]*record
}

func (c *collection) lookup(key string) (*record, bool) {
	r, ok := c.index[key]
	return r, ok
}

// nextOrdinal is the last row's ordinal plus one, or 1.
func (c *collection) nextOrdinal() float64 {
	if len(c.records) == 0 {
		return 1
	}
	if f, ok := c.records[len(c.records)-1].doc[OrdinalField].(float64); ok {
		return f + 1
	}
	return 1
}

// keys returns document keys in row order.
func (c *collection) keys() []string {
	keys := make([]string, 0, len(c.index))
	for _, r := range c.records {
		if r.key != "" {
			keys = append(keys, r.key)
		}
	}
	return keys
}

func (c *collection) put(r *record) {
	if existing, ok := c.index[r.key]; ok {
		existing.doc = r.doc
		return
	}
	c.records = append(c.records, r)
	c.index[r.key] = r
}

// remove drops the record at row and moves later rows up.
func (c *collection) remove(row int) {
	for i, r := range c.records {
		if r.row != row {
			continue
		}
		if r.key != "" && c.index[r.key] == r {
			delete(c.index, r.key)
		}
		c.records = append(c.records[:i], c.records[i+1:]...)
		for _, later := range c.records[i:] {
			later.row--
		}
		return
	}
}

func materialize(sheet *Sheet, keyField string) *collection {
	c := &collection{
		name:     sheet.Name,
		keyField: keyField,
		header:   append([]string(nil), sheet.Header...),
		index:    make(map[string]*record),
	}
	keyColumn := -1
	for i, name := range c.header {
		if name == keyField {
			keyColumn = i
			break
		}
	}

	for _, row := range sheet.Rows {
		doc := decodeRow(c.header, row.Cells)
		// Keys come from the raw cell so "007" stays "007".
		key := ""
		if keyColumn >= 0 && keyColumn < len(row.Cells) {
			key = strings.TrimSpace(row.Cells[keyColumn])
		}
		r := &record{doc: doc, row: row.Number}
		if key != "" {
			doc[DefaultKeyField] = key
			if _, dup := c.index[key]; !dup {
				r.key = key
				c.index[key] = r
			}
		}
		c.records = append(c.records, r)
	}
	return c
}

func decodeRow(header, cells []string) Document {
	doc := make(Document, len(header))
	for i, name := range header {
		if name == "" || i >= len(cells) {
			continue
		}
		if v, ok := DecodeCell(cells[i]); ok {
			doc[name] = v
		}
	}
	return doc
}

// headerFor returns the header needed to store doc and whether it differs
// from current. A new sheet starts with the ordinal and key columns.
func headerFor(current []string, keyField string, doc Document) ([]string, bool) {
	header := append([]string(nil), current...)
	changed := false
	if len(header) == 0 {
		header = []string{OrdinalField, keyField}
		changed = true
	}

	known := make(map[string]bool, len(header))
	for _, name := range header {
		known[name] = true
	}
	var extra []string
	for name := range doc {
		if known[name] || (name == DefaultKeyField && keyField != DefaultKeyField) {
			continue
		}
		extra = append(extra, name)
	}
	if len(extra) == 0 {
		return header, changed
	}
	sort.Strings(extra)
	return append(header, extra...), true
}

// encodeRow lays doc out in header order.
func encodeRow(header []string, doc Document) ([]string, error) {
	cells := make([]string, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		cell, err := EncodeCell(doc[name])
		if err != nil {
			return nil, WithContext(err, map[string]interface{}{"field": name})
		}
		cells[i] = cell
	}
	return cells, nil
}

// cache holds materialized collections for one store.
type cache struct {
	mu          sync.RWMutex
	grid        Grid
	keyFields   map[string]string
	collections map[string]*collection
	logger      Logger
	metrics     Metrics
}

func newCache(grid Grid, keyFields map[string]string, logger Logger, metrics Metrics) *cache {
	return &cache{
		grid:        grid,
		keyFields:   keyFields,
		collections: make(map[string]*collection),
		logger:      logger,
		metrics:     metrics,
	}
}

func (c *cache) keyField(name string) string {
	if f, ok := c.keyFields[name]; ok && f != "" {
		return f
	}
	return DefaultKeyField
}

// get returns the cached collection, materializing it on a miss or when
// fresh is set. A missing sheet is an empty collection.
func (c *cache) get(ctx context.Context, name string, fresh bool) (*collection, error) {
	if !fresh {
		c.mu.RLock()
		col, ok := c.collections[name]
		c.mu.RUnlock()
		if ok {
			c.metrics.Increment(MetricCacheHits, "collection", name)
			return col, nil
		}
	}
	c.metrics.Increment(MetricCacheMisses, "collection", name)

	start := time.Now()
	sheet, err := c.grid.Sheet(ctx, name)
	c.metrics.Timing(MetricGridLatency, time.Since(start), "operation", "sheet", "sheet", name)
	c.metrics.Increment(MetricGridOps, "operation", "sheet", "sheet", name)
	switch {
	case errors.Is(err, ErrNotFound):
		sheet = &Sheet{Name: name}
	case err != nil:
		c.metrics.Increment(MetricGridErrors, "operation", "sheet", "sheet", name)
		c.logger.Error("failed to load collection", "collection", name, "error", err)
		return nil, err
	}

	col := materialize(sheet, c.keyField(name))
	c.mu.Lock()
	c.collections[name] = col
	c.mu.Unlock()

	c.metrics.Gauge(MetricCacheSize, float64(len(col.index)), "collection", name)
	c.logger.Debug("collection loaded", "collection", name, "documents", len(col.index), "rows", len(col.records))
	return col, nil
}

// read runs fn on a loaded collection under the read lock.
func (c *cache) read(ctx context.Context, name string, fn func(col *collection)) error {
	col, err := c.get(ctx, name, false)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(col)
	return nil
}

// apply runs fn on col under the write lock. If col was replaced by a reload
// meanwhile, the entry is dropped instead so the next read rematerializes.
func (c *cache) apply(name string, col *collection, fn func(col *collection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collections[name] != col {
		delete(c.collections, name)
		return
	}
	fn(col)
	c.metrics.Gauge(MetricCacheSize, float64(len(col.index)), "collection", name)
}

// reload forgets the named collections, or all of them when none are named.
func (c *cache) reload(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.collections = make(map[string]*collection)
		return
	}
	for _, name := range names {
		delete(c.collections, name)
	}
}
