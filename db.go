package gridbase

import (
	"context"
	"time"
)

// DB is a document store over a Grid. A DB is safe for concurrent use; the
// values returned by WithAuth, WithToken and ToAdmin share its cache.
type DB struct {
	grid     Grid
	opts     Options
	security *Security
	access   Access
	keys     *KeyGenerator
	cache    *cache
	logger   Logger
	metrics  Metrics
}

// Open creates a DB over grid.
func Open(grid Grid, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rules, err := ParseRules(opts.Rules)
	if err != nil {
		return nil, err
	}

	db := &DB{
		grid:     grid,
		opts:     opts,
		security: NewSecurity(rules, opts.Helpers, opts.Logger, opts.Metrics),
		access:   Access{Admin: opts.Admin},
		keys:     NewKeyGenerator(opts.KeyLength, opts.KeyPrefix),
		cache:    newCache(grid, opts.KeyFields, opts.Logger, opts.Metrics),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	db.logger.Debug("database opened", "database_id", opts.DatabaseID, "admin", opts.Admin, "security_disabled", rules.Disabled)
	return db, nil
}

// Options returns the options the DB was opened with.
func (db *DB) Options() Options {
	return db.opts
}

// Security returns the rule checker.
func (db *DB) Security() *Security {
	return db.security
}

// Access returns the caller identity bound to this DB.
func (db *DB) Access() Access {
	return db.access
}

// Extend opens a new DB over the same grid with modified options. The new DB
// has its own cache.
func (db *DB) Extend(modify func(opts *Options)) (*DB, error) {
	opts := db.opts
	opts.KeyFields = make(map[string]string, len(db.opts.KeyFields))
	for k, v := range db.opts.KeyFields {
		opts.KeyFields[k] = v
	}
	if modify != nil {
		modify(&opts)
	}
	if opts.Rules == nil {
		opts.Rules = db.security.Rules()
	}
	extended, err := Open(db.grid, opts)
	if err != nil {
		return nil, err
	}
	extended.access.Auth = db.access.Auth
	return extended, nil
}

func (db *DB) with(access Access) *DB {
	clone := *db
	clone.access = access
	return &clone
}

// ToAdmin returns a view that skips every security check.
func (db *DB) ToAdmin() *DB {
	return db.with(Access{Auth: db.access.Auth, Admin: true})
}

// WithAuth returns a view acting as the holder of claims.
func (db *DB) WithAuth(claims Claims) *DB {
	return db.with(Access{Auth: claims, Admin: db.access.Admin})
}

// WithToken decodes token with the configured TokenDecoder and returns a view
// acting as its holder.
func (db *DB) WithToken(ctx context.Context, token string) (*DB, error) {
	if db.opts.TokenDecoder == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "TokenDecoder",
			"reason": "no token decoder configured",
		})
	}
	claims, err := db.opts.TokenDecoder.Decode(ctx, token)
	if err != nil {
		db.logger.Warn("token rejected", "error", err)
		return nil, err
	}
	return db.WithAuth(claims), nil
}

// Ref returns a reference to a "/" separated path.
func (db *DB) Ref(path string) *Ref {
	return &Ref{db: db, path: ParsePath(path)}
}

// Key returns a fresh document key.
func (db *DB) Key() string {
	return db.keys.Next()
}

func sheetPath(sheet string, key string) string {
	if key == "" {
		return "/" + sheet
	}
	return "/" + sheet + "/" + key
}

// All returns every readable document of a sheet in row order.
func (db *DB) All(ctx context.Context, sheet string) ([]Document, error) {
	return db.Ref(sheetPath(sheet, "")).ToArray(ctx)
}

// Items returns the documents matching filter, or all of them for a nil filter.
func (db *DB) Items(ctx context.Context, sheet string, filter interface{}) ([]Document, error) {
	if filter == nil {
		return db.All(ctx, sheet)
	}
	return db.Ref(sheetPath(sheet, "")).Query(ctx, filter, nil)
}

// Item returns one document or nil when it does not exist.
func (db *DB) Item(ctx context.Context, sheet, key string) (Document, error) {
	v, err := db.Ref(sheetPath(sheet, key)).ToObject(ctx)
	if err != nil {
		return nil, err
	}
	doc, _ := v.(map[string]interface{})
	return doc, nil
}

// Find returns the first document matching filter, or nil.
func (db *DB) Find(ctx context.Context, sheet string, filter interface{}) (Document, error) {
	docs, err := db.Ref(sheetPath(sheet, "")).Query(ctx, filter, nil)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Query filters a sheet and applies listing to the result.
func (db *DB) Query(ctx context.Context, sheet string, filter interface{}, listing Listing) ([]Document, error) {
	start := time.Now()
	docs, err := db.Ref(sheetPath(sheet, "")).Query(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	docs, err = listing.Apply(docs)
	if err != nil {
		return nil, err
	}
	db.metrics.Timing(MetricQueryDuration, time.Since(start), "collection", sheet)
	db.metrics.Histogram(MetricQueryResults, float64(len(docs)), "collection", sheet)
	return docs, nil
}

// Set replaces a document, keeping its key and ordinal.
func (db *DB) Set(ctx context.Context, sheet, key string, data Document) (Document, error) {
	return db.Ref(sheetPath(sheet, key)).Set(ctx, data)
}

// Update merges data into a document, creating it when missing. An empty key
// creates a document under a generated key.
func (db *DB) Update(ctx context.Context, sheet, key string, data Document) (Document, error) {
	return db.Ref(sheetPath(sheet, key)).Update(ctx, data)
}

// Add is Update under its creating name.
func (db *DB) Add(ctx context.Context, sheet, key string, data Document) (Document, error) {
	return db.Update(ctx, sheet, key, data)
}

// Remove deletes a document.
func (db *DB) Remove(ctx context.Context, sheet, key string) error {
	if key == "" {
		return depthError("remove", ParsePath(sheet), "document")
	}
	_, err := db.Ref(sheetPath(sheet, key)).Update(ctx, nil)
	return err
}

// Increase adds to numeric fields of a document.
func (db *DB) Increase(ctx context.Context, sheet, key string, by interface{}) (Document, error) {
	return db.Ref(sheetPath(sheet, key)).Increase(ctx, by)
}

// SheetNames lists the ordinary sheets. Private sheets are hidden unless the
// caller bypasses security.
func (db *DB) SheetNames(ctx context.Context) ([]string, error) {
	names, err := db.grid.SheetNames(ctx)
	if err != nil {
		return nil, err
	}
	ordinary, _ := SplitSheetNames(names)
	if db.security.Bypass(db.access) {
		return ordinary, nil
	}
	visible := ordinary[:0]
	for _, name := range ordinary {
		if !IsPrivateName(name) {
			visible = append(visible, name)
		}
	}
	return visible, nil
}

// Reload drops cached collections so the next access reads the grid again.
// With no names every collection is dropped.
func (db *DB) Reload(sheets ...string) {
	db.cache.reload(sheets...)
}

// Close closes the grid.
func (db *DB) Close() error {
	return db.grid.Close()
}
