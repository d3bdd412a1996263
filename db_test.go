package gridbase

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestOpen_InvalidOptions(t *testing.T) {
	if _, err := Open(NewMemoryGrid(), Options{KeyLength: -1}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := Open(NewMemoryGrid(), Options{Rules: "not rules"}); !errors.Is(err, ErrInvalidRules) {
		t.Errorf("expected ErrInvalidRules, got %v", err)
	}
}

func TestDB_ReadHelpers(t *testing.T) {
	ctx := context.Background()
	grid := NewMemoryGrid()
	seedPosts(grid)
	db := newTestDB(t, grid, Options{Rules: false})

	all, err := db.Items(ctx, "posts", nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("Items(nil) = %d docs, %v", len(all), err)
	}

	public, _ := db.Items(ctx, "posts", map[string]interface{}{"public": true})
	if keys := keysOf(public); !sameKeys(keys, []string{"p2", "_draft"}) {
		t.Errorf("Items(public) = %v", keys)
	}

	found, err := db.Find(ctx, "posts", Query{Where: "views", Lt: Float(10)})
	if err != nil || found[DefaultKeyField] != "p1" {
		t.Errorf("Find = %v, %v", found, err)
	}
	none, err := db.Find(ctx, "posts", Query{Where: "views", Gt: Float(1000)})
	if err != nil || none != nil {
		t.Errorf("Find(no match) = %v, %v", none, err)
	}

	item, _ := db.Item(ctx, "posts", "p2")
	if item["title"] != "Second" {
		t.Errorf("Item = %v", item)
	}
	missing, err := db.Item(ctx, "posts", "zzz")
	if err != nil || missing != nil {
		t.Errorf("Item(missing) = %v, %v", missing, err)
	}
}

func TestDB_QueryWithListing(t *testing.T) {
	ctx := context.Background()
	grid := NewMemoryGrid()
	seedPosts(grid)
	metrics := NewInMemoryMetrics()
	db := newTestDB(t, grid, Options{Rules: false, Metrics: metrics})

	docs, err := db.Query(ctx, "posts", nil, Listing{OrderBy: []string{"views"}, Order: []string{"desc"}, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if keys := keysOf(docs); !sameKeys(keys, []string{"p2", "p1"}) {
		t.Errorf("Query = %v", keys)
	}

	last, _ := db.Query(ctx, "posts", nil, Listing{Limit: -2})
	if keys := keysOf(last); !sameKeys(keys, []string{"p1", "_draft"}) {
		t.Errorf("Query(limit -2) = %v", keys)
	}

	if _, err := db.Query(ctx, "posts", nil, Listing{OrderBy: []string{"views"}, Order: []string{"up"}}); !IsInvalidQuery(err) {
		t.Errorf("expected invalid query, got %v", err)
	}
	if len(metrics.Histograms[MetricQueryResults]) != 2 {
		t.Errorf("query results recorded %d times, want 2", len(metrics.Histograms[MetricQueryResults]))
	}
}

func TestDB_Increase(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, NewMemoryGrid(), Options{Rules: false})
	db.Update(ctx, "posts", "p1", Document{"title": "Hello", "views": 1, "stats": "frozen"})

	tests := []struct {
		name  string
		by    interface{}
		field string
		want  interface{}
	}{
		{"single path", "views", "views", 2.0},
		{"list of paths", []string{"views", "likes"}, "likes", 1.0},
		{"generic list", []interface{}{"shares"}, "shares", 1.0},
		{"map of deltas", map[string]float64{"views": 10}, "views", 13.0},
		{"int deltas", map[string]int{"views": -3}, "views", 10.0},
		{"generic map", map[string]interface{}{"views": "2"}, "views", 12.0},
		{"non-numeric skipped", map[string]interface{}{"title": 1}, "title", "Hello"},
		{"zero delta skipped", map[string]float64{"zero": 0}, "zero", nil},
		{"nested under truthy scalar skipped", "stats/views", "stats", "frozen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := db.Increase(ctx, "posts", "p1", tt.by)
			if err != nil {
				t.Fatalf("Increase failed: %v", err)
			}
			if doc[tt.field] != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.field, doc[tt.field], tt.want)
			}
		})
	}
}

func TestDB_IncreaseNested(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, NewMemoryGrid(), Options{Rules: false})

	doc, err := db.Increase(ctx, "posts", "p1", map[string]float64{"stats/views": 5, "stats/likes": 1})
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}
	stats, ok := doc["stats"].(map[string]interface{})
	if !ok || stats["views"] != 5.0 || stats["likes"] != 1.0 {
		t.Errorf("stats = %#v", doc["stats"])
	}
	if doc[OrdinalField] != 1.0 {
		t.Error("Increase should create a missing document")
	}

	doc, _ = db.Increase(ctx, "posts", "p1", "stats/views")
	if doc["stats"].(map[string]interface{})["views"] != 6.0 {
		t.Errorf("stats = %v", doc["stats"])
	}

	db.Reload()
	stored, _ := db.Item(ctx, "posts", "p1")
	if stored["stats"].(map[string]interface{})["likes"] != 1.0 {
		t.Errorf("stored stats = %v", stored["stats"])
	}
}

func TestDB_IncreaseTargets(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, NewMemoryGrid(), Options{Rules: false})
	db.Update(ctx, "posts", "p1", Document{"views": 5, "flag": false, "blank": "", "title": "Hello"})

	doc, err := db.Increase(ctx, "posts", "p1", map[string]float64{"views": 0, "flag": 1, "blank": 2, "title": 1})
	if err != nil {
		t.Fatalf("Increase failed: %v", err)
	}

	want := map[string]interface{}{
		"views": 5.0,     // a zero delta leaves the value alone
		"flag":  1.0,     // falsy cells count as empty
		"blank": 2.0,
		"title": "Hello", // truthy non-numbers are never touched
	}
	for field, w := range want {
		if doc[field] != w {
			t.Errorf("%s = %#v, want %#v", field, doc[field], w)
		}
	}
}

func TestDB_IncreaseErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, NewMemoryGrid(), Options{Rules: false})

	if _, err := db.Increase(ctx, "posts", "p1", 5); !errors.Is(err, ErrInvalidData) {
		t.Errorf("bad increment: expected ErrInvalidData, got %v", err)
	}
	if _, err := db.Increase(ctx, "posts", "p1", map[string]interface{}{"views": "lots"}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("bad delta: expected ErrInvalidData, got %v", err)
	}

	denied := newTestDB(t, NewMemoryGrid(), Options{Rules: map[string]interface{}{".read": true}})
	if _, err := denied.Increase(ctx, "posts", "p1", "views"); !IsPermissionDenied(err) {
		t.Errorf("expected permission denied, got %v", err)
	}
}

func TestDB_ConcurrentIncrease(t *testing.T) {
	ctx := context.Background()
	grid := NewMemoryGrid()
	db := newTestDB(t, grid, Options{Rules: false})

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.Increase(ctx, "posts", "p1", "views"); err != nil {
				t.Errorf("Increase failed: %v", err)
			}
		}()
	}
	wg.Wait()

	db.Reload()
	doc, _ := db.Item(ctx, "posts", "p1")
	if doc["views"] != float64(workers) {
		t.Errorf("views = %v, want %d", doc["views"], workers)
	}
	if rows := gridRows(t, grid, "posts").Rows; len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}
}

func TestDB_ViewsShareCache(t *testing.T) {
	ctx := context.Background()
	grid := NewMemoryGrid()
	db := newTestDB(t, grid, Options{Rules: map[string]interface{}{".read": true, ".write": "auth != null"}})

	if _, err := db.Update(ctx, "posts", "p1", Document{"a": 1}); !IsPermissionDenied(err) {
		t.Fatalf("anonymous write: expected denial, got %v", err)
	}

	alice := db.WithAuth(Claims{"uid": "alice"})
	if _, err := alice.Update(ctx, "posts", "p1", Document{"a": 1}); err != nil {
		t.Fatalf("authenticated write failed: %v", err)
	}
	if alice.Access().Admin || db.Access().Auth != nil {
		t.Error("views should not leak identity into each other")
	}

	docs, _ := db.All(ctx, "posts")
	if len(docs) != 1 {
		t.Errorf("base view sees %d docs, want 1 through the shared cache", len(docs))
	}

	admin := alice.ToAdmin()
	if !admin.Access().Admin || admin.Access().Auth.UID() != "alice" {
		t.Errorf("admin access = %+v", admin.Access())
	}
}

func TestDB_Extend(t *testing.T) {
	ctx := context.Background()
	grid := NewMemoryGrid()
	db := newTestDB(t, grid, Options{Rules: map[string]interface{}{".read": true}}).WithAuth(Claims{"uid": "alice"})

	db.All(ctx, "posts")

	extended, err := db.Extend(func(opts *Options) {
		opts.Admin = true
		opts.KeyFields["users"] = "uid"
	})
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if extended.Access().Auth.UID() != "alice" {
		t.Error("Extend should keep the caller identity")
	}
	if _, ok := db.Options().KeyFields["users"]; ok {
		t.Error("Extend modified the original options")
	}

	if _, err := extended.Update(ctx, "posts", "p1", Document{"a": 1}); err != nil {
		t.Fatalf("admin write failed: %v", err)
	}

	stale, _ := db.All(ctx, "posts")
	if len(stale) != 0 {
		t.Errorf("extended DB should have its own cache, base sees %d docs", len(stale))
	}
	db.Reload("posts")
	fresh, _ := db.All(ctx, "posts")
	if len(fresh) != 1 {
		t.Errorf("after Reload base sees %d docs, want 1", len(fresh))
	}

	inherited, err := newTestDB(t, grid, Options{Rules: false}).Extend(nil)
	if err != nil {
		t.Fatalf("Extend(nil) failed: %v", err)
	}
	if !inherited.Security().Rules().Disabled {
		t.Error("Extend should keep the rules")
	}
}

func TestDB_FreshWrites(t *testing.T) {
	ctx := context.Background()
	grid := NewMemoryGrid()
	writer := newTestDB(t, grid, Options{Rules: false})
	fresh := newTestDB(t, grid, Options{Rules: false, FreshWrites: true})

	fresh.All(ctx, "posts")
	writer.Update(ctx, "posts", "p1", Document{"n": 1})

	doc, err := fresh.Update(ctx, "posts", "p2", Document{"n": 2})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if doc[OrdinalField] != 2.0 {
		t.Errorf("ordinal = %v, want 2 after reloading before the write", doc[OrdinalField])
	}

	rows := gridRows(t, grid, "posts").Rows
	if len(rows) != 2 || rows[0].Cells[1] != "p1" || rows[1].Cells[1] != "p2" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestDB_KeyAndClose(t *testing.T) {
	db := newTestDB(t, NewMemoryGrid(), Options{KeyLength: 16, KeyPrefix: "k"})
	key := db.Key()
	if len(key) != 16 || key[0] != 'k' {
		t.Errorf("Key = %q", key)
	}
	if db.Options().KeyLength != 16 {
		t.Errorf("Options().KeyLength = %d", db.Options().KeyLength)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDB_ObjectGridRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db := newTestDB(t, NewObjectGrid(NewFilesystemBackend(dir), "db"), Options{Rules: false})

	if _, err := db.Update(ctx, "posts", "p1", Document{"title": "Hello, world", "tags": []string{"go"}, "meta": map[string]interface{}{"lang": "en"}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	db.Update(ctx, "posts", "p2", Document{"title": "Second"})
	db.Remove(ctx, "posts", "p1")
	db.Update(ctx, "posts", "p3", Document{"title": "Third"})

	reopened := newTestDB(t, NewObjectGrid(NewFilesystemBackend(dir), "db"), Options{Rules: false})
	docs, err := reopened.All(ctx, "posts")
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if keys := keysOf(docs); !sameKeys(keys, []string{"p2", "p3"}) {
		t.Errorf("keys = %v", keys)
	}
	if docs[1][OrdinalField] != 3.0 {
		t.Errorf("p3 ordinal = %v, want 3", docs[1][OrdinalField])
	}

	names, _ := reopened.SheetNames(ctx)
	if !sameKeys(names, []string{"posts"}) {
		t.Errorf("SheetNames = %v", names)
	}
}
