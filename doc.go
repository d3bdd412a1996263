// Package gridbase provides a hierarchical, path-addressable document database on
// top of row-oriented tabular storage, guarded by Firebase-style security rules.
//
// # Overview
//
// Each sheet of a Grid is a collection. Row 1 is the header, every following row
// is a document. Documents are addressed by path:
//
//	/                    the whole database
//	/users               a collection
//	/users/alice         a document
//	/users/alice/stats   a value nested inside a document
//
// gridbase provides:
//
//   - Ref navigation, reads, set/update/remove and atomic field increments
//   - A per-database collection cache with row bookkeeping
//   - Security rules with dynamic path segments, inheritance and a small
//     expression language
//   - Structured, shorthand and predicate queries with ordering and paging
//   - Grids backed by memory, the filesystem, S3, MinIO or GCS, with optional
//     encryption at rest
//   - Zap logging, Prometheus metrics and Redis write locks
//
// # Quick Start
//
//	grid := gridbase.NewObjectGrid(gridbase.NewFilesystemBackend("./data"), "")
//	db, err := gridbase.Open(grid, gridbase.Options{
//		Rules: map[string]interface{}{
//			"users": map[string]interface{}{
//				"$uid": map[string]interface{}{
//					".read":  "auth.uid === $uid",
//					".write": "auth.uid === $uid",
//				},
//			},
//		},
//	})
//	if err != nil {
//		return err
//	}
//
//	alice := db.WithAuth(gridbase.Claims{"uid": "alice"})
//	alice.Update(ctx, "users", "alice", gridbase.Document{"name": "Alice"})
//	doc, err := alice.Item(ctx, "users", "alice")
//
// # Documents
//
// Every stored document carries its key under "$key" (or the collection's
// configured key field) and an ordinal under "#". The ordinal is the previous
// last row's ordinal plus one and never changes on update; neither does the
// key. Cells are decoded as booleans, numbers, JSON and finally text; nested
// values are written as JSON.
//
// # Security
//
// Rules form a tree mirroring paths. Each level may declare ".read" and
// ".write" as a boolean or an expression; undeclared levels inherit from their
// parent. A child named "$name" matches any segment and binds it for the
// expression:
//
//	{
//	  "posts": {
//	    ".read": true,
//	    "$postId": {
//	      ".write": "auth != null && (!data.exists('owner') || data.val().owner === auth.uid)"
//	    }
//	  }
//	}
//
// Expressions see now, auth, data, newData, inputData, the bound segments and
// any Helpers. A rule that fails to evaluate denies. Names starting with "_"
// are private: such collections, keys and fields are refused unless the caller
// is an admin. Passing Rules: false turns security off.
//
// # Queries
//
//	db.Query(ctx, "posts", map[string]interface{}{"author": "alice"}, gridbase.Listing{})
//
//	db.Query(ctx, "posts", gridbase.MultiQuery{
//		Or: []gridbase.Query{
//			{Where: "tags", ChildExists: "go"},
//			{Where: "$.stats.views", Gt: gridbase.Float(100)},
//		},
//	}, gridbase.Listing{OrderBy: []string{"#"}, Order: []string{"desc"}, Limit: 10})
//
// Limit and Offset accept negative values: a negative Limit keeps the last N
// results, a negative Offset drops N from the end.
package gridbase
