package gridbase

import (
	"testing"
)

func filterDocs() []Document {
	return []Document{
		{
			DefaultKeyField: "p1", OrdinalField: 1.0,
			"title": "Hello world", "status": "draft", "views": 10.0,
			"tags": []interface{}{"go", "sheets"},
			"meta": map[string]interface{}{"lang": "en", "rev": 3.0},
		},
		{
			DefaultKeyField: "p2", OrdinalField: 2.0,
			"title": "Second post", "status": "published", "views": 25.0,
			"tags": []interface{}{"rust"},
			"meta": map[string]interface{}{"lang": "fr"},
		},
		{
			DefaultKeyField: "p3", OrdinalField: 3.0,
			"title": "Untagged", "status": "published", "views": 0.0,
		},
	}
}

func matchingKeys(t *testing.T, filter interface{}) []string {
	t.Helper()
	pred, err := CompileFilter(filter)
	if err != nil {
		t.Fatalf("CompileFilter(%v) failed: %v", filter, err)
	}
	var keys []string
	for _, doc := range filterDocs() {
		if pred(doc) {
			keys = append(keys, doc[DefaultKeyField].(string))
		}
	}
	return keys
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryOperators(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"equal string", Query{Where: "status", Equal: "published"}, []string{"p2", "p3"}},
		{"equal number as int", Query{Where: "views", Equal: 25}, []string{"p2"}},
		{"equal nested", Query{Where: "meta/lang", Equal: "fr"}, []string{"p2"}},
		{"equal jsonpath", Query{Where: "$.meta.rev", Equal: 3}, []string{"p1"}},
		{"exists", Query{Where: "tags", Exists: Bool(true)}, []string{"p1", "p2"}},
		{"not exists", Query{Where: "tags", Exists: Bool(false)}, []string{"p3"}},
		{"exists treats zero as absent", Query{Where: "views", Exists: Bool(false)}, []string{"p3"}},
		{"contains", Query{Where: "title", Contains: "post"}, []string{"p2"}},
		{"contains on number", Query{Where: "views", Contains: "1"}, nil},
		{"lt", Query{Where: "views", Lt: Float(10)}, []string{"p3"}},
		{"lte", Query{Where: "views", Lte: Float(10)}, []string{"p1", "p3"}},
		{"gt", Query{Where: "views", Gt: Float(10)}, []string{"p2"}},
		{"gte", Query{Where: "views", Gte: Float(10)}, []string{"p1", "p2"}},
		{"gt on string", Query{Where: "title", Gt: Float(0)}, nil},
		{"child exists in array", Query{Where: "tags", ChildExists: "go"}, []string{"p1"}},
		{"child not in array", Query{Where: "tags", ChildExists: "!go"}, []string{"p2", "p3"}},
		{"child key exists", Query{Where: "meta", ChildExists: "rev"}, []string{"p1"}},
		{"child key missing", Query{Where: "meta", ChildExists: "!rev"}, []string{"p2", "p3"}},
		{"child equal", Query{Where: "meta", ChildEqual: "lang=en"}, []string{"p1"}},
		{"child equal number", Query{Where: "meta", ChildEqual: "rev=3"}, []string{"p1"}},
		{"child not equal", Query{Where: "meta", ChildEqual: "lang!=en"}, []string{"p2", "p3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchingKeys(t, tt.query); !sameKeys(got, tt.want) {
				t.Errorf("matched %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		query Query
	}{
		{"missing where", Query{Equal: "x"}},
		{"no operator", Query{Where: "status"}},
		{"two operators", Query{Where: "views", Gt: Float(1), Lt: Float(5)}},
		{"bad jsonpath", Query{Where: "$[", Equal: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.query.Compile(); !IsInvalidQuery(err) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestMultiQuery(t *testing.T) {
	published := Query{Where: "status", Equal: "published"}
	popular := Query{Where: "views", Gt: Float(20)}
	goTagged := Query{Where: "tags", ChildExists: "go"}

	tests := []struct {
		name  string
		multi MultiQuery
		want  []string
	}{
		{"and", MultiQuery{And: []Query{published, popular}}, []string{"p2"}},
		{"or", MultiQuery{Or: []Query{popular, goTagged}}, []string{"p1", "p2"}},
		{"and or", MultiQuery{And: []Query{published, popular}, Or: []Query{goTagged}}, []string{"p1", "p2"}},
		{"single entry", MultiQuery{Or: []Query{goTagged}}, []string{"p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchingKeys(t, tt.multi); !sameKeys(got, tt.want) {
				t.Errorf("matched %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := (MultiQuery{}).Compile(); !IsInvalidQuery(err) {
		t.Errorf("empty multi query: expected ErrInvalidQuery, got %v", err)
	}
	if _, err := (MultiQuery{And: []Query{{Where: "x"}}}).Compile(); !IsInvalidQuery(err) {
		t.Errorf("invalid member: expected ErrInvalidQuery, got %v", err)
	}
}

func TestCompileFilter_Forms(t *testing.T) {
	tests := []struct {
		name   string
		filter interface{}
		want   []string
	}{
		{"nil", nil, []string{"p1", "p2", "p3"}},
		{"empty map", map[string]interface{}{}, []string{"p1", "p2", "p3"}},
		{"predicate", Predicate(func(d Document) bool { return d["views"] == 0.0 }), []string{"p3"}},
		{"func", func(d Document) bool { return d["status"] == "draft" }, []string{"p1"}},
		{"query pointer", &Query{Where: "views", Gte: Float(25)}, []string{"p2"}},
		{"multi pointer", &MultiQuery{Or: []Query{{Where: "status", Equal: "draft"}}}, []string{"p1"}},
		{"shorthand map", map[string]interface{}{"status": "draft"}, []string{"p1"}},
		{"query map", map[string]interface{}{"where": "views", "lt": 20}, []string{"p1", "p3"}},
		{"multi map", map[string]interface{}{
			"and": []interface{}{
				map[string]interface{}{"where": "status", "equal": "published"},
				map[string]interface{}{"where": "views", "gt": 1},
			},
		}, []string{"p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchingKeys(t, tt.filter); !sameKeys(got, tt.want) {
				t.Errorf("matched %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileFilter_Errors(t *testing.T) {
	tests := []struct {
		name   string
		filter interface{}
	}{
		{"unsupported type", 42},
		{"shorthand with two fields", map[string]interface{}{"a": 1, "b": 2}},
		{"bad query map", map[string]interface{}{"where": "views"}},
		{"bad and list", map[string]interface{}{"and": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileFilter(tt.filter); !IsInvalidQuery(err) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestSegmentMatch(t *testing.T) {
	doc := Document{"status": "draft", "views": 10.0, "archived": false}

	tests := []struct {
		name    string
		segment Segment
		want    bool
	}{
		{"empty", Segment{}, true},
		{"equal", Segment{"status": "draft"}, true},
		{"int against float", Segment{"views": 10}, true},
		{"mismatch", Segment{"status": "published"}, false},
		{"missing field ignored", Segment{"owner": "alice"}, true},
		{"falsy field ignored", Segment{"archived": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.segment.Match(doc); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSegmentMatch_MultiField(t *testing.T) {
	tests := []struct {
		name    string
		segment Segment
		doc     Document
		want    bool
	}{
		{"two fields, one differs", Segment{"a": 1, "b": 2}, Document{"a": 1.0, "b": 3.0}, false},
		{"two fields, all equal", Segment{"a": 1, "b": 2}, Document{"a": 1.0, "b": 2.0}, true},
		{"four fields, one absent", Segment{"a": 1, "b": 2, "c": 3, "d": 4}, Document{"a": 1.0, "b": 2.0, "c": 3.0}, true},
		{"four fields, one differs", Segment{"a": 1, "b": 2, "c": 3, "d": 4}, Document{"a": 1.0, "b": 2.0, "c": 9.0, "d": 4.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.segment.Match(tt.doc); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValuesEqual(t *testing.T) {
	if !valuesEqual(1, 1.0) {
		t.Error("int and float should compare numerically")
	}
	if valuesEqual("1", 1.0) {
		t.Error("string and number should differ")
	}
	if !valuesEqual([]interface{}{"a"}, []string{"a"}) {
		t.Error("arrays should compare deeply")
	}
	if !valuesEqual(nil, nil) || valuesEqual(nil, false) {
		t.Error("nil handling is wrong")
	}
}
