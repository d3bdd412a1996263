package export

import (
	"bytes"
	"strings"
	"testing"
)

func TestColumns_LeadingFieldsFirst(t *testing.T) {
	docs := []map[string]interface{}{
		{"title": "A", "$key": "a", "#": 1.0},
		{"author": "bob", "$key": "b", "#": 2.0},
	}

	got := Columns(docs)
	want := []string{"#", "$key", "author", "title"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Columns() = %v, want %v", got, want)
	}
}

func TestColumns_Empty(t *testing.T) {
	if got := Columns(nil); len(got) != 0 {
		t.Errorf("expected no columns, got %v", got)
	}
}

func TestTable_RendersRows(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, []map[string]interface{}{
		{"#": 1.0, "$key": "p1", "title": "Hello"},
		{"#": 2.0, "$key": "p2", "tags": []interface{}{"go"}},
	})

	out := buf.String()
	for _, want := range []string{"$key", "title", "Hello", "p2", `["go"]`} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestKeyValue(t *testing.T) {
	var buf bytes.Buffer
	KeyValue(&buf, map[string]interface{}{"$key": "alice", "age": 30.0})

	out := buf.String()
	if !strings.Contains(out, "alice") || !strings.Contains(out, "30") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, map[string]interface{}{"a": 1}); err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"a": 1`) {
		t.Errorf("unexpected JSON: %s", buf.String())
	}
}

func TestCellText(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"string", "x", "x"},
		{"integer float", 3.0, "3"},
		{"fraction", 2.5, "2.5"},
		{"bool", true, "true"},
		{"object", map[string]interface{}{"k": "v"}, `{"k":"v"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CellText(tt.in); got != tt.want {
				t.Errorf("CellText(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
