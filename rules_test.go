package gridbase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func blogRules(t *testing.T) *RuleTree {
	t.Helper()
	tree, err := ParseRules(map[string]interface{}{
		".read": false,
		"users": map[string]interface{}{
			"$uid": map[string]interface{}{
				".read":  "$uid === auth.uid",
				".write": "$uid === auth.uid",
			},
		},
		"posts": map[string]interface{}{
			".read":     true,
			".validate": "newData.exists('title')",
			"content": map[string]interface{}{
				"$section": map[string]interface{}{
					"$header": map[string]interface{}{".write": true},
				},
			},
			"$other": map[string]interface{}{".read": false},
		},
		"foo": nil,
	})
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	return tree
}

func TestRuleTreeResolve(t *testing.T) {
	tree := blogRules(t)

	tests := []struct {
		name     string
		perm     Permission
		path     Path
		want     string
		bindings Bindings
	}{
		{"root", PermissionRead, Path{}, "false", Bindings{}},
		{"unknown collection", PermissionRead, Path{"comments"}, "false", Bindings{}},
		{"dynamic expression", PermissionRead, Path{"users", "alice"}, "$uid === auth.uid", Bindings{"$uid": "alice"}},
		{"inherited below dynamic", PermissionWrite, Path{"users", "alice", "profile"}, "$uid === auth.uid", Bindings{"$uid": "alice"}},
		{"collection read", PermissionRead, Path{"posts"}, "true", Bindings{}},
		{"literal beats dynamic", PermissionRead, Path{"posts", "content", "intro"}, "true", Bindings{"$section": "intro"}},
		{"dynamic override", PermissionRead, Path{"posts", "drafts"}, "false", Bindings{"$other": "drafts"}},
		{"nested dynamics", PermissionWrite, Path{"posts", "content", "intro", "title"}, "true", Bindings{"$section": "intro", "$header": "title"}},
		{"write not declared", PermissionWrite, Path{"posts", "p1"}, "false", Bindings{"$other": "p1"}},
		{"null node inherits", PermissionRead, Path{"foo", "bar"}, "false", Bindings{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, bindings := tree.Resolve(tt.perm, tt.path)
			if rule.String() != tt.want {
				t.Errorf("rule = %q, want %q", rule.String(), tt.want)
			}
			if len(bindings) != len(tt.bindings) {
				t.Fatalf("bindings = %v, want %v", bindings, tt.bindings)
			}
			for k, v := range tt.bindings {
				if bindings[k] != v {
					t.Errorf("bindings[%s] = %q, want %q", k, bindings[k], v)
				}
			}
		})
	}
}

func TestParseRules_Constants(t *testing.T) {
	disabled, err := ParseRules(false)
	if err != nil || !disabled.Disabled {
		t.Errorf("ParseRules(false) = %+v, %v; want disabled", disabled, err)
	}

	for _, v := range []interface{}{true, nil} {
		tree, err := ParseRules(v)
		if err != nil {
			t.Fatalf("ParseRules(%v) failed: %v", v, err)
		}
		if tree.Disabled {
			t.Errorf("ParseRules(%v) should not disable security", v)
		}
		if rule, _ := tree.Resolve(PermissionRead, Path{"posts"}); rule.Allow || rule.IsExpr() {
			t.Errorf("ParseRules(%v) should deny by default, got %s", v, rule)
		}
	}

	existing := &RuleTree{Root: &RuleNode{}}
	if got, _ := ParseRules(existing); got != existing {
		t.Error("an existing tree should pass through")
	}
}

func TestParseRules_UnwrapsRulesKey(t *testing.T) {
	tree, err := ParseRules(map[string]interface{}{
		"rules": map[string]interface{}{".read": true},
	})
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if rule, _ := tree.Resolve(PermissionRead, Path{"anything"}); !rule.Allow {
		t.Error("expected the wrapped rules to apply")
	}
}

func TestParseRules_EmptyExpressionDeclaresNothing(t *testing.T) {
	tree, err := ParseRules(map[string]interface{}{
		".read": true,
		"posts": map[string]interface{}{".read": "   "},
	})
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if rule, _ := tree.Resolve(PermissionRead, Path{"posts"}); !rule.Allow {
		t.Errorf("rule = %s, want inherited true", rule)
	}
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name  string
		rules interface{}
	}{
		{"not an object", "yes"},
		{"numeric rule", map[string]interface{}{".read": 5.0}},
		{"two dynamic children", map[string]interface{}{
			"users": map[string]interface{}{
				"$uid":  map[string]interface{}{},
				"$name": map[string]interface{}{},
			},
		}},
		{"nested bad rule", map[string]interface{}{
			"posts": map[string]interface{}{".write": []interface{}{"x"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRules(tt.rules); !errors.Is(err, ErrInvalidRules) {
				t.Errorf("expected ErrInvalidRules, got %v", err)
			}
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()

	yamlFile := filepath.Join(dir, "rules.yaml")
	yamlRules := "rules:\n  \".read\": true\n  posts:\n    \".write\": \"auth != null\"\n"
	if err := os.WriteFile(yamlFile, []byte(yamlRules), 0o644); err != nil {
		t.Fatal(err)
	}
	jsonFile := filepath.Join(dir, "rules.json")
	if err := os.WriteFile(jsonFile, []byte(`{".read": true, "posts": {".write": "auth != null"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, file := range []string{yamlFile, jsonFile} {
		t.Run(filepath.Ext(file), func(t *testing.T) {
			tree, err := LoadRulesFile(file)
			if err != nil {
				t.Fatalf("LoadRulesFile failed: %v", err)
			}
			if rule, _ := tree.Resolve(PermissionRead, Path{"posts", "p1"}); !rule.Allow {
				t.Error("expected read to be allowed")
			}
			if rule, _ := tree.Resolve(PermissionWrite, Path{"posts", "p1"}); rule.Expr != "auth != null" {
				t.Errorf("write rule = %s", rule)
			}
		})
	}
}

func TestLoadRulesFile_Errors(t *testing.T) {
	if _, err := LoadRulesFile(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing file: expected ErrInvalidConfig, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := LoadRulesFile(bad); !errors.Is(err, ErrInvalidRules) {
		t.Errorf("bad file: expected ErrInvalidRules, got %v", err)
	}
}
