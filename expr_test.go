package gridbase

import (
	"fmt"
	"testing"
	"time"
)

func TestEvaluate_Operators(t *testing.T) {
	sec := NewSecurity(nil, nil, nil, nil)

	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"1 + 2 === 3", true},
		{"'a' + 1 === 'a1'", true},
		{"10 % 3 == 1", true},
		{"2 * 3 > 5 && 6 / 2 <= 3", true},
		{"(1 + 2) * 2 === 6", true},
		{"1 + 2 * 2 === 5", true},
		{"!false", true},
		{"-1 < 0", true},
		{"'1' == 1", true},
		{"'1' === 1", false},
		{"true == 1", true},
		{"null == null", true},
		{"null === 0", false},
		{"'abc' < 'abd'", true},
		{"'10' > 9", true},
		{"'x' > 1", false},
		{"true ? 1 : 0", true},
		{"false ? 1 : 0", false},
		{"0 || 'fallback'", true},
		{"1 && 0", false},
		{"false && undefinedThing", false},
		{"true || undefinedThing", true},
		{"[1, 2, 3].length === 3", true},
		{"[1, 2].includes(2)", true},
		{"[1, 2].contains(3)", false},
		{"['a', 'b'].indexOf('b') === 1", true},
		{"[1, 2][5] === null", true},
		{"'hello'.length === 5", true},
		{"'hello'.beginsWith('he')", true},
		{"'hello'.startsWith('lo')", false},
		{"'hello'.contains('ell')", true},
		{"'hello'.includes('x')", false},
		{"'hello'.endsWith('lo')", true},
		{"'hello'.indexOf('l') === 2", true},
		{"'Hello'.toLowerCase() === 'hello'", true},
		{"'hi'.toUpperCase() === 'HI'", true},
		{`"it\'s" === "it's"`, true},
		{"1e3 === 1000", true},
		{".5 === 0.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := sec.Evaluate(tt.expr, RuleEnv{})
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ErrorsDeny(t *testing.T) {
	sec := NewSecurity(nil, nil, nil, nil)

	tests := []struct {
		name string
		expr string
		env  RuleEnv
	}{
		{"unknown identifier", "unknownVar", RuleEnv{}},
		{"member of null auth", "auth.uid === 'alice'", RuleEnv{}},
		{"member of missing value", "data.missing.deep === 1", RuleEnv{Data: NewSnapshot(map[string]interface{}{})}},
		{"dangling operator", "1 +", RuleEnv{}},
		{"unterminated string", "'abc", RuleEnv{}},
		{"unexpected character", "1 # 2", RuleEnv{}},
		{"trailing tokens", "1 2", RuleEnv{}},
		{"missing colon", "true ? 1", RuleEnv{}},
		{"call on non-function", "'abc'.length()", RuleEnv{}},
		{"string method without argument", "'abc'.contains()", RuleEnv{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sec.Evaluate(tt.expr, tt.env)
			if err == nil {
				t.Errorf("Evaluate(%q) returned no error", tt.expr)
			}
			if got {
				t.Errorf("Evaluate(%q) allowed despite the error", tt.expr)
			}
		})
	}
}

func TestEvaluate_Context(t *testing.T) {
	sec := NewSecurity(nil, nil, nil, nil)
	env := RuleEnv{
		Auth:      Claims{"uid": "alice", "roles": []interface{}{"editor"}},
		Data:      NewSnapshot(map[string]interface{}{"a": 1, "b": 2, "owner": "alice"}),
		NewData:   NewSnapshot(map[string]interface{}{"title": "x", "meta": map[string]interface{}{"lang": "en"}}),
		InputData: NewSnapshot(5),
		Bindings:  Bindings{"$uid": "alice"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"data.a === 1 && data.b !== 1", true},
		{"data.val().a === 1", true},
		{"data['owner'] === auth.uid", true},
		{"$uid === auth.uid", true},
		{"auth.roles.includes('editor')", true},
		{"auth != null", true},
		{"newData.only('title', 'meta')", true},
		{"newData.only(['title'])", false},
		{"newData.exists('title')", true},
		{"newData.exists('body')", false},
		{"data.notExists('missing')", true},
		{"newData.child('meta/lang').val() === 'en'", true},
		{"newData.child('meta').exists('lang')", true},
		{"inputData.val() === 5", true},
		{"inputData === 5", true},
		{"now > 0", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := sec.Evaluate(tt.expr, env)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_NullSnapshots(t *testing.T) {
	sec := NewSecurity(nil, nil, nil, nil)

	for _, expr := range []string{"data.val() === null", "newData.val() == null", "!data.exists('x')"} {
		got, err := sec.Evaluate(expr, RuleEnv{})
		if err != nil || !got {
			t.Errorf("Evaluate(%q) = %v, %v; want true", expr, got, err)
		}
	}
	if got, _ := sec.Evaluate("auth === null", RuleEnv{}); !got {
		t.Error("auth should be null without claims")
	}
}

func TestEvaluate_Now(t *testing.T) {
	sec := NewSecurity(nil, nil, nil, nil)
	sec.now = func() time.Time { return time.UnixMilli(1000) }

	if got, err := sec.Evaluate("now === 1000", RuleEnv{}); err != nil || !got {
		t.Errorf("now: got %v, %v", got, err)
	}
}

func TestEvaluate_Helpers(t *testing.T) {
	helpers := map[string]Helper{
		"isOwner": func(snap *Snapshot, args ...interface{}) (interface{}, error) {
			if snap != nil {
				return snap.Child("owner").Val() == "alice", nil
			}
			return len(args) == 1 && args[0] == "alice", nil
		},
	}
	sec := NewSecurity(nil, helpers, nil, nil)
	env := RuleEnv{Data: NewSnapshot(map[string]interface{}{"owner": "alice"})}

	tests := []struct {
		expr string
		want bool
	}{
		{"isOwner('alice')", true},
		{"isOwner('bob')", false},
		{"data.isOwner()", true},
		{"data.child('owner').isOwner()", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := sec.Evaluate(tt.expr, env)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestSecurity_ExprCache(t *testing.T) {
	sec := NewSecurity(nil, nil, nil, nil)
	a, err := sec.compile("1 === 1")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	b, _ := sec.compile("1 === 1")
	if a != b {
		t.Error("expected the parsed expression to be reused")
	}

	other := NewSecurity(nil, nil, nil, nil)
	if len(other.exprs) != 0 {
		t.Errorf("caches should not be shared, got %d entries", len(other.exprs))
	}

	for i := 0; i < maxCachedExprs+10; i++ {
		if _, err := sec.compile(fmt.Sprintf("%d === %d", i, i)); err != nil {
			t.Fatalf("compile failed: %v", err)
		}
	}
	if len(sec.exprs) > maxCachedExprs {
		t.Errorf("cache grew to %d entries, limit %d", len(sec.exprs), maxCachedExprs)
	}
}
