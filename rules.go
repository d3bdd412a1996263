package gridbase

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Permission is the kind of access a checkpoint guards.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Rule is a declared .read or .write value: a constant or an expression.
type Rule struct {
	Expr  string
	Allow bool
}

// IsExpr reports whether the rule must be evaluated.
func (r Rule) IsExpr() bool {
	return r.Expr != ""
}

func (r Rule) String() string {
	if r.IsExpr() {
		return r.Expr
	}
	if r.Allow {
		return "true"
	}
	return "false"
}

// RuleNode is one level of the rule tree.
type RuleNode struct {
	Read     *Rule
	Write    *Rule
	Children map[string]*RuleNode
	Dynamic  *DynamicChild
}

// DynamicChild matches any segment without a literal child and binds it to Name.
type DynamicChild struct {
	Name string // including the leading "$"
	Node *RuleNode
}

func (n *RuleNode) rule(p Permission) *Rule {
	if p == PermissionWrite {
		return n.Write
	}
	return n.Read
}

// RuleTree is a parsed security configuration. A disabled tree allows everything.
type RuleTree struct {
	Disabled bool
	Root     *RuleNode
}

// Bindings maps dynamic segment names ("$uid") to the matched path segment.
type Bindings map[string]string

// ParseRules accepts false (security off), true or nil (deny everything),
// a nested map in Firebase rule syntax, or an existing *RuleTree. A top-level
// "rules" key is unwrapped.
func ParseRules(v interface{}) (*RuleTree, error) {
	switch rules := v.(type) {
	case *RuleTree:
		return rules, nil
	case nil:
		return &RuleTree{Root: &RuleNode{}}, nil
	case bool:
		if !rules {
			return &RuleTree{Disabled: true, Root: &RuleNode{}}, nil
		}
		return &RuleTree{Root: &RuleNode{}}, nil
	case map[string]interface{}:
		if inner, ok := rules["rules"]; ok && len(rules) == 1 {
			return ParseRules(inner)
		}
		root, err := parseRuleNode(rules, "/")
		if err != nil {
			return nil, err
		}
		return &RuleTree{Root: root}, nil
	default:
		return nil, WithContext(ErrInvalidRules, map[string]interface{}{
			"reason": "rules must be a boolean or an object",
		})
	}
}

func parseRuleNode(m map[string]interface{}, at string) (*RuleNode, error) {
	node := &RuleNode{}
	for _, key := range sortedKeys(m) {
		value := m[key]
		switch {
		case key == ".read" || key == ".write":
			rule, err := parseRuleValue(value, at+key)
			if err != nil {
				return nil, err
			}
			if rule == nil {
				continue
			}
			if key == ".read" {
				node.Read = rule
			} else {
				node.Write = rule
			}

		case strings.HasPrefix(key, "."):
			// .validate, .indexOn and friends are not enforced here.

		default:
			child := &RuleNode{}
			if cm, ok := value.(map[string]interface{}); ok {
				var err error
				child, err = parseRuleNode(cm, at+key+"/")
				if err != nil {
					return nil, err
				}
			}
			if strings.HasPrefix(key, "$") {
				if node.Dynamic != nil {
					return nil, WithContext(ErrInvalidRules, map[string]interface{}{
						"path":   at,
						"reason": "more than one dynamic child",
						"names":  []string{node.Dynamic.Name, key},
					})
				}
				node.Dynamic = &DynamicChild{Name: key, Node: child}
				continue
			}
			if node.Children == nil {
				node.Children = make(map[string]*RuleNode)
			}
			node.Children[key] = child
		}
	}
	return node, nil
}

// parseRuleValue returns nil for an empty string, which declares nothing.
func parseRuleValue(v interface{}, at string) (*Rule, error) {
	switch rv := v.(type) {
	case bool:
		return &Rule{Allow: rv}, nil
	case string:
		expr := strings.TrimSpace(rv)
		if expr == "" {
			return nil, nil
		}
		return &Rule{Expr: expr}, nil
	case nil:
		return nil, nil
	default:
		return nil, WithContext(ErrInvalidRules, map[string]interface{}{
			"path":   at,
			"reason": "rule must be a boolean or an expression string",
		})
	}
}

// Resolve walks path through the tree. The deepest node declaring the
// permission wins; undeclared levels inherit. Unknown segments descend into
// the dynamic child when there is one, else into an empty node.
func (t *RuleTree) Resolve(p Permission, path Path) (Rule, Bindings) {
	bindings := Bindings{}
	running := Rule{Allow: false}

	node := t.Root
	if node == nil {
		node = &RuleNode{}
	}
	if r := node.rule(p); r != nil {
		running = *r
	}

	for _, seg := range path {
		next, ok := node.Children[seg]
		switch {
		case ok:
			node = next
		case node.Dynamic != nil:
			bindings[node.Dynamic.Name] = seg
			node = node.Dynamic.Node
		default:
			node = &RuleNode{}
		}
		if r := node.rule(p); r != nil {
			running = *r
		}
	}
	return running, bindings
}

// LoadRulesFile reads rules from a JSON or YAML file (chosen by extension,
// JSON otherwise).
func LoadRulesFile(path string) (*RuleTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"rules_file": path,
			"reason":     err.Error(),
		})
	}

	var raw interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, WithContext(ErrInvalidRules, map[string]interface{}{
			"rules_file": path,
			"reason":     err.Error(),
		})
	}
	return ParseRules(raw)
}
