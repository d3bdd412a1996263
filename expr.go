package gridbase

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// The rule expression language is a small, side-effect free subset of
// JavaScript expressions: literals, identifiers from the rule context, member
// and index access, calls to context methods, unary ! and -, arithmetic,
// comparison (== === != !== < <= > >=), && || and the ?: conditional.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var punctuators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||",
	"+", "-", "*", "/", "%", "<", ">", "!", "(", ")", "[", "]", ".", ",", "?", ":",
}

func lex(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case unicode.IsDigit(c) || (c == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			text := string(runes[start:i])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q at %d", text, start)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: f, pos: start})

		case c == '\'' || c == '"':
			start := i
			quote := c
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				r := runes[i]
				if r == quote {
					closed = true
					i++
					break
				}
				if r == '\\' && i+1 < len(runes) {
					i++
					switch runes[i] {
					case 'n':
						sb.WriteRune('\n')
					case 't':
						sb.WriteRune('\t')
					case 'r':
						sb.WriteRune('\r')
					default:
						sb.WriteRune(runes[i])
					}
					i++
					continue
				}
				sb.WriteRune(r)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})

		case c == '_' || c == '$' || unicode.IsLetter(c):
			start := i
			for i < len(runes) && (runes[i] == '_' || runes[i] == '$' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})

		default:
			matched := false
			rest := string(runes[i:])
			for _, p := range punctuators {
				if strings.HasPrefix(rest, p) {
					tokens = append(tokens, token{kind: tokPunct, text: p, pos: i})
					i += len([]rune(p))
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("unexpected character %q at %d", c, i)
			}
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

// AST

type exprNode interface {
	eval(env *exprEnv) (interface{}, error)
}

type literalNode struct{ value interface{} }
type identNode struct{ name string }
type memberNode struct {
	object exprNode
	name   string
}
type indexNode struct{ object, index exprNode }
type callNode struct {
	fn   exprNode
	args []exprNode
}
type unaryNode struct {
	op string
	x  exprNode
}
type binaryNode struct {
	op          string
	left, right exprNode
}
type condNode struct{ test, then, otherwise exprNode }
type arrayNode struct{ elems []exprNode }

type parser struct {
	tokens []token
	pos    int
}

func parseExpr(src string) (exprNode, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokPunct {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) expect(op string) error {
	if _, ok := p.accept(op); !ok {
		t := p.peek()
		return fmt.Errorf("expected %q at %d, found %q", op, t.pos, t.text)
	}
	return nil
}

func (p *parser) ternary() (exprNode, error) {
	test, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if _, ok := p.accept("?"); !ok {
		return test, nil
	}
	then, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	otherwise, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return &condNode{test: test, then: then, otherwise: otherwise}, nil
}

// binary operator levels, loosest first
var binaryLevels = [][]string{
	{"||"},
	{"&&"},
	{"===", "!==", "==", "!="},
	{"<=", ">=", "<", ">"},
	{"+", "-"},
	{"*", "/", "%"},
}

func (p *parser) binary(level int) (exprNode, error) {
	if level == len(binaryLevels) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept(binaryLevels[level]...)
		if !ok {
			return left, nil
		}
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) unary() (exprNode, error) {
	if op, ok := p.accept("!", "-", "+"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, x: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (exprNode, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOne("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected property name at %d", t.pos)
			}
			n = &memberNode{object: n, name: t.text}
		case p.acceptOne("["):
			idx, err := p.ternary()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &indexNode{object: n, index: idx}
		case p.acceptOne("("):
			args, err := p.list(")")
			if err != nil {
				return nil, err
			}
			n = &callNode{fn: n, args: args}
		default:
			return n, nil
		}
	}
}

func (p *parser) acceptOne(op string) bool {
	_, ok := p.accept(op)
	return ok
}

// list parses comma separated expressions up to the closing token.
func (p *parser) list(closing string) ([]exprNode, error) {
	var items []exprNode
	if p.acceptOne(closing) {
		return items, nil
	}
	for {
		item, err := p.ternary()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.acceptOne(closing) {
			return items, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) primary() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalNode{value: t.num}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "undefined":
			return &literalNode{value: nil}, nil
		}
		return &identNode{name: t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			n, err := p.ternary()
			if err != nil {
				return nil, err
			}
			return n, p.expect(")")
		case "[":
			elems, err := p.list("]")
			if err != nil {
				return nil, err
			}
			return &arrayNode{elems: elems}, nil
		}
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

// Evaluation

type callable func(args []interface{}) (interface{}, error)

type exprEnv struct {
	vars    map[string]interface{}
	helpers map[string]Helper
}

func (n *literalNode) eval(*exprEnv) (interface{}, error) { return n.value, nil }

func (n *identNode) eval(env *exprEnv) (interface{}, error) {
	if v, ok := env.vars[n.name]; ok {
		return v, nil
	}
	if h, ok := env.helpers[n.name]; ok {
		return callable(func(args []interface{}) (interface{}, error) {
			return h(nil, args...)
		}), nil
	}
	return nil, fmt.Errorf("%s is not defined", n.name)
}

func (n *memberNode) eval(env *exprEnv) (interface{}, error) {
	obj, err := n.object.eval(env)
	if err != nil {
		return nil, err
	}
	return member(env, obj, n.name)
}

func (n *indexNode) eval(env *exprEnv) (interface{}, error) {
	obj, err := n.object.eval(env)
	if err != nil {
		return nil, err
	}
	idx, err := n.index.eval(env)
	if err != nil {
		return nil, err
	}
	if arr, ok := obj.([]interface{}); ok {
		f, isNum := idx.(float64)
		if !isNum || f < 0 || f != math.Trunc(f) || int(f) >= len(arr) {
			return nil, nil
		}
		return arr[int(f)], nil
	}
	return member(env, obj, toText(idx))
}

func (n *callNode) eval(env *exprEnv) (interface{}, error) {
	fn, err := n.fn.eval(env)
	if err != nil {
		return nil, err
	}
	call, ok := fn.(callable)
	if !ok {
		return nil, fmt.Errorf("not a function")
	}
	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		if args[i], err = a.eval(env); err != nil {
			return nil, err
		}
	}
	return call(args)
}

func (n *unaryNode) eval(env *exprEnv) (interface{}, error) {
	x, err := n.x.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(x), nil
	case "-":
		return -toNumber(x), nil
	default:
		return toNumber(x), nil
	}
}

func (n *condNode) eval(env *exprEnv) (interface{}, error) {
	test, err := n.test.eval(env)
	if err != nil {
		return nil, err
	}
	if truthy(test) {
		return n.then.eval(env)
	}
	return n.otherwise.eval(env)
}

func (n *arrayNode) eval(env *exprEnv) (interface{}, error) {
	out := make([]interface{}, len(n.elems))
	for i, e := range n.elems {
		v, err := e.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (n *binaryNode) eval(env *exprEnv) (interface{}, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}

	// && and || short-circuit and yield an operand, as in JavaScript.
	switch n.op {
	case "&&":
		if !truthy(left) {
			return left, nil
		}
		return n.right.eval(env)
	case "||":
		if truthy(left) {
			return left, nil
		}
		return n.right.eval(env)
	}

	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	left, right = unwrapSnapshot(left), unwrapSnapshot(right)

	switch n.op {
	case "===":
		return strictEqual(left, right), nil
	case "!==":
		return !strictEqual(left, right), nil
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return relational(n.op, left, right), nil
	case "+":
		if isText(left) || isText(right) {
			return toText(left) + toText(right), nil
		}
		return toNumber(left) + toNumber(right), nil
	case "-":
		return toNumber(left) - toNumber(right), nil
	case "*":
		return toNumber(left) * toNumber(right), nil
	case "/":
		return toNumber(left) / toNumber(right), nil
	case "%":
		return math.Mod(toNumber(left), toNumber(right)), nil
	}
	return nil, fmt.Errorf("unknown operator %s", n.op)
}

// member resolves obj.name.
func member(env *exprEnv, obj interface{}, name string) (interface{}, error) {
	switch o := obj.(type) {
	case nil:
		return nil, fmt.Errorf("cannot read property %q of null", name)
	case *Snapshot:
		if m := o.method(name); m != nil {
			return m, nil
		}
		if h, ok := env.helpers[name]; ok {
			return callable(func(args []interface{}) (interface{}, error) {
				return h(o, args...)
			}), nil
		}
		return member(env, o.Val(), name)
	case map[string]interface{}:
		return o[name], nil
	case string:
		return stringMember(o, name), nil
	case []interface{}:
		return arrayMember(o, name), nil
	}
	return nil, nil
}

func stringMember(s string, name string) interface{} {
	switch name {
	case "length":
		return float64(len([]rune(s)))
	case "contains", "includes":
		return stringFn(func(arg string) interface{} { return strings.Contains(s, arg) })
	case "beginsWith", "startsWith":
		return stringFn(func(arg string) interface{} { return strings.HasPrefix(s, arg) })
	case "endsWith":
		return stringFn(func(arg string) interface{} { return strings.HasSuffix(s, arg) })
	case "indexOf":
		return stringFn(func(arg string) interface{} { return float64(strings.Index(s, arg)) })
	case "toLowerCase":
		return callable(func([]interface{}) (interface{}, error) { return strings.ToLower(s), nil })
	case "toUpperCase":
		return callable(func([]interface{}) (interface{}, error) { return strings.ToUpper(s), nil })
	}
	return nil
}

func stringFn(fn func(string) interface{}) callable {
	return func(args []interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument")
		}
		return fn(toText(args[0])), nil
	}
}

func arrayMember(arr []interface{}, name string) interface{} {
	indexOf := func(v interface{}) int {
		for i, item := range arr {
			if strictEqual(item, v) {
				return i
			}
		}
		return -1
	}
	switch name {
	case "length":
		return float64(len(arr))
	case "contains", "includes":
		return callable(func(args []interface{}) (interface{}, error) {
			if len(args) == 0 {
				return false, nil
			}
			return indexOf(unwrapSnapshot(args[0])) >= 0, nil
		})
	case "indexOf":
		return callable(func(args []interface{}) (interface{}, error) {
			if len(args) == 0 {
				return float64(-1), nil
			}
			return float64(indexOf(unwrapSnapshot(args[0]))), nil
		})
	}
	return nil
}

func unwrapSnapshot(v interface{}) interface{} {
	if s, ok := v.(*Snapshot); ok {
		return s.Val()
	}
	return v
}

// strictEqual compares objects and arrays structurally.
func strictEqual(a, b interface{}) bool {
	return valuesEqual(a, b)
}

func looseEqual(a, b interface{}) bool {
	_, aNum := a.(float64)
	_, bNum := b.(float64)
	_, aBool := a.(bool)
	_, bBool := b.(bool)
	if (aNum || aBool) && isText(b) || (bNum || bBool) && isText(a) || aBool != bBool && (aNum || bNum) {
		return toNumber(a) == toNumber(b)
	}
	return strictEqual(a, b)
}

func relational(op string, a, b interface{}) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch op {
			case "<":
				return as < bs
			case "<=":
				return as <= bs
			case ">":
				return as > bs
			default:
				return as >= bs
			}
		}
	}
	x, y := toNumber(a), toNumber(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	default:
		return x >= y
	}
}

func isText(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func toNumber(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case nil:
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func toText(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	if s, err := json.MarshalToString(v); err == nil {
		return s
	}
	return fmt.Sprintf("%v", v)
}

