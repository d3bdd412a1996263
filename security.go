package gridbase

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PrivatePrefix marks collections, keys and fields hidden from non-admin callers.
const PrivatePrefix = "_"

// IsPrivateName reports whether name is private.
func IsPrivateName(name string) bool {
	return strings.HasPrefix(name, PrivatePrefix)
}

// Access identifies who is calling.
type Access struct {
	Auth  Claims
	Admin bool
}

// Checkpoint describes one guarded operation.
type Checkpoint struct {
	Permission Permission
	Path       Path
	Data       *Snapshot   // current value at Path
	NewData    *Snapshot   // value after a write
	InputData  interface{} // payload as supplied by the caller
}

// RuleEnv is what a rule expression can see.
type RuleEnv struct {
	Auth      Claims
	Data      *Snapshot
	NewData   *Snapshot
	InputData *Snapshot
	Bindings  Bindings
}

// Security enforces the rule tree and private naming.
type Security struct {
	rules   *RuleTree
	helpers map[string]Helper
	logger  Logger
	metrics Metrics
	now     func() time.Time

	mu    sync.Mutex
	exprs map[string]exprNode
}

// maxCachedExprs bounds the parse cache. Rule trees hold far fewer
// expressions; ad hoc Evaluate calls beyond it are parsed every time.
const maxCachedExprs = 512

// NewSecurity creates a checker. Nil logger and metrics fall back to no-ops.
func NewSecurity(rules *RuleTree, helpers map[string]Helper, logger Logger, metrics Metrics) *Security {
	if rules == nil {
		rules = &RuleTree{Root: &RuleNode{}}
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Security{
		rules:   rules,
		helpers: helpers,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		exprs:   make(map[string]exprNode),
	}
}

// compile parses expr once per Security.
func (s *Security) compile(expr string) (exprNode, error) {
	s.mu.Lock()
	node, ok := s.exprs[expr]
	s.mu.Unlock()
	if ok {
		return node, nil
	}
	node, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if len(s.exprs) < maxCachedExprs {
		s.exprs[expr] = node
	}
	s.mu.Unlock()
	return node, nil
}

// Rules returns the parsed rule tree.
func (s *Security) Rules() *RuleTree {
	return s.rules
}

// Bypass reports whether access skips every check.
func (s *Security) Bypass(access Access) bool {
	return s.rules.Disabled || access.Admin || access.Auth.IsAdmin()
}

// Check runs the private-name checks and then the resolved rule. It returns
// nil when the operation may proceed.
func (s *Security) Check(access Access, cp Checkpoint) error {
	if s.Bypass(access) {
		return nil
	}
	labels := []string{"permission", string(cp.Permission)}

	if err := checkPrivate(cp); err != nil {
		s.metrics.Increment(MetricCheckpointDenied, labels...)
		s.logger.Debug("checkpoint denied", "path", cp.Path.String(), "permission", cp.Permission, "reason", err.Error())
		return err
	}

	rule, bindings := s.rules.Resolve(cp.Permission, cp.Path)
	allowed := rule.Allow
	if rule.IsExpr() {
		env := RuleEnv{
			Auth:      access.Auth,
			Data:      cp.Data,
			NewData:   cp.NewData,
			InputData: NewSnapshot(cp.InputData),
			Bindings:  bindings,
		}
		var err error
		allowed, err = s.Evaluate(rule.Expr, env)
		if err != nil {
			s.logger.Debug("rule evaluation failed", "path", cp.Path.String(), "rule", rule.Expr, "error", err)
		}
	}

	if !allowed {
		s.metrics.Increment(MetricCheckpointDenied, labels...)
		s.logger.Debug("checkpoint denied", "path", cp.Path.String(), "permission", cp.Permission, "rule", rule.String())
		return WithContext(ErrPermissionDenied, map[string]interface{}{
			"path":       cp.Path.String(),
			"permission": string(cp.Permission),
			"rule":       rule.String(),
		})
	}
	s.metrics.Increment(MetricCheckpointAllowed, labels...)
	return nil
}

// Evaluate runs a rule expression. Any parse or evaluation error yields false
// together with the error.
func (s *Security) Evaluate(expr string, env RuleEnv) (allowed bool, err error) {
	node, err := s.compile(expr)
	if err != nil {
		return false, err
	}

	defer func() {
		if r := recover(); r != nil {
			allowed, err = false, fmt.Errorf("rule panicked: %v", r)
		}
	}()

	vars := map[string]interface{}{
		"now":       float64(s.now().UnixMilli()),
		"auth":      nil,
		"data":      orEmptySnapshot(env.Data),
		"newData":   orEmptySnapshot(env.NewData),
		"inputData": orEmptySnapshot(env.InputData),
	}
	if env.Auth != nil {
		vars["auth"] = normalizeValue(map[string]interface{}(env.Auth))
	}
	for name, seg := range env.Bindings {
		vars[name] = seg
	}

	result, err := node.eval(&exprEnv{vars: vars, helpers: s.helpers})
	if err != nil {
		return false, err
	}
	return truthy(unwrapSnapshot(result)), nil
}

func orEmptySnapshot(s *Snapshot) *Snapshot {
	if s == nil {
		return NewSnapshot(nil)
	}
	return s
}

// checkPrivate rejects private collections, keys and fields. Object payloads
// may not carry private fields; scalar payloads need a public field name at
// the end of the path.
func checkPrivate(cp Checkpoint) error {
	for i, seg := range cp.Path {
		if !IsPrivateName(seg) {
			continue
		}
		return WithContext(ErrPrivateName, map[string]interface{}{
			"path":   cp.Path.String(),
			"reason": privateReason(i),
		})
	}

	if cp.Permission != PermissionWrite || cp.InputData == nil {
		return nil
	}

	if obj, ok := cp.InputData.(map[string]interface{}); ok {
		for _, k := range sortedKeys(obj) {
			if IsPrivateName(k) {
				return WithContext(ErrPrivateName, map[string]interface{}{
					"path":   cp.Path.String(),
					"field":  k,
					"reason": "data contains a private field",
				})
			}
		}
		return nil
	}

	var field string
	if cp.Path.Depth() > DepthDocument {
		field = cp.Path.Last()
	}
	if field == "" || IsPrivateName(field) {
		return WithContext(ErrPrivateName, map[string]interface{}{
			"path":   cp.Path.String(),
			"reason": "scalar data needs a public field name",
		})
	}
	return nil
}

func privateReason(depth int) string {
	switch depth {
	case 0:
		return "private collection"
	case 1:
		return "private document"
	default:
		return "private field"
	}
}
