package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine compiles Rego policies and evaluates them against manifest
// documents and question inputs.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	disabled map[string]bool
	loader   *Loader
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	pkg    string
	query  rego.PreparedEvalQuery
}

// Output is one value produced by a policy rule.
type Output struct {
	Policy string
	Value  interface{}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	logger = logger.With().Str("component", "policy-engine").Logger()
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		disabled: make(map[string]bool),
		loader:   NewLoader(logger),
		logger:   logger,
		now:      time.Now,
	}

	ctx := context.Background()
	for _, p := range BuiltinPolicies() {
		p := p
		p.Builtin = true
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = cp
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies loaded")
	return e, nil
}

// AddPolicy compiles and stores a policy, replacing any policy with the
// same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := e.compile(ctx, &p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.disabled[p.Name] {
		cp.policy.Enabled = false
	}
	e.policies[p.Name] = cp
	e.mu.Unlock()

	e.logger.Info().Str("policy", p.Name).Msg("Policy added")
	return nil
}

// LoadPolicies loads every policy under paths and replaces the previously
// loaded (non built-in) policies with them. Nothing changes if any policy
// fails to load or compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.loader.ClearCache()
	loaded, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	compiled := make(map[string]*compiledPolicy, len(loaded))
	for i := range loaded {
		cp, err := e.compile(ctx, &loaded[i])
		if err != nil {
			return err
		}
		compiled[loaded[i].Name] = cp
	}

	e.mu.Lock()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		if e.disabled[name] {
			cp.policy.Enabled = false
		}
		e.policies[name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(compiled)).Strs("paths", paths).Msg("Policies loaded")
	return nil
}

// Watch reloads the policies under paths whenever they change, until ctx
// is cancelled. Reload failures are logged and the previous set is kept.
// onReload, if set, receives the outcome and duration of every reload.
func (e *Engine) Watch(ctx context.Context, paths []string, onReload func(err error, took time.Duration)) error {
	return e.loader.Watch(ctx, paths, func(ctx context.Context) error {
		start := e.now()
		err := e.LoadPolicies(ctx, paths)
		if err != nil {
			e.logger.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
		}
		if onReload != nil {
			onReload(err, e.now().Sub(start))
		}
		return err
	})
}

// SetReloadDelay changes how long Watch waits for file events to settle.
// Non-positive values keep the current delay.
func (e *Engine) SetReloadDelay(d time.Duration) {
	if d > 0 {
		e.loader.ReloadDelay = d
	}
}

// Close stops any active watcher.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

// Evaluate runs the deny and warn rules of every enabled policy against
// each document of a manifest bundle.
func (e *Engine) Evaluate(ctx context.Context, docs []map[string]interface{}, pctx *Context) (*Result, error) {
	start := e.now()
	active := e.enabled()

	kinds := make([]string, 0, len(docs))
	seen := make(map[string]bool)
	for _, doc := range docs {
		if kind, ok := doc["kind"].(string); ok && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(active)),
		Documents:         len(docs),
	}
	for _, cp := range active {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)
	}

	for i, doc := range docs {
		input := DocumentInput{
			Document: normalizeDocument(doc),
			Index:    i,
			Kinds:    kinds,
			Context:  pctx,
		}

		for _, cp := range active {
			rules, err := e.eval(ctx, cp, input)
			if err != nil {
				return nil, err
			}

			for _, v := range rules[string(RuleDeny)] {
				result.Violations = append(result.Violations, newViolation(cp.policy, v, doc, i, cp.policy.Severity))
			}
			for _, v := range rules[string(RuleWarn)] {
				result.Warnings = append(result.Warnings, newViolation(cp.policy, v, doc, i, SeverityWarning))
			}
		}
	}

	result.Allowed = !result.HasBlocking()
	result.Duration = e.now().Sub(start)

	e.logger.Debug().
		Int("documents", len(docs)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Bool("allowed", result.Allowed).
		Msg("Manifest evaluated")

	return result, nil
}

// Collect returns the values of rule across every enabled policy that
// defines it, in policy name order.
func (e *Engine) Collect(ctx context.Context, rule Rule, input interface{}) ([]Output, error) {
	var out []Output
	for _, cp := range e.enabled() {
		rules, err := e.eval(ctx, cp, input)
		if err != nil {
			return nil, err
		}
		for _, v := range rules[string(rule)] {
			out = append(out, Output{Policy: cp.policy.Name, Value: v})
		}
	}
	return out, nil
}

// GetPolicy retrieves a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name. The policy stays disabled
// across reloads until it is enabled again.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	// Copy so that values handed out by ListPolicies stay stable.
	p := *cp.policy
	p.Enabled = enabled
	e.policies[name] = &compiledPolicy{policy: &p, pkg: cp.pkg, query: cp.query}
	if enabled {
		delete(e.disabled, name)
	} else {
		e.disabled[name] = true
	}

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// enabled returns a snapshot of enabled policies in name order.
func (e *Engine) enabled() []*compiledPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// compile parses the module and prepares a query for its whole package,
// so one evaluation yields every rule the policy defines.
func (e *Engine) compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if p.LoadedAt.IsZero() {
		p.LoadedAt = e.now()
	}

	filename := p.Name + ".rego"
	module, err := ast.ParseModule(filename, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.Query(pkg),
		rego.Module(filename, p.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}

	return &compiledPolicy{policy: p, pkg: pkg, query: query}, nil
}

// eval runs the prepared package query and returns its rules as lists.
func (e *Engine) eval(ctx context.Context, cp *compiledPolicy, input interface{}) (map[string][]interface{}, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy %s: %w", cp.policy.Name, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, nil
	}

	rules := make(map[string][]interface{}, len(doc))
	for name, value := range doc {
		switch v := value.(type) {
		case []interface{}:
			rules[name] = v
		case nil:
		default:
			rules[name] = []interface{}{v}
		}
	}
	return rules, nil
}

// newViolation converts a rule value into a Violation. Values may be a
// plain message string or an object with msg/message, severity and field.
func newViolation(p *Policy, value interface{}, doc map[string]interface{}, index int, severity Severity) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: severity,
		Index:    index,
	}

	switch val := value.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["msg"].(string); ok {
			v.Message = msg
		} else if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok && sev != "" {
			v.Severity = Severity(sev)
		}
		if field, ok := val["field"].(string); ok {
			v.Field = field
		}
	default:
		v.Message = fmt.Sprintf("%v", val)
	}

	v.Kind, _ = doc["kind"].(string)
	if meta, ok := doc["metadata"].(map[string]interface{}); ok {
		v.Name, _ = meta["name"].(string)
		v.Namespace, _ = meta["namespace"].(string)
	}
	return v
}

// normalizeDocument converts map[interface{}]interface{} values, which
// YAML decoders produce for non-string keys, into string-keyed maps.
func normalizeDocument(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeDocument(val)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
