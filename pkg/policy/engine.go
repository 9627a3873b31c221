package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Engine evaluates Rego policies over declared build targets.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   *telemetry.Logger
	builtins []Policy
}

// compiledPolicy is a policy whose Rego has been parsed and prepared.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the builtin policies loaded.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.NewComponentLogger("policy"),
		builtins: BuiltinPolicies(),
	}
	if err := e.loadBuiltins(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load builtin policies: %w", err)
	}
	return e, nil
}

// EvaluateGraph runs every enabled policy over every target in the graph.
func (e *Engine) EvaluateGraph(ctx context.Context, g *engine.Graph) (*Result, error) {
	return e.evaluate(ctx, g.Targets())
}

// EvaluateTarget runs every enabled policy over a single target.
func (e *Engine) EvaluateTarget(ctx context.Context, t *engine.Target) (*Result, error) {
	return e.evaluate(ctx, []*engine.Target{t})
}

func (e *Engine) evaluate(ctx context.Context, targets []*engine.Target) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	var warnings []string
	evaluated := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, cp.policy.Name)

		for _, t := range targets {
			input := &Input{
				Target:  t,
				Kind:    t.Kind(),
				Package: t.Label.Package,
			}
			found, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				e.logger.WithError(err).
					WithField("policy", cp.policy.Name).
					WithTarget(t.Label.String()).
					Error("Policy evaluation failed")
				warnings = append(warnings, fmt.Sprintf("policy %s failed on %s: %v", cp.policy.Name, t.Label, err))
				continue
			}
			violations = append(violations, found...)
		}
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocking() {
			allowed = false
			break
		}
	}

	duration := time.Since(start)
	e.logger.WithFields(map[string]interface{}{
		"targets":    len(targets),
		"policies":   len(evaluated),
		"violations": len(violations),
		"duration":   duration.String(),
	}).Debug("Policy evaluation completed")

	return &Result{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		Evaluated:   evaluated,
		EvaluatedAt: time.Now(),
		Duration:    duration,
	}, nil
}

// evaluatePolicy evaluates one compiled policy against one input document.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(cp.policy.Rego))

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)
	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.makeViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego source.
func extractPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "quarry.policies"
}

// makeViolation converts one deny result into a Violation. A deny entry may
// be a bare message string or an object carrying message and severity; the
// target always comes from the input document.
func (e *Engine) makeViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Target:   input.Target.Label.String(),
		Severity: policy.Severity,
	}
	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

// LoadPolicies loads and compiles extra policy files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.WithField("count", len(policies)).Info("Policies loaded")
	return nil
}

// compileAndStore parses and prepares a policy, then registers it.
func (e *Engine) compileAndStore(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query("data"),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}
	e.logger.WithField("policy", policy.Name).Debug("Policy compiled")
	return nil
}

// loadBuiltins compiles and registers the builtin policies.
func (e *Engine) loadBuiltins(ctx context.Context) error {
	for i := range e.builtins {
		if err := e.compileAndStore(ctx, &e.builtins[i]); err != nil {
			return fmt.Errorf("failed to compile builtin policy %s: %w", e.builtins[i].Name, err)
		}
	}
	e.logger.WithField("count", len(e.builtins)).Debug("Builtin policies loaded")
	return nil
}

// Policy returns a loaded policy by name.
func (e *Engine) Policy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops everything and reloads the builtin policies.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltins(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.WithFields(map[string]interface{}{"policy": name, "enabled": enabled}).Info("Policy toggled")
	return nil
}
