package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openscaffold/openscaffold/pkg/engine"
)

// Engine evaluates Rego policies against a composition graph before a
// run. Built-in policies load at construction; user policies layer on
// top via LoadPolicies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		if err := e.compileAndStore(p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// LoadPolicies loads and compiles policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileAndStore(policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// EvaluateGraph evaluates all enabled policies against the graph. The
// run is allowed when no error-severity violation exists; a policy that
// itself fails to evaluate produces a warning, not a block.
func (e *Engine) EvaluateGraph(ctx context.Context, g *engine.Graph, rc *RunContext) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if rc == nil {
		rc = &RunContext{}
	}
	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now()
	}
	input := buildGraphInput(g, rc)

	result := &Result{
		Allowed:     true,
		EvaluatedAt: time.Now(),
	}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for i := range result.Violations {
		if result.Violations[i].Severity == SeverityError {
			result.Allowed = false
			break
		}
	}

	e.logger.Debug().
		Int("policies", len(result.EvaluatedPolicies)).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Msg("Graph policy evaluation completed")

	return result, nil
}

// evaluatePolicy queries the policy's deny set against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *GraphInput) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", packageName(cp.policy.Rego))

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
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, makeViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// packageName extracts the package name from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "scaffold.policies"
}

// makeViolation converts one deny result into a Violation.
func makeViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
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
		if node, ok := v["node"].(string); ok {
			violation.Node = node
		}
		if path, ok := v["path"].(string); ok {
			violation.Path = path
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStore parses and registers a policy. Caller holds the lock
// during LoadPolicies; NewEngine runs before the engine is shared.
func (e *Engine) compileAndStore(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all registered policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReplacePolicies swaps the user-loaded policy set, keeping built-ins.
// Used by the file watcher on reload.
func (e *Engine) ReplacePolicies(policies []*Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := make(map[string]*compiledPolicy)
	for name, cp := range e.policies {
		if cp.policy.Source == "" {
			kept[name] = cp
		}
	}
	e.policies = kept

	for i := range policies {
		if err := e.compileAndStore(policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// SetEnabled toggles a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}
