package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine evaluates admission policies against candidate registrations.
// It satisfies the registry's Admission contract.
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

// NewEngine creates a policy engine with the builtin policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, builtin := range BuiltinPolicies() {
		builtin := builtin
		if err := e.compileAndStore(&builtin); err != nil {
			return nil, fmt.Errorf("failed to compile builtin policy %s: %w", builtin.Name, err)
		}
	}
	return e, nil
}

// LoadPolicies adds operator-supplied policies from files or
// directories to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileAndStore(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("admission policies loaded")
	return nil
}

// EvaluateFieldConfig runs every enabled policy against a candidate
// field config.
func (e *Engine) EvaluateFieldConfig(ctx context.Context, cfg *engine.FieldConfig) (*Result, error) {
	doc, err := toDocument(cfg)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, &admissionInput{
		Kind:        "fieldConfig",
		FieldConfig: doc,
		Context:     operationContext("register"),
	}, cfg.FieldName)
}

// EvaluateEntityType runs every enabled policy against a candidate
// entity type.
func (e *Engine) EvaluateEntityType(ctx context.Context, et *engine.EntityType) (*Result, error) {
	doc, err := toDocument(et)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, &admissionInput{
		Kind:       "entityType",
		EntityType: doc,
		Context:    operationContext("register"),
	}, et.TypeName)
}

// AdmitFieldConfig implements the registry's Admission contract: a
// denied candidate becomes an error carrying every violation message.
func (e *Engine) AdmitFieldConfig(ctx context.Context, cfg *engine.FieldConfig) error {
	result, err := e.EvaluateFieldConfig(ctx, cfg)
	if err != nil {
		return err
	}
	return admissionError(result, cfg.FieldName)
}

// AdmitEntityType implements the registry's Admission contract.
func (e *Engine) AdmitEntityType(ctx context.Context, et *engine.EntityType) error {
	result, err := e.EvaluateEntityType(ctx, et)
	if err != nil {
		return err
	}
	return admissionError(result, et.TypeName)
}

func admissionError(result *Result, subject string) error {
	if result.Allowed {
		return nil
	}
	messages := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
	}
	return engine.NewPermanentError(
		fmt.Sprintf("admission denied for %q: %s", subject, strings.Join(messages, "; ")), nil).
		WithCode(engine.ErrCodeProcessing)
}

func (e *Engine) evaluate(ctx context.Context, input *admissionInput, subject string) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: time.Now()}
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, cp, input, subject)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).
				Str("subject", subject).Msg("policy evaluation failed")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			result.Allowed = false
			break
		}
	}
	return result, nil
}

// evaluatePolicy queries the policy package's deny set.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *admissionInput, subject string) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", cp.module.Package.Path.String()[len("data."):])

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
		for _, expression := range result.Expressions {
			denySet, ok := expression.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range denySet {
				violations = append(violations, e.toViolation(cp.policy, entry, subject))
			}
		}
	}
	return violations, nil
}

func (e *Engine) toViolation(policy *Policy, entry interface{}, subject string) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Subject:  subject,
		Severity: policy.Severity,
	}
	switch v := entry.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if sub, ok := v["subject"].(string); ok {
			violation.Subject = sub
		}
	default:
		violation.Message = fmt.Sprintf("%v", entry)
	}
	return violation
}

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
	e.logger.Debug().Str("policy", policy.Name).Msg("policy compiled")
	return nil
}

// GetPolicy returns a loaded policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns every loaded policy.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// SetEnabled flips a policy on or off.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("policy toggled")
	return nil
}

// toDocument round-trips a typed config through JSON so Rego sees the
// wire-shape keys.
func toDocument(v interface{}) (map[string]interface{}, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode admission input: %w", err)
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode admission input: %w", err)
	}
	return doc, nil
}

func operationContext(operation string) map[string]interface{} {
	return map[string]interface{}{
		"operation": operation,
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
