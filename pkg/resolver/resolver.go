// Package resolver executes resolution plans: it seeds context and
// static values, fans out the parallel fetch groups level by level,
// walks sequential chains, applies mapper expressions to responses, and
// finishes with the calculated fields in dependency order.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/calculator"
	"github.com/openrules/openrules/pkg/engine"
	"github.com/openrules/openrules/pkg/mapper"
)

// Options tune the resolver.
type Options struct {
	// OverallTimeout bounds one whole resolution; zero means 60s.
	OverallTimeout time.Duration
}

// Resolver implements engine.FieldResolver.
type Resolver struct {
	client         engine.DataServiceClient
	overallTimeout time.Duration
	logger         zerolog.Logger
}

// New creates a resolver backed by the given data-service client.
func New(client engine.DataServiceClient, opts Options, logger zerolog.Logger) *Resolver {
	timeout := opts.OverallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Resolver{client: client, overallTimeout: timeout, logger: logger}
}

// state accumulates one resolution's outcome behind a mutex; parallel
// groups write concurrently.
type state struct {
	mu       sync.Mutex
	values   map[string]interface{}
	statuses map[string]engine.FieldResolution
	errors   []engine.FieldError
	warnings []string
}

func (s *state) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[name]
	return ok
}

func (s *state) get(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *state) snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *state) resolve(name string, value interface{}, status engine.FieldStatus, tookMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	s.statuses[name] = engine.FieldResolution{Status: status, DurationMs: tookMs}
}

func (s *state) warn(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, message)
}

// fail records a field failure, degrading to the config default when
// one exists.
func (s *state) fail(cfg *engine.FieldConfig, err error, tookMs int64) {
	name := cfg.FieldName
	if cfg.DefaultValue != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.values[name] = cfg.DefaultValue
		s.statuses[name] = engine.FieldResolution{Status: engine.FieldStatusDefaulted, DurationMs: tookMs}
		s.warnings = append(s.warnings, fmt.Sprintf("field %q fell back to its default: %v", name, err))
		return
	}

	code := engine.CodeOf(err)
	if cfg.IsRequired {
		code = engine.ErrCodeRequiredMissing
	}
	fieldErr := engine.FieldError{FieldName: name, Code: code, Message: err.Error()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = engine.FieldResolution{
		Status:     engine.FieldStatusFailed,
		DurationMs: tookMs,
		Error:      &fieldErr,
	}
	s.errors = append(s.errors, fieldErr)
}

// Resolve implements engine.FieldResolver.
func (r *Resolver) Resolve(ctx context.Context, plan *engine.ResolutionPlan, execCtx *engine.ExecutionContext, configs map[string]*engine.FieldConfig) (*engine.ResolutionResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.overallTimeout)
	defer cancel()

	st := &state{
		values:   make(map[string]interface{}),
		statuses: make(map[string]engine.FieldResolution),
	}
	cache := newRequestCache()

	// Context values win over everything and are never fetched.
	if execCtx != nil {
		for name, value := range execCtx.FieldValues {
			st.resolve(name, value, engine.FieldStatusFromContext, 0)
		}
	}
	for name, value := range plan.StaticValues {
		if !st.has(name) {
			st.resolve(name, value, engine.FieldStatusResolved, 0)
		}
	}
	for _, warning := range plan.Warnings {
		st.warn(warning)
	}

	r.runFetchSchedule(ctx, plan, execCtx, configs, st, cache)
	r.runCalculators(ctx, plan, configs, st)

	result := &engine.ResolutionResult{
		Values:         st.values,
		PerFieldStatus: st.statuses,
		Errors:         st.errors,
		Warnings:       st.warnings,
		TotalMs:        time.Since(start).Milliseconds(),
		HasErrors:      len(st.errors) > 0,
	}
	return result, nil
}

// runFetchSchedule walks levels in ascending order, launching the
// groups of each level concurrently and advancing each chain when its
// next member's level comes up.
func (r *Resolver) runFetchSchedule(ctx context.Context, plan *engine.ResolutionPlan, execCtx *engine.ExecutionContext, configs map[string]*engine.FieldConfig, st *state, cache *requestCache) {
	groupsByLevel := make(map[int][]engine.ParallelExecutionGroup)
	for _, group := range plan.ParallelGroups {
		groupsByLevel[group.Level] = append(groupsByLevel[group.Level], group)
	}

	// chainPos tracks how far each chain has advanced.
	chainPos := make([]int, len(plan.SequentialChains))

	for level := 0; level < plan.Levels; level++ {
		if ctx.Err() != nil {
			r.failPending(plan, configs, st, ctx.Err())
			return
		}

		var wg sync.WaitGroup
		for _, group := range groupsByLevel[level] {
			group := group
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.runGroup(ctx, group, execCtx, configs, st, cache)
			}()
		}

		// Chain members at this level run alongside the groups; order
		// within a chain is preserved because members sit at strictly
		// increasing levels.
		for i, chain := range plan.SequentialChains {
			if chainPos[i] >= len(chain.Fields) {
				continue
			}
			name := chain.Fields[chainPos[i]]
			cfg := configs[name]
			if cfg == nil || st.has(name) {
				chainPos[i]++
				continue
			}
			wg.Add(1)
			go func(name string, cfg *engine.FieldConfig) {
				defer wg.Done()
				r.runChainMember(ctx, name, cfg, execCtx, st, cache)
			}(name, cfg)
			chainPos[i]++
		}

		wg.Wait()
	}
}

// callVariables builds the variable map for a data-service call:
// entity identity plus the resolved values of the fields' declared
// dependencies.
func callVariables(execCtx *engine.ExecutionContext, st *state, deps []string) map[string]interface{} {
	variables := make(map[string]interface{})
	if execCtx != nil {
		if execCtx.EntityID != "" {
			variables["entityId"] = execCtx.EntityID
		}
		if execCtx.EntityType != "" {
			variables["entityType"] = execCtx.EntityType
		}
	}
	for _, dep := range deps {
		if value, ok := st.get(dep); ok {
			variables[dep] = value
		}
	}
	return variables
}

// runGroup performs the group's single call and maps every field out of
// the shared response.
func (r *Resolver) runGroup(ctx context.Context, group engine.ParallelExecutionGroup, execCtx *engine.ExecutionContext, configs map[string]*engine.FieldConfig, st *state, cache *requestCache) {
	pending := make([]*engine.FieldConfig, 0, len(group.Fields))
	var deps []string
	for _, name := range group.Fields {
		cfg := configs[name]
		if cfg == nil || st.has(name) {
			continue
		}
		pending = append(pending, cfg)
		deps = append(deps, cfg.Dependencies...)
	}
	if len(pending) == 0 {
		return
	}

	start := time.Now()
	variables := callVariables(execCtx, st, deps)
	response, err := cache.do(cacheKey(group.DataService, variables), func() (interface{}, error) {
		return r.client.Execute(ctx, group.DataService, variables)
	})
	tookMs := time.Since(start).Milliseconds()

	if err != nil {
		r.logger.Warn().Err(err).Str("endpoint", group.DataService.Endpoint).
			Strs("fields", group.Fields).Msg("group fetch failed")
		for _, cfg := range pending {
			st.fail(cfg, err, tookMs)
		}
		return
	}

	for _, cfg := range pending {
		value, err := mapField(cfg, response)
		if err != nil {
			st.fail(cfg, err, tookMs)
			continue
		}
		st.resolve(cfg.FieldName, value, engine.FieldStatusResolved, tookMs)
	}
}

func (r *Resolver) runChainMember(ctx context.Context, name string, cfg *engine.FieldConfig, execCtx *engine.ExecutionContext, st *state, cache *requestCache) {
	start := time.Now()
	variables := callVariables(execCtx, st, cfg.Dependencies)
	response, err := cache.do(cacheKey(cfg.DataService, variables), func() (interface{}, error) {
		return r.client.Execute(ctx, cfg.DataService, variables)
	})
	tookMs := time.Since(start).Milliseconds()

	if err != nil {
		st.fail(cfg, err, tookMs)
		return
	}
	value, err := mapField(cfg, response)
	if err != nil {
		st.fail(cfg, err, tookMs)
		return
	}
	st.resolve(name, value, engine.FieldStatusResolved, tookMs)
}

// mapField extracts the field's value from a response and converts it
// to the declared field type.
func mapField(cfg *engine.FieldConfig, response interface{}) (interface{}, error) {
	expr := cfg.MapperExpression
	if expr == "" {
		expr = cfg.FieldName
	}
	value, err := mapper.Extract(response, expr)
	if err != nil {
		return nil, engine.NewPermanentError(err.Error(), err).
			WithCode(engine.ErrCodeMapping).
			WithField(cfg.FieldName)
	}

	target, convert := conversionTarget(cfg.FieldType)
	if !convert || value == nil {
		return value, nil
	}
	converted, err := mapper.Convert(value, target, expr)
	if err != nil {
		return nil, engine.NewPermanentError(err.Error(), err).
			WithCode(engine.ErrCodeConversion).
			WithField(cfg.FieldName)
	}
	return converted, nil
}

func conversionTarget(ft engine.FieldType) (mapper.Target, bool) {
	switch ft {
	case engine.FieldTypeNumber:
		return mapper.TargetNumber, true
	case engine.FieldTypeBoolean:
		return mapper.TargetBoolean, true
	case engine.FieldTypeDate:
		return mapper.TargetDate, true
	}
	return "", false
}

// runCalculators walks the calculated fields in dependency order.
func (r *Resolver) runCalculators(ctx context.Context, plan *engine.ResolutionPlan, configs map[string]*engine.FieldConfig, st *state) {
	for _, name := range plan.CalculatedOrder {
		cfg := configs[name]
		if cfg == nil || st.has(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			st.fail(cfg, engine.NewTransientError("resolution timed out", err).
				WithCode(engine.ErrCodeTimeout).WithField(name), 0)
			continue
		}

		start := time.Now()
		value, err := r.calculate(ctx, cfg, st)
		tookMs := time.Since(start).Milliseconds()
		if err != nil {
			st.fail(cfg, err, tookMs)
			continue
		}
		st.resolve(name, value, engine.FieldStatusResolved, tookMs)
	}
}

func (r *Resolver) calculate(ctx context.Context, cfg *engine.FieldConfig, st *state) (interface{}, error) {
	for _, dep := range cfg.Dependencies {
		if !st.has(dep) {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("dependency %q did not resolve", dep), nil).
				WithCode(engine.ErrCodeCalculator).
				WithField(cfg.FieldName)
		}
	}

	calc, err := calculator.ForConfig(cfg.Calculator, fmt.Sprintf("%d", cfg.Version))
	if err != nil {
		return nil, err
	}
	var params map[string]interface{}
	if cfg.Calculator != nil {
		params = cfg.Calculator.Parameters
	}
	return calc.Calculate(ctx, params, st.snapshot())
}

// failPending marks every planned-but-unresolved field as timed out.
func (r *Resolver) failPending(plan *engine.ResolutionPlan, configs map[string]*engine.FieldConfig, st *state, cause error) {
	for _, name := range plan.FieldNames() {
		cfg := configs[name]
		if cfg == nil || st.has(name) {
			continue
		}
		if _, done := st.statuses[name]; done {
			continue
		}
		st.fail(cfg, engine.NewTransientError("resolution timed out", cause).
			WithCode(engine.ErrCodeTimeout).WithField(name), 0)
	}
}
