// Package filter applies a rule over a population of entity IDs. Each
// entity is fetched through its entity type's data service, mapped into
// a field-value map, completed by the field resolver where the rule
// needs more, and evaluated. Failures stay confined to the entity that
// caused them.
package filter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openrules/openrules/pkg/engine"
	"github.com/openrules/openrules/pkg/mapper"
	"github.com/openrules/openrules/pkg/rule"
)

// Options tune one filter operation. Zero values fall back to the
// engine defaults.
type Options struct {
	// Page and Size select the ID page fetched from the entity type's
	// data service when the caller supplies no IDs.
	Page int
	Size int

	// BatchSize is the chunk size; chunks run sequentially.
	BatchSize int

	// Concurrency bounds the entity pipelines running within one chunk.
	Concurrency int

	// EntityTimeout bounds one entity's pipeline.
	EntityTimeout time.Duration

	// Trace attaches the evaluation trace to each outcome.
	Trace bool

	// IncludeEntityData attaches the mapped field values to each outcome.
	IncludeEntityData bool
}

const (
	defaultBatchSize     = 100
	defaultConcurrency   = 16
	defaultEntityTimeout = 5 * time.Second
	defaultPageSize      = 100
)

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.EntityTimeout <= 0 {
		o.EntityTimeout = defaultEntityTimeout
	}
	if o.Size <= 0 {
		o.Size = defaultPageSize
	}
	return o
}

// EntityProcessingError records one entity's failure.
type EntityProcessingError struct {
	EntityID string `json:"entityId"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// EntityOutcome is the per-entity filter result.
type EntityOutcome struct {
	EntityID   string                 `json:"entityId"`
	Matched    bool                   `json:"matched"`
	EntityData map[string]interface{} `json:"entityData,omitempty"`
	Trace      *rule.Trace            `json:"trace,omitempty"`
	Error      *EntityProcessingError `json:"error,omitempty"`
}

// Pagination echoes the page the operation covered.
type Pagination struct {
	Page     int `json:"page"`
	Size     int `json:"size"`
	Returned int `json:"returned"`
}

// Metrics breaks the operation's time down by phase.
type Metrics struct {
	DataRetrievalMs int64 `json:"dataRetrievalMs"`
	EvaluationMs    int64 `json:"evaluationMs"`
	BatchCount      int   `json:"batchCount"`
	TotalMs         int64 `json:"totalMs"`
}

// Result is the outcome of one filter operation. Entities appear in
// input order regardless of completion order.
type Result struct {
	RunID          string                  `json:"runId"`
	Entities       []EntityOutcome         `json:"entities"`
	TotalProcessed int                     `json:"totalProcessed"`
	TotalMatched   int                     `json:"totalMatched"`
	TotalFailed    int                     `json:"totalFailed"`
	Pagination     Pagination              `json:"pagination"`
	Metrics        Metrics                 `json:"metrics"`
	Errors         []EntityProcessingError `json:"errors,omitempty"`
}

// Engine runs filter operations against a registry, a data-service
// client, and the planner/resolver pair.
type Engine struct {
	registry engine.Registry
	client   engine.DataServiceClient
	analyzer engine.Analyzer
	resolver engine.FieldResolver
	logger   zerolog.Logger
}

// New assembles a filter engine.
func New(registry engine.Registry, client engine.DataServiceClient, analyzer engine.Analyzer, resolver engine.FieldResolver, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		client:   client,
		analyzer: analyzer,
		resolver: resolver,
		logger:   logger,
	}
}

// Filter applies the rule to the given entity population. When
// entityIDs is empty the ID page described by opts is fetched from the
// entity type's data service. A parse failure, unknown entity type or
// dependency cycle aborts the whole operation; everything else is
// isolated per entity.
func (e *Engine) Filter(ctx context.Context, typeName string, entityIDs []string, ruleJSON []byte, opts Options) (*Result, error) {
	start := time.Now()
	opts = opts.withDefaults()

	parsed, err := rule.Parse(ruleJSON)
	if err != nil {
		return nil, engine.NewPermanentError("rule did not parse", err).
			WithCode(engine.ErrCodeRuleParse)
	}

	entityType, err := e.registry.FindEntityType(ctx, typeName)
	if err != nil {
		return nil, engine.NewTransientError("entity type lookup failed", err).
			WithCode(engine.ErrCodeProcessing)
	}
	if entityType == nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("entity type %q is not registered", typeName), nil).
			WithCode(engine.ErrCodeFieldNotFound)
	}

	if len(entityIDs) == 0 {
		entityIDs, err = e.fetchIDPage(ctx, entityType, opts)
		if err != nil {
			return nil, err
		}
	}

	mappings, err := e.mergedMappings(ctx, entityType)
	if err != nil {
		return nil, err
	}

	plan, configs, err := e.planExtraFields(ctx, parsed, mappings)
	if err != nil {
		return nil, err
	}

	run := &filterRun{
		engine:     e,
		entityType: entityType,
		mappings:   mappings,
		rule:       parsed,
		plan:       plan,
		configs:    configs,
		opts:       opts,
	}

	outcomes := make([]EntityOutcome, len(entityIDs))
	batches := 0
	for from := 0; from < len(entityIDs); from += opts.BatchSize {
		to := from + opts.BatchSize
		if to > len(entityIDs) {
			to = len(entityIDs)
		}
		batches++

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(opts.Concurrency)
		for i := from; i < to; i++ {
			i := i
			group.Go(func() error {
				outcomes[i] = run.processEntity(groupCtx, entityIDs[i])
				return nil
			})
		}
		// Pipelines never return errors; Wait is a bounded join.
		_ = group.Wait()
	}

	result := &Result{
		RunID:          uuid.NewString(),
		Entities:       outcomes,
		TotalProcessed: len(entityIDs),
		Pagination:     Pagination{Page: opts.Page, Size: opts.Size, Returned: len(entityIDs)},
		Metrics: Metrics{
			DataRetrievalMs: atomic.LoadInt64(&run.retrievalMs),
			EvaluationMs:    atomic.LoadInt64(&run.evaluationMs),
			BatchCount:      batches,
			TotalMs:         time.Since(start).Milliseconds(),
		},
	}
	for _, outcome := range outcomes {
		switch {
		case outcome.Error != nil:
			result.TotalFailed++
			result.Errors = append(result.Errors, *outcome.Error)
		case outcome.Matched:
			result.TotalMatched++
		}
	}

	e.logger.Info().Str("runId", result.RunID).Str("entityType", typeName).
		Int("processed", result.TotalProcessed).Int("matched", result.TotalMatched).
		Int("failed", result.TotalFailed).Int("batches", batches).
		Msg("filter run complete")
	return result, nil
}

// filterRun carries the per-operation immutable inputs plus the shared
// metric counters.
type filterRun struct {
	engine     *Engine
	entityType *engine.EntityType
	mappings   map[string]string
	rule       *rule.Rule
	plan       *engine.ResolutionPlan
	configs    map[string]*engine.FieldConfig
	opts       Options

	retrievalMs  int64
	evaluationMs int64
}

// processEntity runs one entity through fetch, mapping, resolution and
// evaluation. It never returns an error; failures land on the outcome.
func (r *filterRun) processEntity(ctx context.Context, entityID string) EntityOutcome {
	ctx, cancel := context.WithTimeout(ctx, r.opts.EntityTimeout)
	defer cancel()

	outcome := EntityOutcome{EntityID: entityID}
	fail := func(err error) EntityOutcome {
		outcome.Error = &EntityProcessingError{
			EntityID: entityID,
			Code:     engine.CodeOf(err),
			Message:  err.Error(),
		}
		return outcome
	}

	fetchStart := time.Now()
	data, err := r.engine.client.Execute(ctx, r.entityType.DataService, map[string]interface{}{
		"entityId":   entityID,
		"entityType": r.entityType.TypeName,
	})
	if err != nil {
		atomic.AddInt64(&r.retrievalMs, time.Since(fetchStart).Milliseconds())
		return fail(err)
	}

	fields := make(map[string]interface{}, len(r.mappings))
	for name, expr := range r.mappings {
		value, err := mapper.Extract(data, expr)
		if err != nil {
			atomic.AddInt64(&r.retrievalMs, time.Since(fetchStart).Milliseconds())
			return fail(engine.NewPermanentError(err.Error(), err).
				WithCode(engine.ErrCodeMapping).WithField(name))
		}
		fields[name] = value
	}

	if r.plan != nil {
		execCtx := &engine.ExecutionContext{
			EntityID:    entityID,
			EntityType:  r.entityType.TypeName,
			FieldValues: fields,
		}
		resolution, err := r.engine.resolver.Resolve(ctx, r.plan, execCtx, r.configs)
		if err != nil {
			atomic.AddInt64(&r.retrievalMs, time.Since(fetchStart).Milliseconds())
			return fail(err)
		}
		if resolution.HasErrors {
			atomic.AddInt64(&r.retrievalMs, time.Since(fetchStart).Milliseconds())
			first := resolution.Errors[0]
			return fail(engine.NewPermanentError(
				fmt.Sprintf("field %q failed: %s", first.FieldName, first.Message), nil).
				WithCode(first.Code))
		}
		for name, value := range resolution.Values {
			fields[name] = value
		}
	}
	atomic.AddInt64(&r.retrievalMs, time.Since(fetchStart).Milliseconds())

	evalStart := time.Now()
	evaluated := rule.Evaluate(r.rule, fields, rule.EvalOptions{Trace: r.opts.Trace})
	atomic.AddInt64(&r.evaluationMs, time.Since(evalStart).Milliseconds())
	if evaluated.Errored {
		return fail(engine.NewPermanentError("rule evaluation failed", evaluated.Err).
			WithCode(engine.ErrCodeProcessing))
	}

	outcome.Matched = evaluated.Result
	outcome.Trace = evaluated.Trace
	if r.opts.IncludeEntityData {
		outcome.EntityData = fields
	}
	return outcome
}

// mergedMappings walks the parent chain and merges field mappings,
// parents first so the child wins on conflict.
func (e *Engine) mergedMappings(ctx context.Context, entityType *engine.EntityType) (map[string]string, error) {
	chain := []*engine.EntityType{entityType}
	seen := map[string]struct{}{entityType.TypeName: {}}
	for current := entityType; current.ParentTypeName != ""; {
		if _, ok := seen[current.ParentTypeName]; ok {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("entity type parent chain loops at %q", current.ParentTypeName), nil).
				WithCode(engine.ErrCodeCyclicDependency)
		}
		parent, err := e.registry.FindEntityType(ctx, current.ParentTypeName)
		if err != nil {
			return nil, engine.NewTransientError("entity type lookup failed", err).
				WithCode(engine.ErrCodeProcessing)
		}
		if parent == nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("parent entity type %q is not registered", current.ParentTypeName), nil).
				WithCode(engine.ErrCodeFieldNotFound)
		}
		chain = append(chain, parent)
		seen[parent.TypeName] = struct{}{}
		current = parent
	}

	merged := make(map[string]string)
	for i := len(chain) - 1; i >= 0; i-- {
		for name, expr := range chain[i].FieldMappings {
			merged[name] = expr
		}
	}
	return merged, nil
}

// planExtraFields builds one resolution plan for the rule fields the
// entity mappings do not produce. The plan is shared by every entity;
// only the execution context differs. Returns a nil plan when the
// mappings cover the rule.
func (e *Engine) planExtraFields(ctx context.Context, parsed *rule.Rule, mappings map[string]string) (*engine.ResolutionPlan, map[string]*engine.FieldConfig, error) {
	var extra []string
	for _, name := range parsed.Fields() {
		if _, ok := mappings[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) == 0 {
		return nil, nil, nil
	}

	found, err := e.registry.FindFieldConfigsByName(ctx, extra)
	if err != nil {
		return nil, nil, engine.NewTransientError("field config lookup failed", err).
			WithCode(engine.ErrCodeProcessing)
	}
	configs := make(map[string]*engine.FieldConfig, len(found))
	known := make([]string, 0, len(found))
	for _, cfg := range found {
		configs[cfg.FieldName] = cfg
		known = append(known, cfg.FieldName)
	}
	if len(known) == 0 {
		// Unregistered rule fields evaluate as missing.
		return nil, nil, nil
	}

	plan, err := e.analyzer.BuildPlan(ctx, known, configs)
	if err != nil {
		return nil, nil, err
	}
	return plan, configs, nil
}

// fetchIDPage asks the entity type's data service for one page of IDs.
func (e *Engine) fetchIDPage(ctx context.Context, entityType *engine.EntityType, opts Options) ([]string, error) {
	response, err := e.client.Execute(ctx, entityType.DataService, map[string]interface{}{
		"entityType": entityType.TypeName,
		"page":       opts.Page,
		"size":       opts.Size,
	})
	if err != nil {
		return nil, err
	}
	ids, ok := extractIDs(response)
	if !ok {
		return nil, engine.NewPermanentError(
			"entity data service returned no recognizable ID list", nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(entityType.DataService.Endpoint)
	}
	return ids, nil
}

// extractIDs accepts either a bare list of IDs or an object wrapping
// one under a conventional key.
func extractIDs(response interface{}) ([]string, bool) {
	switch v := response.(type) {
	case []interface{}:
		ids := make([]string, len(v))
		for i, item := range v {
			ids[i] = fmt.Sprintf("%v", item)
		}
		return ids, true
	case map[string]interface{}:
		for _, key := range []string{"ids", "entityIds", "items", "data"} {
			if inner, ok := v[key]; ok {
				return extractIDs(inner)
			}
		}
	}
	return nil, false
}
