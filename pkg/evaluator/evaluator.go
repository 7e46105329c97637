// Package evaluator assembles the engine: it wires the registry,
// analyzer, resolver, rule parser and filter behind one handle and
// drives a complete evaluation from rule JSON to boolean outcome.
package evaluator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/analyzer"
	"github.com/openrules/openrules/pkg/config"
	"github.com/openrules/openrules/pkg/engine"
	"github.com/openrules/openrules/pkg/filter"
	"github.com/openrules/openrules/pkg/resolver"
	"github.com/openrules/openrules/pkg/rule"
	"github.com/openrules/openrules/pkg/telemetry"
)

// Options configure the assembled engine.
type Options struct {
	// Config supplies the tunables; nil means defaults.
	Config *config.Options

	// Telemetry receives metrics and events; nil disables it.
	Telemetry *telemetry.Telemetry
}

// Engine is the assembled rules engine.
type Engine struct {
	registry engine.Registry
	client   engine.DataServiceClient
	analyzer *analyzer.Analyzer
	resolver *resolver.Resolver
	parser   *rule.Parser
	filter   *filter.Engine
	cfg      *config.Options
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
}

// New assembles an engine from a registry and a data-service client.
func New(registry engine.Registry, client engine.DataServiceClient, opts Options, logger zerolog.Logger) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg.Normalize()
	}

	an := analyzer.New(analyzer.Options{
		MergeThreshold: cfg.Analyzer.MergeGroupThreshold,
	}, logger)
	res := resolver.New(client, resolver.Options{
		OverallTimeout: time.Duration(cfg.Resolution.OverallTimeoutMs) * time.Millisecond,
	}, logger)

	return &Engine{
		registry: registry,
		client:   client,
		analyzer: an,
		resolver: res,
		parser: rule.NewParser(rule.ParserOptions{
			MaxDepth:  cfg.Rule.MaxDepth,
			MaxLeaves: cfg.Rule.MaxLeaves,
		}),
		filter: filter.New(registry, client, an, res, logger),
		cfg:    cfg,
		tel:    opts.Telemetry,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// EvaluateOptions control one evaluation.
type EvaluateOptions struct {
	// Trace enables the per-leaf evaluation trace.
	Trace bool
}

// Result is the outcome of one evaluation.
type Result struct {
	// EvaluationID identifies this evaluation in logs and events.
	EvaluationID string `json:"evaluationId"`

	// Matched is the rule's boolean outcome.
	Matched bool `json:"matched"`

	// RuleHash is the canonical hash of the evaluated rule.
	RuleHash string `json:"ruleHash,omitempty"`

	// Resolution reports how each field was resolved, including
	// per-field failures and warnings.
	Resolution *engine.ResolutionResult `json:"resolution,omitempty"`

	// Trace is the evaluation trace when requested.
	Trace *rule.Trace `json:"trace,omitempty"`

	// DurationMs is the end-to-end wall-clock time.
	DurationMs int64 `json:"durationMs"`
}

// Evaluate parses the rule, resolves its fields and evaluates it
// against the resolved values. Per-field resolution failures degrade
// the affected leaves and are reported in Resolution; only a parse
// failure, a dependency cycle or a registry fault aborts.
func (e *Engine) Evaluate(ctx context.Context, ruleJSON []byte, execCtx *engine.ExecutionContext, opts EvaluateOptions) (*Result, error) {
	start := time.Now()
	evaluationID := uuid.NewString()
	if execCtx == nil {
		execCtx = &engine.ExecutionContext{}
	}

	if e.tel != nil {
		e.tel.Metrics.RecordEvaluationStarted()
		_ = e.tel.Events.PublishEvaluationStarted(evaluationID)
	}

	result, err := e.evaluate(ctx, evaluationID, ruleJSON, execCtx, opts)
	if err != nil {
		if e.tel != nil {
			e.tel.Metrics.RecordEvaluationCompleted("errored", time.Since(start))
			e.tel.Metrics.RecordError(engine.CodeOf(err))
			_ = e.tel.Events.PublishEvaluationFailed(evaluationID, engine.CodeOf(err), err.Error())
		}
		return nil, err
	}

	result.DurationMs = time.Since(start).Milliseconds()
	if e.tel != nil {
		outcome := "unmatched"
		if result.Matched {
			outcome = "matched"
		}
		e.tel.Metrics.RecordEvaluationCompleted(outcome, time.Since(start))
		_ = e.tel.Events.PublishEvaluationCompleted(evaluationID, result.Matched, time.Since(start))
	}

	e.logger.Info().Str("evaluationId", evaluationID).Bool("matched", result.Matched).
		Int64("durationMs", result.DurationMs).Msg("evaluation complete")
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, evaluationID string, ruleJSON []byte, execCtx *engine.ExecutionContext, opts EvaluateOptions) (*Result, error) {
	parsed, err := e.parser.Parse(ruleJSON)
	if err != nil {
		return nil, engine.NewPermanentError("rule did not parse", err).
			WithCode(engine.ErrCodeRuleParse)
	}
	hash, _ := rule.CanonicalHash(parsed)

	resolution, err := e.resolveFields(ctx, parsed, execCtx)
	if err != nil {
		return nil, err
	}

	values := execCtx.FieldValues
	if resolution != nil {
		values = resolution.Values
		if e.tel != nil {
			for _, fr := range resolution.PerFieldStatus {
				e.tel.Metrics.RecordFieldResolution(string(fr.Status))
			}
			e.tel.Metrics.RecordResolutionDuration(time.Duration(resolution.TotalMs) * time.Millisecond)
		}
	}

	eval := rule.Evaluate(parsed, values, rule.EvalOptions{Trace: opts.Trace})
	if eval.Errored {
		return nil, engine.NewPermanentError("rule evaluation failed", eval.Err).
			WithCode(engine.ErrCodeProcessing)
	}

	return &Result{
		EvaluationID: evaluationID,
		Matched:      eval.Result,
		RuleHash:     hash,
		Resolution:   resolution,
		Trace:        eval.Trace,
	}, nil
}

// resolveFields plans and resolves the rule's registered fields. Fields
// covered only by the execution context still flow through the
// resolver, which seeds them without issuing calls. Returns nil when no
// rule field is registered.
func (e *Engine) resolveFields(ctx context.Context, parsed *rule.Rule, execCtx *engine.ExecutionContext) (*engine.ResolutionResult, error) {
	fields := parsed.Fields()
	if len(fields) == 0 {
		return nil, nil
	}

	found, err := e.registry.FindFieldConfigsByName(ctx, fields)
	if err != nil {
		return nil, engine.NewTransientError("field config lookup failed", err).
			WithCode(engine.ErrCodeProcessing)
	}
	if len(found) == 0 {
		// Unregistered fields evaluate from the context alone.
		return nil, nil
	}

	configs := make(map[string]*engine.FieldConfig, len(found))
	names := make([]string, 0, len(found))
	for _, cfg := range found {
		configs[cfg.FieldName] = cfg
		names = append(names, cfg.FieldName)
	}

	plan, err := e.analyzer.BuildPlan(ctx, names, configs)
	if err != nil {
		return nil, err
	}

	return e.resolver.Resolve(ctx, plan, execCtx, configs)
}

// Plan builds the resolution plan for the named fields without
// executing it.
func (e *Engine) Plan(ctx context.Context, fields []string) (*engine.ResolutionPlan, error) {
	found, err := e.registry.FindFieldConfigsByName(ctx, fields)
	if err != nil {
		return nil, engine.NewTransientError("field config lookup failed", err).
			WithCode(engine.ErrCodeProcessing)
	}
	configs := make(map[string]*engine.FieldConfig, len(found))
	known := make(map[string]bool, len(found))
	for _, cfg := range found {
		configs[cfg.FieldName] = cfg
		known[cfg.FieldName] = true
	}
	for _, name := range fields {
		if !known[name] {
			return nil, engine.NewPermanentError("field is not registered", nil).
				WithCode(engine.ErrCodeFieldNotFound).
				WithField(name)
		}
	}
	return e.analyzer.BuildPlan(ctx, fields, configs)
}

// Filter applies the rule over an entity population.
func (e *Engine) Filter(ctx context.Context, typeName string, entityIDs []string, ruleJSON []byte, opts filter.Options) (*filter.Result, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = e.cfg.Filter.DefaultBatchSize
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = e.cfg.Filter.PerEntityConcurrency
	}
	if opts.EntityTimeout == 0 {
		opts.EntityTimeout = time.Duration(e.cfg.Filter.EntityTimeoutMs) * time.Millisecond
	}

	start := time.Now()
	result, err := e.filter.Filter(ctx, typeName, entityIDs, ruleJSON, opts)
	if e.tel != nil {
		if err != nil {
			e.tel.Metrics.RecordFilterRun("errored", time.Since(start))
			e.tel.Metrics.RecordError(engine.CodeOf(err))
		} else {
			e.tel.Metrics.RecordFilterRun("completed", time.Since(start))
			for i := 0; i < result.Metrics.BatchCount; i++ {
				e.tel.Metrics.RecordFilterBatch()
			}
			for _, outcome := range result.Entities {
				switch {
				case outcome.Error != nil:
					e.tel.Metrics.RecordFilterEntity("failed")
				case outcome.Matched:
					e.tel.Metrics.RecordFilterEntity("matched")
				default:
					e.tel.Metrics.RecordFilterEntity("unmatched")
				}
			}
			_ = e.tel.Events.PublishFilterRunCompleted(result.RunID, result.TotalMatched, result.TotalFailed, time.Since(start))
		}
	}
	return result, err
}

// LintRule parses the rule and reports findings against the registry:
// unknown fields and operand shapes that cannot match.
func (e *Engine) LintRule(ctx context.Context, ruleJSON []byte) ([]rule.Finding, error) {
	parsed, err := e.parser.Parse(ruleJSON)
	if err != nil {
		return nil, engine.NewPermanentError("rule did not parse", err).
			WithCode(engine.ErrCodeRuleParse)
	}
	return rule.Lint(parsed, func(name string) bool {
		ok, lookupErr := e.registry.ExistsFieldName(ctx, name)
		return lookupErr == nil && ok
	}), nil
}
