package evaluator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
	"github.com/openrules/openrules/pkg/filter"
)

// fakeRegistry serves field configs and entity types from maps.
type fakeRegistry struct {
	fields      map[string]*engine.FieldConfig
	entityTypes map[string]*engine.EntityType
}

func (r *fakeRegistry) FindFieldConfigsByName(_ context.Context, names []string) ([]*engine.FieldConfig, error) {
	var found []*engine.FieldConfig
	for _, name := range names {
		if cfg, ok := r.fields[name]; ok {
			found = append(found, cfg)
		}
	}
	return found, nil
}

func (r *fakeRegistry) FindFieldConfig(_ context.Context, name string) (*engine.FieldConfig, error) {
	return r.fields[name], nil
}

func (r *fakeRegistry) FindEntityType(_ context.Context, typeName string) (*engine.EntityType, error) {
	return r.entityTypes[typeName], nil
}

func (r *fakeRegistry) ExistsFieldName(_ context.Context, name string) (bool, error) {
	_, ok := r.fields[name]
	return ok, nil
}

// fakeClient answers data-service calls from a stub and records them.
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	respond func(config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error)
}

func (f *fakeClient) Execute(_ context.Context, config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.respond(config, variables)
}

func (f *fakeClient) Validate(context.Context, *engine.DataServiceConfig) error { return nil }

func newEngine(registry engine.Registry, client engine.DataServiceClient) *Engine {
	return New(registry, client, Options{}, zerolog.Nop())
}

func restService(endpoint string) *engine.DataServiceConfig {
	return &engine.DataServiceConfig{
		Type:     engine.DataServiceREST,
		Endpoint: endpoint,
		Method:   "GET",
	}
}

func TestEvaluate_SimpleNumericAnd(t *testing.T) {
	e := newEngine(&fakeRegistry{}, &fakeClient{})

	ruleJSON := []byte(`{"combinator":"and","rules":[{"field":"age","operator":">=","value":18}]}`)
	result, err := e.Evaluate(context.Background(), ruleJSON, &engine.ExecutionContext{
		FieldValues: map[string]interface{}{"age": 25},
	}, EvaluateOptions{Trace: true})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !result.Matched {
		t.Error("Expected the rule to match")
	}
	if result.EvaluationID == "" || result.RuleHash == "" {
		t.Errorf("Expected identifiers on the result: %+v", result)
	}
	if result.Trace == nil || len(result.Trace.Children) != 1 {
		t.Fatalf("Expected one traced leaf, got %+v", result.Trace)
	}
	leaf := result.Trace.Children[0]
	if leaf.Field != "age" || !leaf.Outcome {
		t.Errorf("Expected a matched age leaf, got %+v", leaf)
	}
}

func TestEvaluate_CoercionAcrossNestedOr(t *testing.T) {
	e := newEngine(&fakeRegistry{}, &fakeClient{})

	ruleJSON := []byte(`{"combinator":"or","rules":[
		{"field":"status","operator":"=","value":"active"},
		{"field":"score","operator":">","value":"80"}]}`)
	result, err := e.Evaluate(context.Background(), ruleJSON, &engine.ExecutionContext{
		FieldValues: map[string]interface{}{"status": "pending", "score": 85},
	}, EvaluateOptions{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Matched {
		t.Error("Expected the second leaf to match after numeric coercion")
	}
}

func TestEvaluate_CalculatedFieldWithExpression(t *testing.T) {
	registry := &fakeRegistry{
		fields: map[string]*engine.FieldConfig{
			"totalAmount": {
				FieldName:    "totalAmount",
				FieldType:    engine.FieldTypeNumber,
				IsCalculated: true,
				Calculator: &engine.CalculatorConfig{
					Type:       engine.CalculatorExpression,
					Expression: "#price * #quantity",
				},
				Dependencies: []string{"price", "quantity"},
			},
		},
	}
	e := newEngine(registry, &fakeClient{})

	ruleJSON := []byte(`{"combinator":"and","rules":[{"field":"totalAmount","operator":">=","value":40}]}`)
	result, err := e.Evaluate(context.Background(), ruleJSON, &engine.ExecutionContext{
		FieldValues: map[string]interface{}{"price": 10, "quantity": 5},
	}, EvaluateOptions{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !result.Matched {
		t.Error("Expected totalAmount 50 to satisfy the rule")
	}
	if got := result.Resolution.Values["totalAmount"]; got != 50.0 {
		t.Errorf("Expected totalAmount 50, got %v", got)
	}
}

func TestEvaluate_IndependentServicesFetchInParallel(t *testing.T) {
	client := &fakeClient{
		respond: func(config *engine.DataServiceConfig, _ map[string]interface{}) (interface{}, error) {
			time.Sleep(100 * time.Millisecond)
			if config.Endpoint == "http://credit/score" {
				return map[string]interface{}{"value": 720.0}, nil
			}
			return map[string]interface{}{"value": "open"}, nil
		},
	}
	registry := &fakeRegistry{
		fields: map[string]*engine.FieldConfig{
			"creditScore": {
				FieldName:        "creditScore",
				FieldType:        engine.FieldTypeNumber,
				MapperExpression: "value",
				DataService:      restService("http://credit/score"),
			},
			"accountStatus": {
				FieldName:        "accountStatus",
				FieldType:        engine.FieldTypeString,
				MapperExpression: "value",
				DataService:      restService("http://accounts/status"),
			},
		},
	}
	e := newEngine(registry, client)

	ruleJSON := []byte(`{"combinator":"and","rules":[
		{"field":"creditScore","operator":">","value":700},
		{"field":"accountStatus","operator":"=","value":"open"}]}`)

	start := time.Now()
	result, err := e.Evaluate(context.Background(), ruleJSON, nil, EvaluateOptions{})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !result.Matched {
		t.Errorf("Expected both leaves to match: %+v", result.Resolution)
	}
	// Two independent endpoints at 100ms each must overlap.
	if elapsed >= 190*time.Millisecond {
		t.Errorf("Expected parallel fetches (~100ms), took %v", elapsed)
	}
}

func TestPlan_CycleDetection(t *testing.T) {
	registry := &fakeRegistry{
		fields: map[string]*engine.FieldConfig{
			"a": {FieldName: "a", FieldType: engine.FieldTypeNumber, Dependencies: []string{"b"}},
			"b": {FieldName: "b", FieldType: engine.FieldTypeNumber, Dependencies: []string{"c"}},
			"c": {FieldName: "c", FieldType: engine.FieldTypeNumber, Dependencies: []string{"a"}},
		},
	}
	e := newEngine(registry, &fakeClient{})

	_, err := e.Plan(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("Expected a cycle error")
	}
	var cycleErr *engine.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CyclicDependencyError, got %T: %v", err, err)
	}
	if len(cycleErr.Path) != 4 || cycleErr.Path[0] != cycleErr.Path[len(cycleErr.Path)-1] {
		t.Errorf("Expected a closed cycle path, got %v", cycleErr.Path)
	}
}

func TestFilter_MixedOutcomesThroughFacade(t *testing.T) {
	client := &fakeClient{
		respond: func(_ *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
			switch variables["entityId"] {
			case "e-1", "e-4":
				return map[string]interface{}{"state": "active"}, nil
			case "e-2":
				return map[string]interface{}{"state": "closed"}, nil
			}
			return nil, engine.NewTransientError("upstream returned 500", nil).
				WithCode(engine.ErrCodeDataService)
		},
	}
	registry := &fakeRegistry{
		entityTypes: map[string]*engine.EntityType{
			"customer": {
				TypeName: "customer",
				DataService: &engine.DataServiceConfig{
					Type:     engine.DataServiceGraphQL,
					Endpoint: "http://entities/customer",
					Query:    "query C { customer { id } }",
				},
				FieldMappings: map[string]string{"status": "state"},
			},
		},
	}
	e := newEngine(registry, client)

	ruleJSON := []byte(`{"combinator":"and","rules":[{"field":"status","operator":"=","value":"active"}]}`)
	result, err := e.Filter(context.Background(), "customer",
		[]string{"e-1", "e-2", "e-3", "e-4", "e-5"}, ruleJSON, filter.Options{})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}

	if result.TotalProcessed != 5 || result.TotalMatched != 2 || result.TotalFailed != 2 {
		t.Errorf("Unexpected totals: processed=%d matched=%d failed=%d",
			result.TotalProcessed, result.TotalMatched, result.TotalFailed)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Expected two entity errors, got %v", result.Errors)
	}
	for _, procErr := range result.Errors {
		if procErr.Code != engine.ErrCodeDataService {
			t.Errorf("Expected DATA_SERVICE_ERROR, got %s", procErr.Code)
		}
	}
}

func TestEvaluate_ParseErrorAborts(t *testing.T) {
	e := newEngine(&fakeRegistry{}, &fakeClient{})

	_, err := e.Evaluate(context.Background(), []byte(`{"combinator":"nand","rules":[]}`), nil, EvaluateOptions{})
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if engine.CodeOf(err) != engine.ErrCodeRuleParse {
		t.Errorf("Expected RULE_PARSE_ERROR, got %s", engine.CodeOf(err))
	}
}

func TestLintRule_UnknownField(t *testing.T) {
	registry := &fakeRegistry{
		fields: map[string]*engine.FieldConfig{
			"status": {FieldName: "status", FieldType: engine.FieldTypeString},
		},
	}
	e := newEngine(registry, &fakeClient{})

	ruleJSON := []byte(`{"combinator":"and","rules":[
		{"field":"status","operator":"=","value":"active"},
		{"field":"typo","operator":"=","value":1}]}`)
	findings, err := e.LintRule(context.Background(), ruleJSON)
	if err != nil {
		t.Fatalf("LintRule failed: %v", err)
	}

	found := false
	for _, f := range findings {
		if f.Field == "typo" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a finding for the unknown field, got %v", findings)
	}
}
