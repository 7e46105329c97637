package resolver

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

// fakeClient records every Execute call and answers from a stub.
type fakeClient struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error)
}

type fakeCall struct {
	endpoint  string
	variables map[string]interface{}
}

func (f *fakeClient) Execute(_ context.Context, config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{endpoint: config.Endpoint, variables: variables})
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(config, variables)
}

func (f *fakeClient) Validate(context.Context, *engine.DataServiceConfig) error { return nil }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func gqlService(endpoint string) *engine.DataServiceConfig {
	return &engine.DataServiceConfig{
		Type:     engine.DataServiceGraphQL,
		Endpoint: endpoint,
		Query:    "query Q { q }",
	}
}

func newTestResolver(client engine.DataServiceClient) *Resolver {
	return New(client, Options{}, zerolog.Nop())
}

func TestResolve_ContextValuesWin(t *testing.T) {
	client := &fakeClient{}
	service := gqlService("http://fields/status")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"status"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"status": {FieldName: "status", FieldType: engine.FieldTypeString, DataService: service},
	}
	execCtx := &engine.ExecutionContext{
		EntityID:    "e-1",
		FieldValues: map[string]interface{}{"status": "vip"},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, execCtx, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Values["status"] != "vip" {
		t.Errorf("Expected context value to win, got %v", result.Values["status"])
	}
	if result.PerFieldStatus["status"].Status != engine.FieldStatusFromContext {
		t.Errorf("Expected context status, got %s", result.PerFieldStatus["status"].Status)
	}
	if client.callCount() != 0 {
		t.Errorf("Context-satisfied field must not be fetched, saw %d calls", client.callCount())
	}
}

func TestResolve_StaticValuesSeed(t *testing.T) {
	client := &fakeClient{}
	plan := &engine.ResolutionPlan{
		StaticValues: map[string]interface{}{"region": "eu"},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, nil, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Values["region"] != "eu" {
		t.Errorf("Expected static value, got %v", result.Values["region"])
	}
	if result.PerFieldStatus["region"].Status != engine.FieldStatusResolved {
		t.Errorf("Expected resolved status, got %s", result.PerFieldStatus["region"].Status)
	}
}

func TestResolve_GroupMapsSharedResponse(t *testing.T) {
	client := &fakeClient{
		respond: func(*engine.DataServiceConfig, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{
				"user": map[string]interface{}{"name": "ada", "age": "41"},
			}, nil
		},
	}
	service := gqlService("http://fields/user")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"name", "age"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"name": {FieldName: "name", FieldType: engine.FieldTypeString, MapperExpression: "user.name", DataService: service},
		"age":  {FieldName: "age", FieldType: engine.FieldTypeNumber, MapperExpression: "user.age", DataService: service},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, &engine.ExecutionContext{EntityID: "e-1"}, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if client.callCount() != 1 {
		t.Errorf("Expected one shared call, got %d", client.callCount())
	}
	if result.Values["name"] != "ada" {
		t.Errorf("Unexpected name: %v", result.Values["name"])
	}
	if result.Values["age"] != 41.0 {
		t.Errorf("Expected age converted to number, got %v (%T)", result.Values["age"], result.Values["age"])
	}
}

func TestResolve_ChainPassesResolvedValues(t *testing.T) {
	client := &fakeClient{
		respond: func(config *engine.DataServiceConfig, _ map[string]interface{}) (interface{}, error) {
			switch config.Endpoint {
			case "http://fields/account":
				return map[string]interface{}{"account": "a-9"}, nil
			case "http://fields/orders":
				return map[string]interface{}{"orders": 3.0}, nil
			}
			return nil, nil
		},
	}
	accountService := gqlService("http://fields/account")
	ordersService := gqlService("http://fields/orders")
	plan := &engine.ResolutionPlan{
		SequentialChains: []engine.SequentialExecutionChain{
			{Fields: []string{"account", "orders"}},
		},
		Levels: 2,
	}
	configs := map[string]*engine.FieldConfig{
		"account": {FieldName: "account", FieldType: engine.FieldTypeString, DataService: accountService},
		"orders":  {FieldName: "orders", FieldType: engine.FieldTypeNumber, DataService: ordersService, Dependencies: []string{"account"}},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, &engine.ExecutionContext{EntityID: "e-1"}, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Values["account"] != "a-9" || result.Values["orders"] != 3.0 {
		t.Errorf("Unexpected values: %v", result.Values)
	}
	if client.callCount() != 2 {
		t.Fatalf("Expected two chained calls, got %d", client.callCount())
	}
	second := client.calls[1]
	if second.endpoint != "http://fields/orders" {
		t.Errorf("Chain order violated: second call hit %s", second.endpoint)
	}
	if second.variables["account"] != "a-9" {
		t.Errorf("Expected earlier chain value as variable, got %v", second.variables)
	}
}

func TestResolve_IdenticalCallsAreMemoized(t *testing.T) {
	client := &fakeClient{
		respond: func(*engine.DataServiceConfig, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"a": 1.0, "b": 2.0}, nil
		},
	}
	service := gqlService("http://fields/pair")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"a"}, DataService: service},
			{Level: 0, Fields: []string{"b"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"a": {FieldName: "a", FieldType: engine.FieldTypeNumber, DataService: service},
		"b": {FieldName: "b", FieldType: engine.FieldTypeNumber, DataService: service},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, &engine.ExecutionContext{EntityID: "e-1"}, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if client.callCount() != 1 {
		t.Errorf("Expected identical concurrent calls to collapse into one, got %d", client.callCount())
	}
	if result.Values["a"] != 1.0 || result.Values["b"] != 2.0 {
		t.Errorf("Unexpected values: %v", result.Values)
	}
}

func TestResolve_FailureFallsBackToDefault(t *testing.T) {
	client := &fakeClient{
		respond: func(*engine.DataServiceConfig, map[string]interface{}) (interface{}, error) {
			return nil, engine.NewTransientError("upstream down", nil).WithCode(engine.ErrCodeDataService)
		},
	}
	service := gqlService("http://fields/tier")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"tier"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"tier": {FieldName: "tier", FieldType: engine.FieldTypeString, DefaultValue: "standard", DataService: service},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, nil, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Values["tier"] != "standard" {
		t.Errorf("Expected default value, got %v", result.Values["tier"])
	}
	if result.PerFieldStatus["tier"].Status != engine.FieldStatusDefaulted {
		t.Errorf("Expected defaulted status, got %s", result.PerFieldStatus["tier"].Status)
	}
	if result.HasErrors {
		t.Error("Defaulted field must not count as an error")
	}
	if len(result.Warnings) == 0 {
		t.Error("Expected a degradation warning")
	}
}

func TestResolve_RequiredFailureIsAnError(t *testing.T) {
	client := &fakeClient{
		respond: func(*engine.DataServiceConfig, map[string]interface{}) (interface{}, error) {
			return nil, engine.NewPermanentError("not found", nil).WithCode(engine.ErrCodeDataService)
		},
	}
	service := gqlService("http://fields/limit")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"limit"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"limit": {FieldName: "limit", FieldType: engine.FieldTypeNumber, IsRequired: true, DataService: service},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, nil, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !result.HasErrors || len(result.Errors) != 1 {
		t.Fatalf("Expected one field error, got %v", result.Errors)
	}
	if result.Errors[0].Code != engine.ErrCodeRequiredMissing {
		t.Errorf("Expected REQUIRED_FIELD_MISSING, got %s", result.Errors[0].Code)
	}
	if _, ok := result.Values["limit"]; ok {
		t.Error("Failed field must not carry a value")
	}
}

func TestResolve_MappingFailureCarriesCode(t *testing.T) {
	client := &fakeClient{
		respond: func(*engine.DataServiceConfig, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"other": true}, nil
		},
	}
	service := gqlService("http://fields/missing")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"missing"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"missing": {FieldName: "missing", FieldType: engine.FieldTypeString, MapperExpression: "payload.value", DataService: service},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, nil, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected one error, got %v", result.Errors)
	}
	if result.Errors[0].Code != engine.ErrCodeMapping {
		t.Errorf("Expected MAPPING_ERROR, got %s", result.Errors[0].Code)
	}
}

func TestResolve_CalculatedFieldsRunLast(t *testing.T) {
	client := &fakeClient{}
	plan := &engine.ResolutionPlan{
		StaticValues:    map[string]interface{}{"price": 2.0, "qty": 3.0},
		CalculatedOrder: []string{"total", "grand_total"},
	}
	configs := map[string]*engine.FieldConfig{
		"total": {
			FieldName:    "total",
			FieldType:    engine.FieldTypeNumber,
			Dependencies: []string{"price", "qty"},
			Calculator:   &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "#price * #qty"},
		},
		"grand_total": {
			FieldName:    "grand_total",
			FieldType:    engine.FieldTypeNumber,
			Dependencies: []string{"total"},
			Calculator:   &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "#total + 1"},
		},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, nil, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Values["total"] != 6.0 {
		t.Errorf("Expected total 6, got %v", result.Values["total"])
	}
	if result.Values["grand_total"] != 7.0 {
		t.Errorf("Expected grand_total 7, got %v", result.Values["grand_total"])
	}
}

func TestResolve_CalculatorMissingDependencyFails(t *testing.T) {
	client := &fakeClient{}
	plan := &engine.ResolutionPlan{
		CalculatedOrder: []string{"score"},
	}
	configs := map[string]*engine.FieldConfig{
		"score": {
			FieldName:    "score",
			FieldType:    engine.FieldTypeNumber,
			Dependencies: []string{"ghost"},
			Calculator:   &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "#ghost * 2"},
		},
	}

	result, err := newTestResolver(client).Resolve(context.Background(), plan, nil, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected one error, got %v", result.Errors)
	}
	if result.Errors[0].Code != engine.ErrCodeCalculator {
		t.Errorf("Expected CALCULATOR_ERROR, got %s", result.Errors[0].Code)
	}
}

func TestResolve_ExpiredContextTimesOutPending(t *testing.T) {
	client := &fakeClient{}
	service := gqlService("http://fields/slow")
	plan := &engine.ResolutionPlan{
		ParallelGroups: []engine.ParallelExecutionGroup{
			{Level: 0, Fields: []string{"slow"}, DataService: service},
		},
		Levels: 1,
	}
	configs := map[string]*engine.FieldConfig{
		"slow": {FieldName: "slow", FieldType: engine.FieldTypeString, DataService: service},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestResolver(client).Resolve(ctx, plan, nil, configs)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected the pending field to fail, got %v", result.Errors)
	}
	if result.Errors[0].Code != engine.ErrCodeTimeout {
		t.Errorf("Expected TIMEOUT, got %s", result.Errors[0].Code)
	}
	if result.PerFieldStatus["slow"].Status != engine.FieldStatusFailed {
		t.Errorf("Expected failed status, got %s", result.PerFieldStatus["slow"].Status)
	}
}
