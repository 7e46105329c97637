package analyzer

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

func testAnalyzer() *Analyzer {
	return New(Options{}, zerolog.Nop())
}

func gqlConfig(endpoint, query string) *engine.DataServiceConfig {
	return &engine.DataServiceConfig{
		Type:     engine.DataServiceGraphQL,
		Endpoint: endpoint,
		Query:    query,
	}
}

func staticField(name string, value interface{}) *engine.FieldConfig {
	return &engine.FieldConfig{FieldName: name, DefaultValue: value}
}

func dsField(name string, cfg *engine.DataServiceConfig, deps ...string) *engine.FieldConfig {
	return &engine.FieldConfig{FieldName: name, DataService: cfg, Dependencies: deps}
}

func calcField(name, expr string, deps ...string) *engine.FieldConfig {
	return &engine.FieldConfig{
		FieldName:    name,
		Calculator:   &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: expr},
		Dependencies: deps,
	}
}

func configMap(configs ...*engine.FieldConfig) map[string]*engine.FieldConfig {
	out := make(map[string]*engine.FieldConfig, len(configs))
	for _, cfg := range configs {
		out[cfg.FieldName] = cfg
	}
	return out
}

func TestBuildPlan_StaticOnly(t *testing.T) {
	configs := configMap(
		staticField("region", "us"),
		staticField("tier", "basic"),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), []string{"region", "tier"}, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.StaticValues) != 2 || plan.StaticValues["region"] != "us" {
		t.Errorf("Unexpected static values: %v", plan.StaticValues)
	}
	if len(plan.ParallelGroups) != 0 || len(plan.SequentialChains) != 0 {
		t.Errorf("Expected no groups or chains, got %+v", plan)
	}
	if plan.EstimatedMs != 0 {
		t.Errorf("Expected zero cost, got %d", plan.EstimatedMs)
	}
}

func TestBuildPlan_SharedCallBatchesIntoOneGroup(t *testing.T) {
	shared := gqlConfig("https://api.example.com/graphql", "query User { user { name email age } }")
	configs := configMap(
		dsField("name", shared),
		dsField("email", shared),
		dsField("age", shared),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.ParallelGroups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(plan.ParallelGroups))
	}
	group := plan.ParallelGroups[0]
	if len(group.Fields) != 3 || group.Level != 0 {
		t.Errorf("Unexpected group: %+v", group)
	}
	if group.EstimatedMs != 300 {
		t.Errorf("Expected 300ms estimate, got %d", group.EstimatedMs)
	}
	if plan.EstimatedMs != 300 {
		t.Errorf("Expected 300ms total, got %d", plan.EstimatedMs)
	}
}

func TestBuildPlan_DistinctCallsSplitGroups(t *testing.T) {
	configs := configMap(
		dsField("a", gqlConfig("https://svc-a.example.com/graphql", "query A { a { v1 v2 v3 } }")),
		dsField("b", gqlConfig("https://svc-a.example.com/graphql", "query A { a { v1 v2 v3 } }")),
		dsField("c", gqlConfig("https://svc-a.example.com/graphql", "query A { a { v1 v2 v3 } }")),
		dsField("d", gqlConfig("https://svc-b.example.com/graphql", "query B { b { v1 v2 v3 } }")),
		dsField("e", gqlConfig("https://svc-b.example.com/graphql", "query B { b { v1 v2 v3 } }")),
		dsField("f", gqlConfig("https://svc-b.example.com/graphql", "query B { b { v1 v2 v3 } }")),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.ParallelGroups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(plan.ParallelGroups))
	}
	// Both groups sit at level 0 and run concurrently.
	if plan.EstimatedMs != 300 {
		t.Errorf("Expected 300ms total, got %d", plan.EstimatedMs)
	}
}

func TestBuildPlan_SmallSameEndpointGroupsMerge(t *testing.T) {
	configs := configMap(
		dsField("a", gqlConfig("https://api.example.com/graphql", "query A { a }")),
		dsField("b", gqlConfig("https://api.example.com/graphql", "query B { b }")),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.ParallelGroups) != 1 {
		t.Fatalf("Expected merged single group, got %d groups", len(plan.ParallelGroups))
	}
	if len(plan.ParallelGroups[0].Fields) != 2 {
		t.Errorf("Expected both fields in the merged group, got %v", plan.ParallelGroups[0].Fields)
	}
}

func TestBuildPlan_ChainExcludesFieldsFromGroups(t *testing.T) {
	configs := configMap(
		dsField("account", gqlConfig("https://accounts.example.com/graphql", "query A { account { id } }")),
		dsField("orders", gqlConfig("https://orders.example.com/graphql", "query O { orders { total } }"), "account"),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.SequentialChains) != 1 {
		t.Fatalf("Expected 1 chain, got %d", len(plan.SequentialChains))
	}
	chain := plan.SequentialChains[0]
	if len(chain.Fields) != 2 || chain.Fields[0] != "account" || chain.Fields[1] != "orders" {
		t.Errorf("Unexpected chain order: %v", chain.Fields)
	}
	if chain.EstimatedMs != 300 {
		t.Errorf("Expected 300ms chain estimate, got %d", chain.EstimatedMs)
	}
	if len(plan.ParallelGroups) != 0 {
		t.Errorf("Chained fields must not appear in groups: %+v", plan.ParallelGroups)
	}
}

func TestBuildPlan_CalculatedOrderFollowsLevels(t *testing.T) {
	shared := gqlConfig("https://api.example.com/graphql", "query Q { q { price quantity } }")
	configs := configMap(
		dsField("price", shared),
		dsField("quantity", shared),
		calcField("total", "#price * #quantity", "price", "quantity"),
		calcField("grand_total", "#total * 1.2", "total"),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	want := []string{"total", "grand_total"}
	if len(plan.CalculatedOrder) != len(want) {
		t.Fatalf("Expected order %v, got %v", want, plan.CalculatedOrder)
	}
	for i := range want {
		if plan.CalculatedOrder[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], plan.CalculatedOrder[i])
		}
	}
	if plan.Levels != 3 {
		t.Errorf("Expected 3 levels, got %d", plan.Levels)
	}
}

func TestBuildPlan_CycleRejected(t *testing.T) {
	// The path must follow the dependency direction: each entry depends
	// on the next one.
	tests := []struct {
		name    string
		configs map[string]*engine.FieldConfig
		want    []string
	}{
		{
			name: "a depends on b depends on c depends on a",
			configs: configMap(
				calcField("a", "#b + 1", "b"),
				calcField("b", "#c + 1", "c"),
				calcField("c", "#a + 1", "a"),
			),
			want: []string{"a", "b", "c", "a"},
		},
		{
			name: "a depends on c depends on b depends on a",
			configs: configMap(
				calcField("a", "#c + 1", "c"),
				calcField("b", "#a + 1", "a"),
				calcField("c", "#b + 1", "b"),
			),
			want: []string{"a", "c", "b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testAnalyzer().BuildPlan(context.Background(), nil, tt.configs)
			if err == nil {
				t.Fatal("Expected cycle rejection")
			}

			cycleErr, ok := err.(*engine.CyclicDependencyError)
			if !ok {
				t.Fatalf("Expected CyclicDependencyError, got %T", err)
			}
			if !reflect.DeepEqual(cycleErr.Path, tt.want) {
				t.Errorf("Expected path %v, got %v", tt.want, cycleErr.Path)
			}
		})
	}
}

func TestBuildPlan_UnknownDependencyWarns(t *testing.T) {
	configs := configMap(
		calcField("score", "#base * 2", "base"),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %v", plan.Warnings)
	}
	// The unknown dependency contributes no edge, so the field plans at
	// level 0.
	if plan.Levels != 1 {
		t.Errorf("Expected 1 level, got %d", plan.Levels)
	}
}

func TestToDOT(t *testing.T) {
	shared := gqlConfig("https://api.example.com/graphql", "query Q { q { a b c } }")
	configs := configMap(
		staticField("region", "us"),
		dsField("a", shared),
		dsField("b", shared),
		dsField("c", shared),
		calcField("sum", "#a + #b", "a", "b"),
	)

	plan, err := testAnalyzer().BuildPlan(context.Background(), nil, configs)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	dot := ToDOT(plan)
	for _, want := range []string{"digraph ResolutionPlan", "cluster_level_0", `"region"`, `"sum"`} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
}
