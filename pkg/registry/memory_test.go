package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

func newMemory() *Memory {
	return NewMemory(MemoryOptions{}, zerolog.Nop())
}

func scoreService() *engine.DataServiceConfig {
	return &engine.DataServiceConfig{
		Type:     engine.DataServiceGraphQL,
		Endpoint: "http://fields/score",
		Query:    "query S { score }",
	}
}

func TestMemory_SaveAndFind(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	cfg := &engine.FieldConfig{
		FieldName:   "score",
		FieldType:   engine.FieldTypeNumber,
		DataService: scoreService(),
	}
	if err := m.SaveFieldConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveFieldConfig failed: %v", err)
	}

	found, err := m.FindFieldConfig(ctx, "score")
	if err != nil {
		t.Fatalf("FindFieldConfig failed: %v", err)
	}
	if found == nil || found.FieldName != "score" || found.Version != 1 {
		t.Errorf("Unexpected config: %+v", found)
	}

	exists, _ := m.ExistsFieldName(ctx, "score")
	if !exists {
		t.Error("ExistsFieldName returned false for a saved field")
	}
	missing, err := m.FindFieldConfig(ctx, "ghost")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for unknown field, got %v, %v", missing, err)
	}
}

func TestMemory_ResaveBumpsVersion(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	cfg := &engine.FieldConfig{
		FieldName:   "score",
		FieldType:   engine.FieldTypeNumber,
		DataService: scoreService(),
	}
	for i := 0; i < 3; i++ {
		if err := m.SaveFieldConfig(ctx, cfg); err != nil {
			t.Fatalf("SaveFieldConfig failed: %v", err)
		}
	}

	found, _ := m.FindFieldConfig(ctx, "score")
	if found.Version != 3 {
		t.Errorf("Expected version 3 after three saves, got %d", found.Version)
	}
}

func TestMemory_ValidationRejections(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  *engine.FieldConfig
	}{
		{
			"dual source",
			&engine.FieldConfig{
				FieldName:   "dual",
				FieldType:   engine.FieldTypeNumber,
				DataService: scoreService(),
				Calculator:  &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "1"},
			},
		},
		{
			"mapper without data service",
			&engine.FieldConfig{
				FieldName:        "orphan",
				FieldType:        engine.FieldTypeString,
				MapperExpression: "user.name",
			},
		},
		{
			"invalid field name",
			&engine.FieldConfig{FieldName: "9lives", FieldType: engine.FieldTypeString},
		},
		{
			"expression does not compile",
			&engine.FieldConfig{
				FieldName:  "broken",
				FieldType:  engine.FieldTypeNumber,
				Calculator: &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "#a +"},
			},
		},
		{
			"builtin without function",
			&engine.FieldConfig{
				FieldName:  "nofunc",
				FieldType:  engine.FieldTypeNumber,
				Calculator: &engine.CalculatorConfig{Type: engine.CalculatorBuiltin},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.SaveFieldConfig(ctx, tt.cfg); err == nil {
				t.Errorf("Expected %s to be rejected", tt.name)
			}
		})
	}
}

func TestMemory_Delete(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	cfg := &engine.FieldConfig{
		FieldName:   "score",
		FieldType:   engine.FieldTypeNumber,
		DataService: scoreService(),
	}
	if err := m.SaveFieldConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveFieldConfig failed: %v", err)
	}

	if !m.DeleteFieldConfig(ctx, "score") {
		t.Error("Expected delete to report the field existed")
	}
	if m.DeleteFieldConfig(ctx, "score") {
		t.Error("Expected second delete to report absence")
	}
	if exists, _ := m.ExistsFieldName(ctx, "score"); exists {
		t.Error("Field still visible after delete")
	}
}

func TestMemory_EntityTypes(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	et := &engine.EntityType{
		TypeName:      "customer",
		DataService:   scoreService(),
		FieldMappings: map[string]string{"status": "state"},
	}
	if err := m.SaveEntityType(ctx, et); err != nil {
		t.Fatalf("SaveEntityType failed: %v", err)
	}
	if err := m.SaveEntityType(ctx, et); err != nil {
		t.Fatalf("SaveEntityType failed: %v", err)
	}

	found, err := m.FindEntityType(ctx, "customer")
	if err != nil {
		t.Fatalf("FindEntityType failed: %v", err)
	}
	if found.Version != 2 {
		t.Errorf("Expected version 2, got %d", found.Version)
	}

	if err := m.SaveEntityType(ctx, &engine.EntityType{TypeName: "broken"}); err == nil {
		t.Error("Expected entity type without data service to be rejected")
	}
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	cfg := &engine.FieldConfig{
		FieldName:    "score",
		FieldType:    engine.FieldTypeNumber,
		DataService:  scoreService(),
		Dependencies: []string{"account"},
	}
	if err := m.SaveFieldConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveFieldConfig failed: %v", err)
	}

	first, _ := m.FindFieldConfig(ctx, "score")
	first.Dependencies[0] = "tampered"
	first.DataService.Endpoint = "http://tampered"

	second, _ := m.FindFieldConfig(ctx, "score")
	if second.Dependencies[0] != "account" || second.DataService.Endpoint != "http://fields/score" {
		t.Errorf("Stored config was mutated through a read: %+v", second)
	}
}

func TestMemory_ListNames(t *testing.T) {
	m := newMemory()
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		cfg := &engine.FieldConfig{
			FieldName:   name,
			FieldType:   engine.FieldTypeString,
			DataService: scoreService(),
		}
		if err := m.SaveFieldConfig(ctx, cfg); err != nil {
			t.Fatalf("SaveFieldConfig failed: %v", err)
		}
	}

	names := m.ListFieldNames(ctx)
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected sorted names %v, got %v", want, names)
			break
		}
	}
}
