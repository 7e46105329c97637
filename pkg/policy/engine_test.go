package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func graphqlService(endpoint string) *engine.DataServiceConfig {
	return &engine.DataServiceConfig{
		Type:     engine.DataServiceGraphQL,
		Endpoint: endpoint,
		Query:    "query Q { q }",
	}
}

func TestEvaluateFieldConfig_CleanConfigAllowed(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "score",
		FieldType:   engine.FieldTypeNumber,
		DataService: graphqlService("https://fields/score"),
	})
	if err != nil {
		t.Fatalf("EvaluateFieldConfig failed: %v", err)
	}
	if !result.Allowed || len(result.Violations) != 0 {
		t.Errorf("Expected clean config to pass, got %+v", result)
	}
}

func TestEvaluateFieldConfig_DualSourceDenied(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "dual",
		FieldType:   engine.FieldTypeNumber,
		DataService: graphqlService("https://fields/dual"),
		Calculator:  &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "1"},
	})
	if err != nil {
		t.Fatalf("EvaluateFieldConfig failed: %v", err)
	}
	if result.Allowed {
		t.Fatalf("Expected dual-source config to be denied: %+v", result)
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "field-source-exclusivity" {
			found = true
			if v.Subject != "dual" {
				t.Errorf("Expected subject from the violation, got %q", v.Subject)
			}
		}
	}
	if !found {
		t.Errorf("Expected field-source-exclusivity to fire, got %+v", result.Violations)
	}
}

func TestEvaluateFieldConfig_BadSchemeDenied(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "ftp_field",
		FieldType:   engine.FieldTypeString,
		DataService: graphqlService("ftp://fields/nope"),
	})
	if err != nil {
		t.Fatalf("EvaluateFieldConfig failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected non-http endpoint to be denied: %+v", result)
	}
}

func TestEvaluateFieldConfig_TimeoutCeiling(t *testing.T) {
	e := newTestEngine(t)

	service := graphqlService("https://fields/slow")
	service.TimeoutMs = 600000
	result, err := e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "slow",
		FieldType:   engine.FieldTypeString,
		DataService: service,
	})
	if err != nil {
		t.Fatalf("EvaluateFieldConfig failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected ten minute timeout to be denied: %+v", result)
	}
}

func TestEvaluateFieldConfig_SelfDependencyDenied(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:    "loop",
		FieldType:    engine.FieldTypeNumber,
		DataService:  graphqlService("https://fields/loop"),
		Dependencies: []string{"other", "loop"},
	})
	if err != nil {
		t.Fatalf("EvaluateFieldConfig failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected self-dependent field to be denied: %+v", result)
	}
}

func TestEvaluateEntityType_Builtins(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluateEntityType(context.Background(), &engine.EntityType{
		TypeName:    "customer",
		DataService: graphqlService("https://entities/customer"),
	})
	if err != nil {
		t.Fatalf("EvaluateEntityType failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected clean entity type to pass: %+v", result)
	}

	denied, err := e.EvaluateEntityType(context.Background(), &engine.EntityType{
		TypeName:    "customer",
		DataService: graphqlService("file:///etc/passwd"),
	})
	if err != nil {
		t.Fatalf("EvaluateEntityType failed: %v", err)
	}
	if denied.Allowed {
		t.Errorf("Expected file scheme to be denied: %+v", denied)
	}
}

func TestAdmitFieldConfig_ErrorCarriesViolations(t *testing.T) {
	e := newTestEngine(t)

	err := e.AdmitFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "dual",
		FieldType:   engine.FieldTypeNumber,
		DataService: graphqlService("https://fields/dual"),
		Calculator:  &engine.CalculatorConfig{Type: engine.CalculatorExpression, Expression: "1"},
	})
	if err == nil {
		t.Fatal("Expected admission to fail")
	}
	if !strings.Contains(err.Error(), "field-source-exclusivity") {
		t.Errorf("Expected the policy name in the error, got %q", err.Error())
	}
	if engine.CodeOf(err) != engine.ErrCodeProcessing {
		t.Errorf("Expected PROCESSING_ERROR, got %s", engine.CodeOf(err))
	}
}

func TestLoadPolicies_CustomRegoDenies(t *testing.T) {
	dir := t.TempDir()
	rego := `# Deny fields outside the risk namespace.
package custom.naming

import rego.v1

deny contains violation if {
	input.kind == "fieldConfig"
	not startswith(input.fieldConfig.fieldName, "risk.")
	violation := {
		"message": sprintf("field %s is outside the risk namespace", [input.fieldConfig.fieldName]),
		"severity": "error",
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "naming.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	e := newTestEngine(t)
	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	loaded, err := e.GetPolicy("naming")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if loaded.Description == "" {
		t.Error("Expected description from the leading comment")
	}

	result, err := e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "score",
		FieldType:   engine.FieldTypeNumber,
		DataService: graphqlService("https://fields/score"),
	})
	if err != nil {
		t.Fatalf("EvaluateFieldConfig failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected custom policy to deny, got %+v", result)
	}

	// Disabled policies stop firing.
	if err := e.SetEnabled("naming", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	result, _ = e.EvaluateFieldConfig(context.Background(), &engine.FieldConfig{
		FieldName:   "score",
		FieldType:   engine.FieldTypeNumber,
		DataService: graphqlService("https://fields/score"),
	})
	if !result.Allowed {
		t.Errorf("Expected disabled policy to be skipped, got %+v", result)
	}
}
