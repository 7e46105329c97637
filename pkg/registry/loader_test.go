package registry

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeBundle(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoader_YAMLBundle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "fields.yaml", `
fields:
  - fieldName: score
    fieldType: NUMBER
    mapperExpression: data.score
    dataServiceConfig:
      type: GRAPHQL
      endpoint: http://fields/score
      query: "query S { score }"
entityTypes:
  - typeName: customer
    dataServiceConfig:
      type: REST
      endpoint: http://entities/customer/{entityId}
      method: GET
    fieldMappings:
      status: state
`)

	m := newMemory()
	loader := NewLoader(m, zerolog.Nop())
	report, err := loader.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if report.Fields != 1 || report.EntityTypes != 1 || len(report.Errors) != 0 {
		t.Fatalf("Unexpected report: %+v", report)
	}

	cfg, _ := m.FindFieldConfig(context.Background(), "score")
	if cfg == nil || cfg.MapperExpression != "data.score" {
		t.Errorf("Field not registered from YAML: %+v", cfg)
	}
	et, _ := m.FindEntityType(context.Background(), "customer")
	if et == nil || et.FieldMappings["status"] != "state" {
		t.Errorf("Entity type not registered from YAML: %+v", et)
	}
}

func TestLoader_JSONBundle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "fields.json", `{
  "fields": [
    {
      "fieldName": "tier",
      "fieldType": "STRING",
      "defaultValue": "standard",
      "dataServiceConfig": {
        "type": "GRAPHQL",
        "endpoint": "http://fields/tier",
        "query": "query T { tier }"
      }
    }
  ]
}`)

	m := newMemory()
	if _, err := NewLoader(m, zerolog.Nop()).LoadDir(context.Background(), dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	cfg, _ := m.FindFieldConfig(context.Background(), "tier")
	if cfg == nil || cfg.DefaultValue != "standard" {
		t.Errorf("Field not registered from JSON: %+v", cfg)
	}
}

func TestLoader_CUEBundle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "fields.cue", `
fields: [{
	fieldName: "limit"
	fieldType: "NUMBER"
	isRequired: true
	dataServiceConfig: {
		type:     "GRAPHQL"
		endpoint: "http://fields/limit"
		query:    "query L { limit }"
	}
}]
`)

	m := newMemory()
	if _, err := NewLoader(m, zerolog.Nop()).LoadDir(context.Background(), dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	cfg, _ := m.FindFieldConfig(context.Background(), "limit")
	if cfg == nil || !cfg.IsRequired {
		t.Errorf("Field not registered from CUE: %+v", cfg)
	}
}

func TestLoader_WatchMultipleDirectories(t *testing.T) {
	fieldYAML := func(name string, value int) string {
		return `
fields:
  - fieldName: ` + name + `
    fieldType: NUMBER
    defaultValue: ` + strconv.Itoa(value) + `
    dataServiceConfig:
      type: GRAPHQL
      endpoint: http://fields/` + name + `
      query: "query Q { ` + name + ` }"
`
	}

	dirA := t.TempDir()
	dirB := t.TempDir()
	writeBundle(t, dirA, "a.yaml", fieldYAML("alpha", 1))
	writeBundle(t, dirB, "b.yaml", fieldYAML("beta", 1))

	m := newMemory()
	loader := NewLoader(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, dir := range []string{dirA, dirB} {
		if _, err := loader.LoadDir(ctx, dir); err != nil {
			t.Fatalf("LoadDir failed: %v", err)
		}
		if err := loader.Watch(ctx, dir); err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
	}
	defer loader.StopWatching()

	// A change in either directory must reload, not just the last
	// directory watched.
	writeBundle(t, dirA, "a.yaml", fieldYAML("alpha", 42))
	writeBundle(t, dirB, "b.yaml", fieldYAML("beta", 42))

	reloaded := func(name string) bool {
		cfg, _ := m.FindFieldConfig(ctx, name)
		return cfg != nil && cfg.DefaultValue == float64(42)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reloaded("alpha") && reloaded("beta") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !reloaded("alpha") {
		t.Error("Change in the first watched directory never reloaded")
	}
	if !reloaded("beta") {
		t.Error("Change in the second watched directory never reloaded")
	}
}

func TestLoader_BadFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "good.yaml", `
fields:
  - fieldName: ok
    fieldType: STRING
    dataServiceConfig:
      type: GRAPHQL
      endpoint: http://fields/ok
      query: "query O { ok }"
`)
	// Rejected by validation: declares both sources.
	writeBundle(t, dir, "bad.yaml", `
fields:
  - fieldName: dual
    fieldType: NUMBER
    dataServiceConfig:
      type: GRAPHQL
      endpoint: http://fields/dual
      query: "query D { dual }"
    calculatorConfig:
      type: EXPRESSION
      expression: "1"
`)

	m := newMemory()
	report, err := NewLoader(m, zerolog.Nop()).LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("Expected one skipped file, got %v", report.Errors)
	}
	if cfg, _ := m.FindFieldConfig(context.Background(), "ok"); cfg == nil {
		t.Error("Valid file should still load when a sibling fails")
	}
	if cfg, _ := m.FindFieldConfig(context.Background(), "dual"); cfg != nil {
		t.Error("Invalid config must not be registered")
	}
}
