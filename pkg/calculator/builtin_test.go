package calculator

import (
	"context"
	"testing"
	"time"
)

func builtin(t *testing.T, name string) interface {
	ValidateParameters(map[string]interface{}) error
	Calculate(context.Context, map[string]interface{}, map[string]interface{}) (interface{}, error)
} {
	t.Helper()
	calc, err := NewBuiltin(name)
	if err != nil {
		t.Fatalf("NewBuiltin(%q) failed: %v", name, err)
	}
	return calc
}

func TestBuiltin_Aggregates(t *testing.T) {
	values := map[string]interface{}{
		"a": 10.0,
		"b": 20.0,
		"c": "30",
		"d": nil,
	}
	params := map[string]interface{}{
		"fields": []interface{}{"a", "b", "c", "d", "missing"},
	}

	tests := []struct {
		name string
		want interface{}
	}{
		{"sum", 60.0},
		{"min", 10.0},
		{"max", 30.0},
		{"avg", 20.0},
		{"count", 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := builtin(t, tt.name).Calculate(context.Background(), params, values)
			if err != nil {
				t.Fatalf("Calculate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBuiltin_Concat(t *testing.T) {
	values := map[string]interface{}{"first": "Grace", "last": "Hopper", "middle": nil}
	params := map[string]interface{}{
		"fields":    []interface{}{"first", "middle", "last"},
		"separator": " ",
	}

	got, err := builtin(t, "concat").Calculate(context.Background(), params, values)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if got != "Grace Hopper" {
		t.Errorf("Expected \"Grace Hopper\", got %v", got)
	}
}

func TestBuiltin_DateAdd(t *testing.T) {
	values := map[string]interface{}{"start": "2024-01-15"}

	tests := []struct {
		unit   string
		amount float64
		want   string
	}{
		{"days", 10, "2024-01-25"},
		{"months", 2, "2024-03-15"},
		{"years", 1, "2025-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			params := map[string]interface{}{
				"fields": []interface{}{"start"},
				"unit":   tt.unit,
				"amount": tt.amount,
			}
			got, err := builtin(t, "dateAdd").Calculate(context.Background(), params, values)
			if err != nil {
				t.Fatalf("Calculate failed: %v", err)
			}
			ts := got.(time.Time)
			if ts.Format("2006-01-02") != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, ts.Format("2006-01-02"))
			}
		})
	}
}

func TestBuiltin_DateDiff(t *testing.T) {
	values := map[string]interface{}{
		"from": "2024-01-01",
		"to":   "2024-01-31",
	}
	params := map[string]interface{}{
		"fields": []interface{}{"from", "to"},
		"unit":   "days",
	}

	got, err := builtin(t, "dateDiff").Calculate(context.Background(), params, values)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if got != 30.0 {
		t.Errorf("Expected 30 days, got %v", got)
	}
}

func TestBuiltin_Percentage(t *testing.T) {
	values := map[string]interface{}{"part": 30.0, "whole": 120.0}
	params := map[string]interface{}{"fields": []interface{}{"part", "whole"}}

	got, err := builtin(t, "percentage").Calculate(context.Background(), params, values)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if got != 25.0 {
		t.Errorf("Expected 25, got %v", got)
	}

	values["whole"] = 0.0
	if _, err := builtin(t, "percentage").Calculate(context.Background(), params, values); err == nil {
		t.Error("Expected error for zero whole")
	}
}

func TestBuiltin_ValidateParameters(t *testing.T) {
	if err := builtin(t, "sum").ValidateParameters(map[string]interface{}{}); err == nil {
		t.Error("Expected sum to reject empty fields")
	}
	if err := builtin(t, "dateAdd").ValidateParameters(map[string]interface{}{
		"fields": []interface{}{"a"},
	}); err == nil {
		t.Error("Expected dateAdd to require an amount")
	}
	if err := builtin(t, "dateDiff").ValidateParameters(map[string]interface{}{
		"fields": []interface{}{"a", "b"},
		"unit":   "fortnights",
	}); err == nil {
		t.Error("Expected dateDiff to reject an unknown unit")
	}
	if err := builtin(t, "percentage").ValidateParameters(map[string]interface{}{
		"fields": []interface{}{"part", "whole"},
	}); err != nil {
		t.Errorf("Expected valid percentage parameters, got %v", err)
	}

	if _, err := NewBuiltin("median"); err == nil {
		t.Error("Expected unknown builtin to be rejected")
	}
}
