package calculator

import (
	"testing"
)

func compile(t *testing.T, text string) *Expression {
	t.Helper()
	expr, err := CompileExpression(text, "v1")
	if err != nil {
		t.Fatalf("CompileExpression(%q) failed: %v", text, err)
	}
	return expr
}

func TestExpression_Arithmetic(t *testing.T) {
	values := map[string]interface{}{
		"price":    10.0,
		"quantity": 3.0,
		"discount": 0.5,
	}

	tests := []struct {
		expr string
		want interface{}
	}{
		{"#price * #quantity", 30.0},
		{"#price + #quantity * 2", 16.0},
		{"(#price + #quantity) * 2", 26.0},
		{"#price - #discount", 9.5},
		{"#price / 4", 2.5},
		{"7 % 3", 1.0},
		{"-#price + 12", 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := compile(t, tt.expr).Evaluate(values)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExpression_Logic(t *testing.T) {
	values := map[string]interface{}{
		"score":  85.0,
		"status": "active",
		"flag":   true,
	}

	tests := []struct {
		expr string
		want interface{}
	}{
		{"#score > 80", true},
		{"#score >= 85", true},
		{"#score < 85", false},
		{"#status == 'active'", true},
		{"#status != 'active'", false},
		{"#score > 80 and #status == 'active'", true},
		{"#score > 90 or #status == 'active'", true},
		{"not #flag", false},
		{"not (#score > 90)", true},
		{"#score = 85", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := compile(t, tt.expr).Evaluate(values)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExpression_Functions(t *testing.T) {
	values := map[string]interface{}{
		"name":   "ada",
		"items":  []interface{}{1.0, 2.0, 3.0},
		"nick":   nil,
		"scoreA": 40.0,
	}

	tests := []struct {
		expr string
		want interface{}
	}{
		{"len(#name)", 3.0},
		{"len(#items)", 3.0},
		{"concat(#name, '-', 'x')", "ada-x"},
		{"coalesce(#nick, #name)", "ada"},
		{"if(#scoreA > 30, 'high', 'low')", "high"},
		{"if(#scoreA > 50, 'high', 'low')", "low"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := compile(t, tt.expr).Evaluate(values)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExpression_Fields(t *testing.T) {
	expr := compile(t, "#price * #quantity + coalesce(#tax, 0) + #price")
	fields := expr.Fields()
	want := []string{"price", "quantity", "tax"}
	if len(fields) != len(want) {
		t.Fatalf("Expected %v, got %v", want, fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Field %d: expected %s, got %s", i, want[i], fields[i])
		}
	}
}

func TestExpression_Errors(t *testing.T) {
	if _, err := CompileExpression("#price +", "v1"); err == nil {
		t.Error("Expected parse error for trailing operator")
	}
	if _, err := CompileExpression("price + 1", "v1"); err == nil {
		t.Error("Expected parse error for bare identifier")
	}
	if _, err := CompileExpression("#a ~ 1", "v1"); err == nil {
		t.Error("Expected parse error for unknown operator")
	}

	expr := compile(t, "#a / #b")
	if _, err := expr.Evaluate(map[string]interface{}{"a": 1.0, "b": 0.0}); err == nil {
		t.Error("Expected division by zero error")
	}
	if _, err := expr.Evaluate(map[string]interface{}{"a": 1.0}); err == nil {
		t.Error("Expected unresolved field error")
	}
}

func TestExpression_CacheReuse(t *testing.T) {
	ClearExpressionCache()
	first := compile(t, "#a + 1")
	second := compile(t, "#a + 1")
	if first != second {
		t.Error("Expected the cached AST to be reused for the same (text, version)")
	}

	third, err := CompileExpression("#a + 1", "v2")
	if err != nil {
		t.Fatalf("CompileExpression failed: %v", err)
	}
	if third == first {
		t.Error("Expected a different AST entry for a new version")
	}
}
