package rule

import (
	"fmt"
	"strings"
	"testing"
)

func TestParse_SimpleGroup(t *testing.T) {
	data := []byte(`{"combinator":"and","rules":[{"field":"age","operator":">=","value":18}]}`)

	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	root := r.Root()
	if root.Combinator != CombinatorAnd {
		t.Errorf("Expected and combinator, got %s", root.Combinator)
	}
	if len(root.Rules) != 1 {
		t.Fatalf("Expected 1 child, got %d", len(root.Rules))
	}

	cond, ok := root.Rules[0].(*Condition)
	if !ok {
		t.Fatalf("Expected condition child, got %T", root.Rules[0])
	}
	if cond.Field != "age" || cond.Operator != OpGreaterOrEqual {
		t.Errorf("Unexpected condition: %+v", cond)
	}
	if n, ok := cond.Value.(float64); !ok || n != 18 {
		t.Errorf("Expected value 18, got %v", cond.Value)
	}
}

func TestParse_NestedGroups(t *testing.T) {
	data := []byte(`{
		"combinator":"or",
		"rules":[
			{"field":"status","operator":"=","value":"active"},
			{"combinator":"and","rules":[
				{"field":"score","operator":">","value":80},
				{"field":"region","operator":"in","value":["us","eu"]}
			]}
		]
	}`)

	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	depth, leaves := r.Stats()
	if depth != 3 {
		t.Errorf("Expected depth 3, got %d", depth)
	}
	if leaves != 3 {
		t.Errorf("Expected 3 leaves, got %d", leaves)
	}

	fields := r.Fields()
	want := []string{"status", "score", "region"}
	if len(fields) != len(want) {
		t.Fatalf("Expected fields %v, got %v", want, fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Field %d: expected %s, got %s", i, want[i], fields[i])
		}
	}
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name:    "empty field name",
			data:    `{"combinator":"and","rules":[{"field":"","operator":"=","value":1}]}`,
			wantMsg: "empty field name",
		},
		{
			name:    "unknown operator",
			data:    `{"combinator":"and","rules":[{"field":"a","operator":"~=","value":1}]}`,
			wantMsg: "unknown operator",
		},
		{
			name:    "unknown combinator",
			data:    `{"combinator":"xor","rules":[{"field":"a","operator":"=","value":1}]}`,
			wantMsg: "unknown combinator",
		},
		{
			name:    "empty top-level rules",
			data:    `{"combinator":"and","rules":[]}`,
			wantMsg: "no rules",
		},
		{
			name:    "not a group at top level",
			data:    `{"field":"a","operator":"=","value":1}`,
			wantMsg: "must be a group",
		},
		{
			name:    "node neither group nor condition",
			data:    `{"combinator":"and","rules":[{"operator":"="}]}`,
			wantMsg: "neither a group nor a condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Expected parse error, got none")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.wantMsg, err.Error())
			}
		})
	}
}

func TestParse_DepthBound(t *testing.T) {
	// Build a chain of nested groups deeper than the bound.
	inner := `{"field":"a","operator":"=","value":1}`
	for i := 0; i < 40; i++ {
		inner = fmt.Sprintf(`{"combinator":"and","rules":[%s]}`, inner)
	}

	_, err := Parse([]byte(inner))
	if err == nil {
		t.Fatal("Expected depth rejection, got none")
	}
	if !strings.Contains(err.Error(), "deeper than") {
		t.Errorf("Expected depth error, got %q", err.Error())
	}
}

func TestParse_LeafBound(t *testing.T) {
	leaves := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		leaves = append(leaves, fmt.Sprintf(`{"field":"f%d","operator":"=","value":%d}`, i, i))
	}
	data := fmt.Sprintf(`{"combinator":"and","rules":[%s]}`, strings.Join(leaves, ","))

	p := NewParser(ParserOptions{MaxLeaves: 10})
	_, err := p.Parse([]byte(data))
	if err == nil {
		t.Fatal("Expected leaf-count rejection, got none")
	}
	if !strings.Contains(err.Error(), "more than 10 conditions") {
		t.Errorf("Expected leaf bound error, got %q", err.Error())
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	inputs := []string{
		`{"combinator":"and","rules":[{"field":"age","operator":">=","value":18}]}`,
		`{"combinator":"or","rules":[{"field":"s","operator":"=","value":"active"},{"combinator":"and","rules":[{"field":"n","operator":"between","value":[1,10]}]}]}`,
		`{"combinator":"and","rules":[{"field":"tags","operator":"contains","value":"vip"},{"field":"opt","operator":"isEmpty","value":null}]}`,
	}

	for _, input := range inputs {
		r1, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}

		data, err := Serialize(r1)
		if err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}

		r2, err := Parse(data)
		if err != nil {
			t.Fatalf("Re-parse failed for %s: %v", data, err)
		}

		h1, err := CanonicalHash(r1)
		if err != nil {
			t.Fatalf("CanonicalHash failed: %v", err)
		}
		h2, err := CanonicalHash(r2)
		if err != nil {
			t.Fatalf("CanonicalHash failed: %v", err)
		}
		if h1 != h2 {
			t.Errorf("Round-trip changed the canonical form for %s", input)
		}
	}
}

func TestLint_Findings(t *testing.T) {
	data := []byte(`{"combinator":"and","rules":[
		{"field":"unknown_field","operator":"=","value":1},
		{"field":"score","operator":"between","value":[1]},
		{"field":"region","operator":"in","value":"us"}
	]}`)

	r, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	known := map[string]bool{"score": true, "region": true}
	findings := Lint(r, func(name string) bool { return known[name] })

	if len(findings) != 3 {
		t.Fatalf("Expected 3 findings, got %d: %+v", len(findings), findings)
	}
	if findings[0].Code != LintUnknownField {
		t.Errorf("Expected UNKNOWN_FIELD, got %s", findings[0].Code)
	}
	if findings[1].Code != LintBadOperandShape || findings[2].Code != LintBadOperandShape {
		t.Errorf("Expected BAD_OPERAND_SHAPE findings, got %+v", findings[1:])
	}
}
