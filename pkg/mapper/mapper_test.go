package mapper

import (
	"testing"
	"time"
)

type profile struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type account struct {
	ID      string
	Profile profile `json:"profile"`
	scores  []int
}

func (a account) Tier() string { return "gold" }

func sampleResponse() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"profile": map[string]interface{}{
				"email": "ada@example.com",
			},
		},
		"orders": []interface{}{
			map[string]interface{}{"id": "o-1", "amount": 42.5},
			map[string]interface{}{"id": "o-2", "amount": 17.0},
		},
		"data": map[string]interface{}{
			"users": []interface{}{
				map[string]interface{}{"id": 122, "name": "grace"},
				map[string]interface{}{"id": 123, "name": "ada"},
			},
			"items": []interface{}{"a", "b", "c"},
		},
	}
}

func TestExtract_Paths(t *testing.T) {
	resp := sampleResponse()

	tests := []struct {
		name string
		expr string
		want interface{}
	}{
		{"dotted traversal", "user.profile.email", "ada@example.com"},
		{"index", "orders[0].amount", 42.5},
		{"second index", "orders[1].id", "o-2"},
		{"filter by numeric literal", "data.users[id=123].name", "ada"},
		{"filter quoted literal", `data.users[id="122"].name`, "grace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(resp, tt.expr)
			if err != nil {
				t.Fatalf("Extract(%q) failed: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Extract(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestExtract_Wildcard(t *testing.T) {
	resp := sampleResponse()

	got, err := Extract(resp, "data.items[*]")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	list, ok := got.([]interface{})
	if !ok || len(list) != 3 {
		t.Fatalf("Expected the whole list, got %v", got)
	}

	got, err = Extract(resp, "orders[*].amount")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	amounts, ok := got.([]interface{})
	if !ok || len(amounts) != 2 || amounts[0] != 42.5 || amounts[1] != 17.0 {
		t.Errorf("Expected mapped amounts, got %v", got)
	}
}

func TestExtract_Structs(t *testing.T) {
	acct := account{ID: "a-1", Profile: profile{Email: "g@example.com"}}

	got, err := Extract(acct, "profile.email")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != "g@example.com" {
		t.Errorf("Expected email via json tag, got %v", got)
	}

	got, err = Extract(acct, "ID")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != "a-1" {
		t.Errorf("Expected field access, got %v", got)
	}

	got, err = Extract(acct, "tier")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != "gold" {
		t.Errorf("Expected getter access, got %v", got)
	}
}

func TestExtract_Errors(t *testing.T) {
	resp := sampleResponse()

	tests := []struct {
		name        string
		expr        string
		wantKind    ErrorKind
		wantFailing string
	}{
		{"missing key", "user.address.city", KindMapKeyMissing, "user.address"},
		{"index out of range", "orders[9].id", KindIndexOutOfBounds, "orders[9]"},
		{"no filter match", "data.users[id=999].name", KindNoMatchInFilter, "data.users[id=999]"},
		{"null traversal", "missing.anything", KindMapKeyMissing, "missing"},
		{"invalid expression", "user..email", KindInvalidExpr, "user."},
		{"unterminated bracket", "orders[0.id", KindInvalidExpr, "orders[0.id"},
		{"leading index", "[0].id", KindInvalidExpr, "[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(resp, tt.expr)
			if err == nil {
				t.Fatalf("Expected error for %q", tt.expr)
			}
			me, ok := err.(*MappingError)
			if !ok {
				t.Fatalf("Expected MappingError, got %T", err)
			}
			if me.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, me.Kind)
			}
			if me.FailingPath != tt.wantFailing {
				t.Errorf("Expected failing path %q, got %q", tt.wantFailing, me.FailingPath)
			}
		})
	}
}

func TestExtract_NullPropertyRead(t *testing.T) {
	resp := map[string]interface{}{"user": nil}
	_, err := Extract(resp, "user.email")
	me, ok := err.(*MappingError)
	if !ok || me.Kind != KindNullValue {
		t.Fatalf("Expected NULL_VALUE, got %v", err)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		target Target
		want   interface{}
	}{
		{"string passthrough", 42, TargetString, "42"},
		{"number from string", "85.5", TargetNumber, 85.5},
		{"integer truncation", "9.99", TargetInteger, int64(9)},
		{"bool yes", "YES", TargetBoolean, true},
		{"bool zero", 0, TargetBoolean, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.value, tt.target, "f")
			if err != nil {
				t.Fatalf("Convert failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConvert_Dates(t *testing.T) {
	for _, input := range []string{"2024-03-15", "03/15/2024", "03-15-2024"} {
		got, err := Convert(input, TargetDate, "f")
		if err != nil {
			t.Fatalf("Convert(%q) failed: %v", input, err)
		}
		ts := got.(time.Time)
		if ts.Year() != 2024 || ts.Month() != time.March || ts.Day() != 15 {
			t.Errorf("Convert(%q) = %v", input, ts)
		}
	}

	for _, input := range []string{"2024-03-15T10:30:00Z", "2024-03-15 10:30:00"} {
		got, err := Convert(input, TargetDateTime, "f")
		if err != nil {
			t.Fatalf("Convert(%q) failed: %v", input, err)
		}
		ts := got.(time.Time)
		if ts.Hour() != 10 || ts.Minute() != 30 {
			t.Errorf("Convert(%q) = %v", input, ts)
		}
	}
}

func TestConvert_Failure(t *testing.T) {
	_, err := Convert("not-a-number", TargetNumber, "order.total")
	me, ok := err.(*MappingError)
	if !ok {
		t.Fatalf("Expected MappingError, got %T", err)
	}
	if me.Kind != KindConversionFailed {
		t.Errorf("Expected CONVERSION_FAILED, got %s", me.Kind)
	}
	if me.Suggestion == "" {
		t.Error("Expected a suggestion")
	}
}

func TestClearCache(t *testing.T) {
	acct := account{ID: "a-1"}
	if _, err := Extract(acct, "ID"); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	ClearCache()
	if _, err := Extract(acct, "ID"); err != nil {
		t.Fatalf("Extract after ClearCache failed: %v", err)
	}
}
