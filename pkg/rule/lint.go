package rule

import "fmt"

// Finding is one lint diagnostic for a rule under construction. Findings
// power real-time validation of rules authored in an external builder UI;
// they never block evaluation.
type Finding struct {
	// Path locates the offending condition.
	Path string `json:"path"`

	// Field is the condition's field name.
	Field string `json:"field,omitempty"`

	// Code classifies the finding.
	Code string `json:"code"`

	// Message describes the problem.
	Message string `json:"message"`
}

// Lint finding codes.
const (
	LintUnknownField    = "UNKNOWN_FIELD"
	LintBadOperandShape = "BAD_OPERAND_SHAPE"
)

// Lint checks every condition of the rule against the set of known field
// names and the operand shape its operator expects.
func Lint(r *Rule, knownField func(name string) bool) []Finding {
	if r == nil || r.root == nil {
		return nil
	}

	var findings []Finding
	var walk func(n Node, path string)
	walk = func(n Node, path string) {
		switch node := n.(type) {
		case *Group:
			for i, child := range node.Rules {
				walk(child, fmt.Sprintf("%srules[%d]", dotted(path), i))
			}
		case *Condition:
			if knownField != nil && !knownField(node.Field) {
				findings = append(findings, Finding{
					Path:    path,
					Field:   node.Field,
					Code:    LintUnknownField,
					Message: fmt.Sprintf("field %q is not registered", node.Field),
				})
			}
			if msg := operandShapeProblem(node); msg != "" {
				findings = append(findings, Finding{
					Path:    path,
					Field:   node.Field,
					Code:    LintBadOperandShape,
					Message: msg,
				})
			}
		}
	}
	walk(r.root, "")
	return findings
}

func operandShapeProblem(c *Condition) string {
	switch c.Operator {
	case OpBetween:
		list, ok := toList(c.Value)
		if !ok || len(list) != 2 {
			return "between requires a two-element value"
		}
	case OpIn, OpNotIn:
		if _, ok := toList(c.Value); !ok {
			return fmt.Sprintf("%s requires a list value", c.Operator)
		}
	case OpIsEmpty, OpIsNotEmpty:
		if c.Value != nil {
			return fmt.Sprintf("%s takes no value", c.Operator)
		}
	}
	return ""
}
