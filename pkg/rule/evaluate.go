package rule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EvalOptions control evaluation behavior.
type EvalOptions struct {
	// Trace enables per-leaf trace collection. When disabled only the
	// boolean result and duration are produced.
	Trace bool
}

// EvalResult is the outcome of evaluating a rule.
type EvalResult struct {
	// Result is the boolean outcome; false when Errored.
	Result bool `json:"result"`

	// Errored marks a catastrophic failure (nil rule, internal assertion)
	// distinct from a leaf that evaluated to false.
	Errored bool `json:"errored,omitempty"`

	// Err describes the catastrophic failure.
	Err error `json:"-"`

	// Trace is the evaluation trace when requested.
	Trace *Trace `json:"trace,omitempty"`

	// DurationMs is the wall-clock evaluation time.
	DurationMs int64 `json:"durationMs"`
}

// ErrNilRule is returned when a nil rule is evaluated.
var ErrNilRule = errors.New("rule is nil")

// Evaluate evaluates the rule against the given field values. Evaluation
// is total: missing fields and failed coercions make the affected leaf
// false; the rule always produces a boolean. AND groups stop at the first
// false child, OR groups at the first true child.
func Evaluate(r *Rule, values map[string]interface{}, opts EvalOptions) *EvalResult {
	start := time.Now()
	if r == nil || r.root == nil {
		return &EvalResult{
			Result:     false,
			Errored:    true,
			Err:        ErrNilRule,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	ev := &evaluator{values: values, trace: opts.Trace}
	outcome, trace := ev.evalGroup(r.root, "")

	return &EvalResult{
		Result:     outcome,
		Trace:      trace,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

type evaluator struct {
	values map[string]interface{}
	trace  bool
}

func (ev *evaluator) evalNode(n Node, path string) (bool, *Trace) {
	switch node := n.(type) {
	case *Group:
		return ev.evalGroup(node, path)
	case *Condition:
		return ev.evalCondition(node, path)
	}
	// Unreachable with parser-built trees.
	return false, nil
}

func (ev *evaluator) evalGroup(g *Group, path string) (bool, *Trace) {
	var entry *Trace
	if ev.trace {
		entry = &Trace{Kind: TraceGroup, Path: path, Combinator: g.Combinator}
	}

	// An empty group is vacuously true regardless of combinator.
	outcome := true
	if len(g.Rules) > 0 && g.Combinator == CombinatorOr {
		outcome = false
	}

	for i, child := range g.Rules {
		childPath := fmt.Sprintf("%srules[%d]", dotted(path), i)
		childOutcome, childTrace := ev.evalNode(child, childPath)
		if entry != nil && childTrace != nil {
			entry.Children = append(entry.Children, childTrace)
		}

		if g.Combinator == CombinatorOr {
			if childOutcome {
				outcome = true
				break
			}
		} else if !childOutcome {
			outcome = false
			break
		}
	}

	if entry != nil {
		entry.Outcome = outcome
	}
	return outcome, entry
}

func (ev *evaluator) evalCondition(c *Condition, path string) (outcome bool, entry *Trace) {
	value, present := ev.values[c.Field]

	defer func() {
		if r := recover(); r != nil {
			// A coercion blow-up reduces the leaf to false with an error
			// trace entry; the rule still returns a boolean.
			outcome = false
			if ev.trace {
				entry = &Trace{
					Kind:     TraceError,
					Path:     path,
					Field:    c.Field,
					Operator: c.Operator,
					LHS:      value,
					RHS:      c.Value,
					Outcome:  false,
					Error:    fmt.Sprintf("%v", r),
				}
			}
		}
	}()

	outcome = decide(c.Operator, value, present, c.Value)
	if ev.trace {
		entry = &Trace{
			Kind:     TraceCondition,
			Path:     path,
			Field:    c.Field,
			Operator: c.Operator,
			LHS:      value,
			RHS:      c.Value,
			Outcome:  outcome,
		}
	}
	return outcome, entry
}

// decide applies one operator. present distinguishes a missing field from
// a field whose value is null.
func decide(op Operator, lhs interface{}, present bool, rhs interface{}) bool {
	switch op {
	case OpIsEmpty:
		return !present || isEmptyValue(lhs)
	case OpIsNotEmpty:
		return present && !isEmptyValue(lhs)
	}

	// Every other predicate is false on a missing field.
	if !present {
		return false
	}

	switch op {
	case OpEqual:
		return equalCoerced(lhs, rhs)
	case OpNotEqual:
		return !equalCoerced(lhs, rhs)
	case OpLess:
		cmp, ok := compareOrdered(lhs, rhs)
		return ok && cmp < 0
	case OpLessOrEqual:
		cmp, ok := compareOrdered(lhs, rhs)
		return ok && cmp <= 0
	case OpGreater:
		cmp, ok := compareOrdered(lhs, rhs)
		return ok && cmp > 0
	case OpGreaterOrEqual:
		cmp, ok := compareOrdered(lhs, rhs)
		return ok && cmp >= 0
	case OpContains:
		result, ok := contains(lhs, rhs)
		return ok && result
	case OpNotContains:
		result, ok := contains(lhs, rhs)
		return ok && !result
	case OpStartsWith:
		ls, lok := toString(lhs)
		rs, rok := toString(rhs)
		return lok && rok && strings.HasPrefix(ls, rs)
	case OpEndsWith:
		ls, lok := toString(lhs)
		rs, rok := toString(rhs)
		return lok && rok && strings.HasSuffix(ls, rs)
	case OpIn:
		result, ok := member(lhs, rhs)
		return ok && result
	case OpNotIn:
		result, ok := member(lhs, rhs)
		return ok && !result
	case OpBetween:
		return between(lhs, rhs)
	}
	return false
}

// contains is substring containment for string operands and element
// membership for list operands. ok is false when neither applies.
func contains(lhs, rhs interface{}) (result, ok bool) {
	if list, isList := toList(lhs); isList {
		for _, item := range list {
			if equalCoerced(item, rhs) {
				return true, true
			}
		}
		return false, true
	}
	ls, lok := toString(lhs)
	rs, rok := toString(rhs)
	if lok && rok {
		return strings.Contains(ls, rs), true
	}
	return false, false
}

// member reports whether lhs is an element of the rhs list.
func member(lhs, rhs interface{}) (result, ok bool) {
	list, isList := toList(rhs)
	if !isList {
		return false, false
	}
	for _, item := range list {
		if equalCoerced(lhs, item) {
			return true, true
		}
	}
	return false, true
}

// between checks a <= lhs <= b for a two-element operand. Inclusive both
// ends; an empty range (a > b) is always false.
func between(lhs, rhs interface{}) bool {
	bounds, ok := toList(rhs)
	if !ok || len(bounds) != 2 {
		return false
	}
	low, ok := compareOrdered(lhs, bounds[0])
	if !ok || low < 0 {
		return false
	}
	high, ok := compareOrdered(lhs, bounds[1])
	if !ok || high > 0 {
		return false
	}
	return true
}
