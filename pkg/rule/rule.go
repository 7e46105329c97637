package rule

// Combinator joins the children of a group node.
type Combinator string

const (
	// CombinatorAnd evaluates true when every child is true.
	CombinatorAnd Combinator = "and"

	// CombinatorOr evaluates true when at least one child is true.
	CombinatorOr Combinator = "or"
)

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpContains       Operator = "contains"
	OpNotContains    Operator = "notContains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpIn             Operator = "in"
	OpNotIn          Operator = "notIn"
	OpIsEmpty        Operator = "isEmpty"
	OpIsNotEmpty     Operator = "isNotEmpty"
	OpBetween        Operator = "between"
)

// operators is the set of known operators.
var operators = map[Operator]struct{}{
	OpEqual: {}, OpNotEqual: {},
	OpLess: {}, OpLessOrEqual: {}, OpGreater: {}, OpGreaterOrEqual: {},
	OpContains: {}, OpNotContains: {}, OpStartsWith: {}, OpEndsWith: {},
	OpIn: {}, OpNotIn: {}, OpIsEmpty: {}, OpIsNotEmpty: {}, OpBetween: {},
}

// KnownOperator reports whether op is a member of the operator set.
func KnownOperator(op Operator) bool {
	_, ok := operators[op]
	return ok
}

// Node is a node of the rule tree: either *Group or *Condition.
type Node interface {
	isNode()
}

// Group is an internal node combining child nodes. An empty group
// evaluates to true regardless of combinator.
type Group struct {
	// Combinator is and/or.
	Combinator Combinator `json:"combinator"`

	// Rules are the ordered children.
	Rules []Node `json:"rules"`
}

func (*Group) isNode() {}

// Condition is a leaf predicate over a single field.
type Condition struct {
	// Field names the value under test.
	Field string `json:"field"`

	// Operator is the predicate applied.
	Operator Operator `json:"operator"`

	// Value is the operand; nil for isEmpty/isNotEmpty, a two-element
	// list for between, a list for in/notIn.
	Value interface{} `json:"value"`
}

func (*Condition) isNode() {}

// Rule is an immutable parsed rule tree. The zero value is not usable;
// obtain rules from Parse or New.
type Rule struct {
	root *Group
}

// New wraps a constructed group as a rule. The group is not copied;
// callers hand over ownership.
func New(root *Group) *Rule {
	if root == nil {
		root = &Group{Combinator: CombinatorAnd}
	}
	return &Rule{root: root}
}

// Root returns the root group of the tree.
func (r *Rule) Root() *Group {
	return r.root
}

// Fields returns the distinct field names referenced by the rule's
// conditions, in first-appearance order.
func (r *Rule) Fields() []string {
	if r == nil || r.root == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	var walk func(n Node)
	walk = func(n Node) {
		switch node := n.(type) {
		case *Group:
			for _, child := range node.Rules {
				walk(child)
			}
		case *Condition:
			if _, ok := seen[node.Field]; !ok {
				seen[node.Field] = struct{}{}
				names = append(names, node.Field)
			}
		}
	}
	walk(r.root)
	return names
}

// Stats reports the depth and leaf count of the tree.
func (r *Rule) Stats() (depth, leaves int) {
	if r == nil || r.root == nil {
		return 0, 0
	}
	return measure(r.root)
}

func measure(n Node) (depth, leaves int) {
	switch node := n.(type) {
	case *Group:
		maxChild := 0
		for _, child := range node.Rules {
			d, l := measure(child)
			if d > maxChild {
				maxChild = d
			}
			leaves += l
		}
		return maxChild + 1, leaves
	case *Condition:
		return 1, 1
	}
	return 0, 0
}
