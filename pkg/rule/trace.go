package rule

// TraceKind discriminates trace entries.
type TraceKind string

const (
	// TraceGroup is a group roll-up entry.
	TraceGroup TraceKind = "group"

	// TraceCondition is a leaf comparison entry.
	TraceCondition TraceKind = "condition"

	// TraceError is a leaf whose coercion failed; its outcome is false.
	TraceError TraceKind = "error"
)

// Trace records how a node evaluated. Traces are deterministic for a
// given rule and value map: they contain no timestamps and children appear
// in rule order. Short-circuited children are not recorded.
type Trace struct {
	// Kind discriminates the entry.
	Kind TraceKind `json:"kind"`

	// Path locates the node, e.g. "rules[0].rules[2]"; empty for the root.
	Path string `json:"path,omitempty"`

	// Combinator is set on group entries.
	Combinator Combinator `json:"combinator,omitempty"`

	// Field, Operator, LHS and RHS are set on leaf entries.
	Field    string      `json:"field,omitempty"`
	Operator Operator    `json:"operator,omitempty"`
	LHS      interface{} `json:"lhs,omitempty"`
	RHS      interface{} `json:"rhs,omitempty"`

	// Outcome is the boolean result of this node.
	Outcome bool `json:"outcome"`

	// Error describes a leaf coercion failure on TraceError entries.
	Error string `json:"error,omitempty"`

	// Children are the evaluated children of a group entry.
	Children []*Trace `json:"children,omitempty"`
}
