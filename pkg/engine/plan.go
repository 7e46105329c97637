package engine

// ParallelExecutionGroup is a set of fields at one dependency level that
// share an identical data-service config and are therefore served by a
// single outbound call.
type ParallelExecutionGroup struct {
	// Level is the topological level the group executes at.
	Level int `json:"level"`

	// Fields are the field names populated from the group's call.
	Fields []string `json:"fields"`

	// DataService is the shared call shape for every field in the group.
	DataService *DataServiceConfig `json:"dataService"`

	// EstimatedMs is the heuristic cost of executing this group.
	EstimatedMs int64 `json:"estimatedMs"`
}

// SequentialExecutionChain is an ordered sequence of data-service fields
// where each member's call consumes the previous members' resolved values
// as variables.
type SequentialExecutionChain struct {
	// Fields are the chain members in execution order.
	Fields []string `json:"fields"`

	// EstimatedMs is the heuristic cost of executing the whole chain.
	EstimatedMs int64 `json:"estimatedMs"`
}

// ResolutionPlan is the DAG-derived execution schedule for one evaluation.
type ResolutionPlan struct {
	// StaticValues are fields satisfied without any call (defaults).
	StaticValues map[string]interface{} `json:"staticValues"`

	// ParallelGroups is the parallel fetch schedule across all levels.
	// Groups at the same level run concurrently.
	ParallelGroups []ParallelExecutionGroup `json:"parallelGroups"`

	// SequentialChains are ordered fetch sequences that cross levels.
	// A field belonging to a chain does not appear in any group.
	SequentialChains []SequentialExecutionChain `json:"sequentialChains"`

	// CalculatedOrder lists calculated fields in topological order.
	CalculatedOrder []string `json:"calculatedOrder"`

	// Levels is the number of topological levels in the plan.
	Levels int `json:"levels"`

	// Warnings records dependencies referenced but absent from the
	// analyzed set.
	Warnings []string `json:"warnings,omitempty"`

	// EstimatedMs is the heuristic wall-clock cost of the plan.
	EstimatedMs int64 `json:"estimatedMs"`
}

// FieldNames returns every field the plan resolves, in no particular order.
func (p *ResolutionPlan) FieldNames() []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for name := range p.StaticValues {
		add(name)
	}
	for _, group := range p.ParallelGroups {
		for _, name := range group.Fields {
			add(name)
		}
	}
	for _, chain := range p.SequentialChains {
		for _, name := range chain.Fields {
			add(name)
		}
	}
	for _, name := range p.CalculatedOrder {
		add(name)
	}
	return names
}
