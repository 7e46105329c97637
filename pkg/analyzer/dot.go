package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openrules/openrules/pkg/engine"
)

// ToDOT renders a resolution plan in Graphviz DOT format. Parallel
// groups cluster by level; chains draw as bold edges.
func ToDOT(plan *engine.ResolutionPlan) string {
	var sb strings.Builder

	sb.WriteString("digraph ResolutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	if len(plan.StaticValues) > 0 {
		sb.WriteString("  subgraph cluster_static {\n")
		sb.WriteString("    label=\"static\";\n")
		sb.WriteString("    style=dashed;\n")
		names := make([]string, 0, len(plan.StaticValues))
		for name := range plan.StaticValues {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("    %q [fillcolor=\"lightgray\", style=\"filled,rounded\"];\n", name))
		}
		sb.WriteString("  }\n\n")
	}

	byLevel := make(map[int][]engine.ParallelExecutionGroup)
	var levels []int
	for _, group := range plan.ParallelGroups {
		if _, ok := byLevel[group.Level]; !ok {
			levels = append(levels, group.Level)
		}
		byLevel[group.Level] = append(byLevel[group.Level], group)
	}
	sort.Ints(levels)

	for _, level := range levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, group := range byLevel[level] {
			for _, name := range group.Fields {
				label := fmt.Sprintf("%s\\n%s", name, group.DataService.Endpoint)
				sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=\"lightblue\", style=\"filled,rounded\"];\n",
					name, label))
			}
		}
		sb.WriteString("  }\n\n")
	}

	for _, chain := range plan.SequentialChains {
		for _, name := range chain.Fields {
			sb.WriteString(fmt.Sprintf("  %q [fillcolor=\"lightyellow\", style=\"filled,rounded\"];\n", name))
		}
		for i := 0; i+1 < len(chain.Fields); i++ {
			sb.WriteString(fmt.Sprintf("  %q -> %q [style=bold];\n", chain.Fields[i], chain.Fields[i+1]))
		}
	}

	for i, name := range plan.CalculatedOrder {
		sb.WriteString(fmt.Sprintf("  %q [fillcolor=\"lightgreen\", style=\"filled,rounded\"];\n", name))
		if i > 0 {
			sb.WriteString(fmt.Sprintf("  %q -> %q [style=dotted, color=gray];\n",
				plan.CalculatedOrder[i-1], name))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
