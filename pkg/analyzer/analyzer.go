// Package analyzer turns a set of field configurations into a
// resolution plan: it builds the dependency graph, rejects cycles,
// assigns topological levels, batches same-call fields into parallel
// groups and extracts sequential fetch chains.
package analyzer

import (
	"context"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// parallelFieldCostMs is the heuristic cost per field in a parallel
	// group.
	parallelFieldCostMs = 100

	// sequentialFieldCostMs is the heuristic cost per field in a
	// sequential chain.
	sequentialFieldCostMs = 150

	// DefaultMergeThreshold is the group size below which same-endpoint
	// groups at one level are merged.
	DefaultMergeThreshold = 3
)

// Options tune plan construction.
type Options struct {
	// MergeThreshold is the group size below which same-endpoint groups
	// merge; zero means DefaultMergeThreshold.
	MergeThreshold int
}

// Analyzer builds resolution plans. It is stateless and safe for
// concurrent use.
type Analyzer struct {
	mergeThreshold int
	logger         zerolog.Logger
}

// New creates an analyzer.
func New(opts Options, logger zerolog.Logger) *Analyzer {
	threshold := opts.MergeThreshold
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	return &Analyzer{mergeThreshold: threshold, logger: logger}
}

// graph is the per-plan dependency structure: edges run from a
// dependency to its dependents.
type graph struct {
	configs    map[string]*engine.FieldConfig
	names      []string
	dependents map[string][]string
	depsOf     map[string][]string
	inDegree   map[string]int
	levelOf    map[string]int
	levels     [][]string
	warnings   []string
}

// BuildPlan implements engine.Analyzer.
func (a *Analyzer) BuildPlan(ctx context.Context, fields []string, configs map[string]*engine.FieldConfig) (*engine.ResolutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := buildGraph(configs)

	if cycle := g.findCycle(); cycle != nil {
		a.logger.Warn().Strs("path", cycle).Msg("field dependency cycle rejected")
		return nil, &engine.CyclicDependencyError{Path: cycle}
	}
	g.computeLevels()

	plan := &engine.ResolutionPlan{
		StaticValues: make(map[string]interface{}),
		Levels:       len(g.levels),
		Warnings:     g.warnings,
	}

	for _, name := range g.names {
		cfg := g.configs[name]
		if cfg.Kind() == engine.FieldKindStatic {
			plan.StaticValues[name] = cfg.DefaultValue
		}
	}

	chained := g.buildChains(plan)
	g.buildGroups(plan, chained, a.mergeThreshold)
	g.orderCalculated(plan)
	estimateCost(plan)

	a.logger.Debug().
		Int("levels", plan.Levels).
		Int("groups", len(plan.ParallelGroups)).
		Int("chains", len(plan.SequentialChains)).
		Int64("estimatedMs", plan.EstimatedMs).
		Msg("resolution plan built")

	return plan, nil
}

func buildGraph(configs map[string]*engine.FieldConfig) *graph {
	g := &graph{
		configs:    configs,
		dependents: make(map[string][]string),
		depsOf:     make(map[string][]string),
		inDegree:   make(map[string]int),
		levelOf:    make(map[string]int),
	}

	for name := range configs {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		for _, dep := range configs[name].Dependencies {
			if _, known := configs[dep]; !known {
				g.warnings = append(g.warnings,
					fmt.Sprintf("field %q depends on %q, which is not in the analyzed set", name, dep))
				continue
			}
			g.dependents[dep] = append(g.dependents[dep], name)
			g.depsOf[name] = append(g.depsOf[name], dep)
			g.inDegree[name]++
		}
	}
	return g
}

// findCycle runs a DFS with white/gray/black coloring, walking from
// each field to its dependencies. The returned path follows the
// dependency direction and starts and ends with the same field.
func (g *graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var cycle []string
	var visit func(name string, path []string) bool
	visit = func(name string, path []string) bool {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, dep := range g.depsOf[name] {
			if !visited[dep] {
				if visit(dep, path) {
					return true
				}
			} else if onStack[dep] {
				start := 0
				for i, id := range path {
					if id == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			}
		}

		onStack[name] = false
		return false
	}

	for _, name := range g.names {
		if !visited[name] {
			if visit(name, nil) {
				return cycle
			}
		}
	}
	return nil
}

// computeLevels runs Kahn's algorithm, assigning each field the level
// max(dependency levels)+1 with roots at level 0.
func (g *graph) computeLevels() {
	inDegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegree[name] = g.inDegree[name]
	}

	var current []string
	for _, name := range g.names {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	level := 0
	for len(current) > 0 {
		sort.Strings(current)
		g.levels = append(g.levels, current)
		for _, name := range current {
			g.levelOf[name] = level
		}

		var next []string
		for _, name := range current {
			for _, dependent := range g.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
		level++
	}
}

// buildChains extracts sequential fetch chains: connected runs of
// data-service fields where one field's call needs another data-service
// field's value. Chain members are excluded from parallel groups.
func (g *graph) buildChains(plan *engine.ResolutionPlan) map[string]bool {
	isDS := func(name string) bool {
		return g.configs[name].Kind() == engine.FieldKindDataService
	}

	// A data-service field joins a chain when it depends, directly or
	// through calculated/static fields, on another data-service field.
	memo := make(map[string][]string)
	var dsAncestors func(name string) []string
	dsAncestors = func(name string) []string {
		if cached, ok := memo[name]; ok {
			return cached
		}
		memo[name] = nil // cycle guard; graph is acyclic here
		seen := make(map[string]bool)
		var out []string
		for _, dep := range g.depsOf[name] {
			if isDS(dep) && !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
			for _, anc := range dsAncestors(dep) {
				if !seen[anc] {
					seen[anc] = true
					out = append(out, anc)
				}
			}
		}
		memo[name] = out
		return out
	}

	chained := make(map[string]bool)
	members := make(map[string][]string)
	// Union data-service fields with their data-service ancestors into
	// chain components keyed by the component's root-most member.
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] == x {
			return x
		}
		parent[x] = find(parent[x])
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, name := range g.names {
		if isDS(name) {
			parent[name] = name
		}
	}
	for _, name := range g.names {
		if !isDS(name) {
			continue
		}
		for _, anc := range dsAncestors(name) {
			chained[name] = true
			chained[anc] = true
			union(anc, name)
		}
	}

	for name := range chained {
		root := find(name)
		members[root] = append(members[root], name)
	}

	var roots []string
	for root := range members {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		chain := members[root]
		sort.Slice(chain, func(i, j int) bool {
			li, lj := g.levelOf[chain[i]], g.levelOf[chain[j]]
			if li != lj {
				return li < lj
			}
			return chain[i] < chain[j]
		})
		plan.SequentialChains = append(plan.SequentialChains, engine.SequentialExecutionChain{
			Fields:      chain,
			EstimatedMs: int64(len(chain) * sequentialFieldCostMs),
		})
	}
	return chained
}

// buildGroups partitions the remaining data-service fields of each
// level by identical call shape, merges small same-endpoint groups, and
// sorts groups by cost within a level.
func (g *graph) buildGroups(plan *engine.ResolutionPlan, chained map[string]bool, mergeThreshold int) {
	for level, names := range g.levels {
		type partition struct {
			fields []string
			config *engine.DataServiceConfig
		}
		byShape := make(map[string]*partition)
		var shapeKeys []string

		for _, name := range names {
			cfg := g.configs[name]
			if cfg.Kind() != engine.FieldKindDataService || chained[name] {
				continue
			}
			key := configKey(cfg.DataService)
			if _, ok := byShape[key]; !ok {
				byShape[key] = &partition{config: cfg.DataService}
				shapeKeys = append(shapeKeys, key)
			}
			byShape[key].fields = append(byShape[key].fields, name)
		}
		sort.Strings(shapeKeys)

		// Merge undersized partitions that call the same endpoint.
		byEndpoint := make(map[string][]string)
		var kept []string
		for _, key := range shapeKeys {
			p := byShape[key]
			if len(p.fields) < mergeThreshold {
				endpoint := p.config.Endpoint
				byEndpoint[endpoint] = append(byEndpoint[endpoint], key)
			} else {
				kept = append(kept, key)
			}
		}
		for _, keys := range byEndpoint {
			if len(keys) < 2 {
				kept = append(kept, keys...)
				continue
			}
			base := byShape[keys[0]]
			for _, key := range keys[1:] {
				base.fields = append(base.fields, byShape[key].fields...)
				delete(byShape, key)
			}
			kept = append(kept, keys[0])
		}
		sort.Strings(kept)

		var groups []engine.ParallelExecutionGroup
		for _, key := range kept {
			p := byShape[key]
			sort.Strings(p.fields)
			groups = append(groups, engine.ParallelExecutionGroup{
				Level:       level,
				Fields:      p.fields,
				DataService: p.config,
				EstimatedMs: int64(len(p.fields) * parallelFieldCostMs),
			})
		}
		sort.SliceStable(groups, func(i, j int) bool {
			return groups[i].EstimatedMs < groups[j].EstimatedMs
		})
		plan.ParallelGroups = append(plan.ParallelGroups, groups...)
	}
}

func (g *graph) orderCalculated(plan *engine.ResolutionPlan) {
	for _, names := range g.levels {
		for _, name := range names {
			if g.configs[name].Kind() == engine.FieldKindCalculated {
				plan.CalculatedOrder = append(plan.CalculatedOrder, name)
			}
		}
	}
}

// estimateCost sums the max group cost per level (groups at one level
// run concurrently) and adds the cost of the longest chain, which runs
// alongside the groups.
func estimateCost(plan *engine.ResolutionPlan) {
	perLevel := make(map[int]int64)
	for _, group := range plan.ParallelGroups {
		if group.EstimatedMs > perLevel[group.Level] {
			perLevel[group.Level] = group.EstimatedMs
		}
	}
	var total int64
	for _, cost := range perLevel {
		total += cost
	}

	var longestChain int64
	for _, chain := range plan.SequentialChains {
		if chain.EstimatedMs > longestChain {
			longestChain = chain.EstimatedMs
		}
	}
	plan.EstimatedMs = total + longestChain
}

// configKey canonicalizes a data-service config for partitioning.
func configKey(cfg *engine.DataServiceConfig) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Sprintf("%+v", cfg)
	}
	return string(data)
}
