// Package engine defines the core types and interfaces of the OpenRules
// evaluation pipeline: field configurations, entity types, resolution plans,
// execution contexts, classified errors, and the contracts between the
// dependency analyzer, the field resolver, and the data-service clients.
//
// The pipeline for a single evaluation is:
//
//	rule JSON -> parse -> extract field names -> build resolution plan ->
//	resolve fields (fetch, map, calculate) -> evaluate rule -> result + trace
//
// Concrete implementations live in their own packages (pkg/rule, pkg/mapper,
// pkg/dataservice, pkg/calculator, pkg/analyzer, pkg/resolver, pkg/filter,
// pkg/registry); this package holds everything they share so that they can
// be wired together without import cycles.
package engine
