// Package rule defines the boolean predicate tree of the rules engine and
// its evaluator.
//
// A rule is a tree: internal nodes are groups with an and/or combinator and
// an ordered list of children, leaves are conditions of the form
// {field, operator, value}. Rules are pure data parsed from a canonical
// JSON form; evaluation takes a map of field values and is total: a
// condition that cannot be decided (missing field, failed coercion)
// evaluates to false rather than aborting the rule.
//
// The package never performs I/O. Resolving field values that the rule
// references is the job of pkg/analyzer and pkg/resolver.
package rule
