// Package calculator computes derived field values. Three calculator
// families share one contract: EXPRESSION calculators evaluate an
// arithmetic/logical expression over #field references, BUILTIN
// calculators are named aggregate functions over listed fields, and
// CUSTOM calculators are Starlark scripts or WASM modules discovered at
// startup.
//
// Compiled expression ASTs and custom-calculator instances are cached
// for the process lifetime.
package calculator
