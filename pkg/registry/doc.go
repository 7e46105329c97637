// Package registry stores field configurations and entity types and
// serves the read-side contract the core consumes. Two implementations
// are provided: an in-memory registry for embedding and tests, and a
// SQLite-backed store with schema migrations, soft deletes and version
// bumps on every mutation.
//
// Configurations can also be loaded from CUE, YAML or JSON bundle files
// on disk; the Loader validates each document before registration and
// can watch a directory for changes.
package registry
