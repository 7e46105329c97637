// Package policy gates registry admissions with Rego policies. Every
// candidate field config and entity type is evaluated against the
// builtin policy set plus any operator-supplied .rego/.json files; a
// policy denies by emitting entries from its `deny` set, and any
// violation at error severity or above blocks the registration.
//
// The Engine satisfies the registry's Admission contract, so wiring is
// one line:
//
//	admission, _ := policy.NewEngine(logger)
//	reg := registry.NewMemory(registry.MemoryOptions{Admission: admission}, logger)
package policy
