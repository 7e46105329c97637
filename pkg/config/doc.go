// Package config holds the typed engine configuration.
//
// Options covers every tunable the engine documents: data-service call
// bounds, resolution and filter limits, rule parsing limits, analyzer
// tuning, outbound HTTP pools, registry and policy sources, and
// telemetry settings. Load reads a YAML file, applies OPENRULES_*
// environment overrides, fills defaults and validates:
//
//	opts, err := config.Load("openrules.yaml")
//	if err != nil {
//	    return err
//	}
//
// A missing file path yields the documented defaults.
package config
