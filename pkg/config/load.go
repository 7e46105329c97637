package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads options from a YAML file, applies environment overrides,
// fills defaults and validates. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (*Options, error) {
	opts := &Options{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, opts); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(opts); err != nil {
		return nil, err
	}

	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// applyEnv overrides options from OPENRULES_* environment variables.
func applyEnv(o *Options) error {
	intVars := []struct {
		name   string
		target *int
	}{
		{"OPENRULES_DATASERVICE_TIMEOUT_MS", &o.DataService.DefaultTimeoutMs},
		{"OPENRULES_DATASERVICE_BACKOFF_MS", &o.DataService.BackoffInitialMs},
		{"OPENRULES_RESOLUTION_TIMEOUT_MS", &o.Resolution.OverallTimeoutMs},
		{"OPENRULES_FILTER_BATCH_SIZE", &o.Filter.DefaultBatchSize},
		{"OPENRULES_FILTER_CONCURRENCY", &o.Filter.PerEntityConcurrency},
		{"OPENRULES_FILTER_ENTITY_TIMEOUT_MS", &o.Filter.EntityTimeoutMs},
		{"OPENRULES_RULE_MAX_DEPTH", &o.Rule.MaxDepth},
		{"OPENRULES_RULE_MAX_LEAVES", &o.Rule.MaxLeaves},
		{"OPENRULES_ANALYZER_MERGE_THRESHOLD", &o.Analyzer.MergeGroupThreshold},
		{"OPENRULES_HTTP_GLOBAL_POOL", &o.HTTP.GlobalPool},
		{"OPENRULES_HTTP_PER_ENDPOINT", &o.HTTP.PerEndpoint},
	}
	for _, v := range intVars {
		raw, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", v.name, raw)
		}
		*v.target = parsed
	}

	// MaxRetries is a pointer so an explicit zero survives Normalize.
	if raw, ok := os.LookupEnv("OPENRULES_DATASERVICE_MAX_RETRIES"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid value for OPENRULES_DATASERVICE_MAX_RETRIES: %q", raw)
		}
		o.DataService.MaxRetries = &parsed
	}

	stringVars := []struct {
		name   string
		target *string
	}{
		{"OPENRULES_LOG_LEVEL", &o.Telemetry.LogLevel},
		{"OPENRULES_LOG_FORMAT", &o.Telemetry.LogFormat},
		{"OPENRULES_METRICS_ADDRESS", &o.Telemetry.MetricsAddress},
		{"OPENRULES_TRACE_EXPORTER", &o.Telemetry.TraceExporter},
		{"OPENRULES_TRACE_ENDPOINT", &o.Telemetry.TraceEndpoint},
		{"OPENRULES_REGISTRY_STORE_PATH", &o.Registry.StorePath},
	}
	for _, v := range stringVars {
		if raw, ok := os.LookupEnv(v.name); ok {
			*v.target = raw
		}
	}

	if raw, ok := os.LookupEnv("OPENRULES_METRICS_ENABLED"); ok {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid value for OPENRULES_METRICS_ENABLED: %q", raw)
		}
		o.Telemetry.MetricsEnabled = parsed
	}

	if raw, ok := os.LookupEnv("OPENRULES_REGISTRY_BUNDLE_DIRS"); ok {
		var dirs []string
		for _, dir := range strings.Split(raw, ",") {
			if dir = strings.TrimSpace(dir); dir != "" {
				dirs = append(dirs, dir)
			}
		}
		o.Registry.BundleDirs = dirs
	}

	if raw, ok := os.LookupEnv("OPENRULES_POLICY_PATHS"); ok {
		var paths []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		o.Policy.Paths = paths
	}

	return nil
}
