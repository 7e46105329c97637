package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Options is the full engine configuration. Zero values mean "use the
// default"; Normalize fills them in before use.
type Options struct {
	DataService DataServiceOptions `yaml:"dataService" json:"dataService"`
	Resolution  ResolutionOptions  `yaml:"resolution" json:"resolution"`
	Filter      FilterOptions      `yaml:"filter" json:"filter"`
	Rule        RuleOptions        `yaml:"rule" json:"rule"`
	Analyzer    AnalyzerOptions    `yaml:"analyzer" json:"analyzer"`
	HTTP        HTTPOptions        `yaml:"http" json:"http"`
	Registry    RegistryOptions    `yaml:"registry" json:"registry"`
	Policy      PolicyOptions      `yaml:"policy" json:"policy"`
	Telemetry   TelemetryOptions   `yaml:"telemetry" json:"telemetry"`
}

// DataServiceOptions bounds individual data-service calls.
type DataServiceOptions struct {
	// DefaultTimeoutMs is the per-call timeout when the field config
	// does not carry one.
	DefaultTimeoutMs int `yaml:"defaultTimeoutMs" json:"defaultTimeoutMs" validate:"min=0,max=120000"`

	// MaxRetries is the number of retry attempts per call. Zero
	// disables retries; leaving the field unset selects the default.
	MaxRetries *int `yaml:"maxRetries" json:"maxRetries" validate:"omitempty,min=0,max=10"`

	// BackoffInitialMs is the initial retry backoff.
	BackoffInitialMs int `yaml:"backoffInitialMs" json:"backoffInitialMs" validate:"min=0"`
}

// ResolutionOptions bounds one whole resolution.
type ResolutionOptions struct {
	// OverallTimeoutMs caps an entire evaluation; pending work is
	// cancelled when it expires.
	OverallTimeoutMs int `yaml:"overallTimeoutMs" json:"overallTimeoutMs" validate:"min=0"`
}

// FilterOptions controls filter runs.
type FilterOptions struct {
	// DefaultBatchSize is the entity chunk size.
	DefaultBatchSize int `yaml:"defaultBatchSize" json:"defaultBatchSize" validate:"min=0,max=10000"`

	// PerEntityConcurrency bounds concurrent entities within a chunk.
	PerEntityConcurrency int `yaml:"perEntityConcurrency" json:"perEntityConcurrency" validate:"min=0,max=1024"`

	// EntityTimeoutMs bounds one entity pipeline.
	EntityTimeoutMs int `yaml:"entityTimeoutMs" json:"entityTimeoutMs" validate:"min=0"`
}

// RuleOptions bounds rule parsing.
type RuleOptions struct {
	// MaxDepth is the maximum rule-tree depth.
	MaxDepth int `yaml:"maxDepth" json:"maxDepth" validate:"min=0,max=256"`

	// MaxLeaves is the maximum number of leaf conditions.
	MaxLeaves int `yaml:"maxLeaves" json:"maxLeaves" validate:"min=0"`
}

// AnalyzerOptions tunes plan construction.
type AnalyzerOptions struct {
	// MergeGroupThreshold merges parallel groups smaller than this.
	MergeGroupThreshold int `yaml:"mergeGroupThreshold" json:"mergeGroupThreshold" validate:"min=0"`
}

// HTTPOptions bounds outbound HTTP.
type HTTPOptions struct {
	// GlobalPool caps concurrent outbound calls process-wide.
	GlobalPool int `yaml:"globalPool" json:"globalPool" validate:"min=0,max=4096"`

	// PerEndpoint caps concurrent calls against one endpoint.
	PerEndpoint int `yaml:"perEndpoint" json:"perEndpoint" validate:"min=0,max=1024"`
}

// RegistryOptions configures the field-config registry.
type RegistryOptions struct {
	// StorePath is the SQLite database path. Empty selects the
	// in-memory registry.
	StorePath string `yaml:"storePath" json:"storePath"`

	// BundleDirs lists directories of field-config bundles to load at
	// startup.
	BundleDirs []string `yaml:"bundleDirs" json:"bundleDirs"`

	// Watch reloads bundles when files change.
	Watch bool `yaml:"watch" json:"watch"`
}

// PolicyOptions configures admission policies.
type PolicyOptions struct {
	// Paths lists .rego or .json policy files or directories, loaded
	// on top of the builtin set.
	Paths []string `yaml:"paths" json:"paths"`
}

// TelemetryOptions configures logging, metrics and tracing.
type TelemetryOptions struct {
	// LogLevel is trace, debug, info, warn, error or fatal.
	LogLevel string `yaml:"logLevel" json:"logLevel" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat is console or json.
	LogFormat string `yaml:"logFormat" json:"logFormat" validate:"omitempty,oneof=console json"`

	// MetricsEnabled exposes Prometheus metrics.
	MetricsEnabled bool `yaml:"metricsEnabled" json:"metricsEnabled"`

	// MetricsAddress is the metrics listen address.
	MetricsAddress string `yaml:"metricsAddress" json:"metricsAddress"`

	// TraceExporter is otlp, stdout or none.
	TraceExporter string `yaml:"traceExporter" json:"traceExporter" validate:"omitempty,oneof=otlp stdout none"`

	// TraceEndpoint is the OTLP endpoint.
	TraceEndpoint string `yaml:"traceEndpoint" json:"traceEndpoint"`

	// TraceSamplingRate is the trace sampling rate (0.0 to 1.0).
	TraceSamplingRate float64 `yaml:"traceSamplingRate" json:"traceSamplingRate" validate:"min=0,max=1"`
}

// Default returns the documented defaults.
func Default() *Options {
	return &Options{
		DataService: DataServiceOptions{
			DefaultTimeoutMs: 30000,
			MaxRetries:       intPtr(3),
			BackoffInitialMs: 200,
		},
		Resolution: ResolutionOptions{
			OverallTimeoutMs: 60000,
		},
		Filter: FilterOptions{
			DefaultBatchSize:     100,
			PerEntityConcurrency: 16,
			EntityTimeoutMs:      5000,
		},
		Rule: RuleOptions{
			MaxDepth:  32,
			MaxLeaves: 1000,
		},
		Analyzer: AnalyzerOptions{
			MergeGroupThreshold: 3,
		},
		HTTP: HTTPOptions{
			GlobalPool:  64,
			PerEndpoint: 16,
		},
		Telemetry: TelemetryOptions{
			LogLevel:          "info",
			LogFormat:         "console",
			MetricsEnabled:    false,
			MetricsAddress:    ":9090",
			TraceExporter:     "none",
			TraceSamplingRate: 1.0,
		},
	}
}

// Normalize replaces zero values with defaults.
func (o *Options) Normalize() {
	def := Default()

	if o.DataService.DefaultTimeoutMs == 0 {
		o.DataService.DefaultTimeoutMs = def.DataService.DefaultTimeoutMs
	}
	if o.DataService.MaxRetries == nil {
		o.DataService.MaxRetries = def.DataService.MaxRetries
	}
	if o.DataService.BackoffInitialMs == 0 {
		o.DataService.BackoffInitialMs = def.DataService.BackoffInitialMs
	}
	if o.Resolution.OverallTimeoutMs == 0 {
		o.Resolution.OverallTimeoutMs = def.Resolution.OverallTimeoutMs
	}
	if o.Filter.DefaultBatchSize == 0 {
		o.Filter.DefaultBatchSize = def.Filter.DefaultBatchSize
	}
	if o.Filter.PerEntityConcurrency == 0 {
		o.Filter.PerEntityConcurrency = def.Filter.PerEntityConcurrency
	}
	if o.Filter.EntityTimeoutMs == 0 {
		o.Filter.EntityTimeoutMs = def.Filter.EntityTimeoutMs
	}
	if o.Rule.MaxDepth == 0 {
		o.Rule.MaxDepth = def.Rule.MaxDepth
	}
	if o.Rule.MaxLeaves == 0 {
		o.Rule.MaxLeaves = def.Rule.MaxLeaves
	}
	if o.Analyzer.MergeGroupThreshold == 0 {
		o.Analyzer.MergeGroupThreshold = def.Analyzer.MergeGroupThreshold
	}
	if o.HTTP.GlobalPool == 0 {
		o.HTTP.GlobalPool = def.HTTP.GlobalPool
	}
	if o.HTTP.PerEndpoint == 0 {
		o.HTTP.PerEndpoint = def.HTTP.PerEndpoint
	}
	if o.Telemetry.LogLevel == "" {
		o.Telemetry.LogLevel = def.Telemetry.LogLevel
	}
	if o.Telemetry.LogFormat == "" {
		o.Telemetry.LogFormat = def.Telemetry.LogFormat
	}
	if o.Telemetry.MetricsAddress == "" {
		o.Telemetry.MetricsAddress = def.Telemetry.MetricsAddress
	}
	if o.Telemetry.TraceExporter == "" {
		o.Telemetry.TraceExporter = def.Telemetry.TraceExporter
	}
	if o.Telemetry.TraceSamplingRate == 0 {
		o.Telemetry.TraceSamplingRate = def.Telemetry.TraceSamplingRate
	}
}

func intPtr(v int) *int { return &v }

// Validate checks the options against their struct tags.
func (o *Options) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
