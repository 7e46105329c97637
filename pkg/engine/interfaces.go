package engine

import "context"

// Registry is the read-side contract the core consumes to obtain
// configurations. Write operations and caching are the registry's concern.
type Registry interface {
	// FindFieldConfigsByName returns the configs for the named fields.
	// Unknown names are simply absent from the result.
	FindFieldConfigsByName(ctx context.Context, names []string) ([]*FieldConfig, error)

	// FindFieldConfig returns the config for one field, or nil when the
	// field is unknown.
	FindFieldConfig(ctx context.Context, name string) (*FieldConfig, error)

	// FindEntityType returns the entity type, or nil when unknown.
	FindEntityType(ctx context.Context, typeName string) (*EntityType, error)

	// ExistsFieldName reports whether a field name is registered.
	ExistsFieldName(ctx context.Context, name string) (bool, error)
}

// DataServiceClient issues one external call per invocation with auth,
// timeout and retry applied.
type DataServiceClient interface {
	// Execute performs the call described by config with the given
	// variables and returns the decoded response body.
	Execute(ctx context.Context, config *DataServiceConfig, variables map[string]interface{}) (interface{}, error)

	// Validate checks connectivity to the config's endpoint without
	// side effects, using the protocol the config declares.
	Validate(ctx context.Context, config *DataServiceConfig) error
}

// Analyzer turns a set of field configurations into a resolution plan.
type Analyzer interface {
	// BuildPlan builds the execution schedule for the given fields.
	// It returns a *CyclicDependencyError when the configs form a cycle.
	BuildPlan(ctx context.Context, fields []string, configs map[string]*FieldConfig) (*ResolutionPlan, error)
}

// FieldResolver executes a resolution plan against an execution context.
type FieldResolver interface {
	// Resolve runs the plan and returns the resolved field values.
	// Per-field failures are recorded in the result, not returned as err;
	// err is reserved for catastrophic failures (cancelled context).
	Resolve(ctx context.Context, plan *ResolutionPlan, execCtx *ExecutionContext, configs map[string]*FieldConfig) (*ResolutionResult, error)
}

// Calculator computes a value from other field values. Implementations
// must be pure: the context view passed to Calculate is shared and must
// not be mutated.
type Calculator interface {
	// Name identifies the calculator.
	Name() string

	// ValidateParameters rejects malformed parameter structs at
	// registration time.
	ValidateParameters(params map[string]interface{}) error

	// Calculate computes the field value from parameters and the resolved
	// field values.
	Calculate(ctx context.Context, params map[string]interface{}, fieldValues map[string]interface{}) (interface{}, error)
}
