package engine

import (
	"encoding/json"
	"regexp"
	"time"
)

// FieldType classifies the value a field resolves to.
type FieldType string

const (
	FieldTypeString  FieldType = "STRING"
	FieldTypeNumber  FieldType = "NUMBER"
	FieldTypeDate    FieldType = "DATE"
	FieldTypeBoolean FieldType = "BOOLEAN"
	FieldTypeArray   FieldType = "ARRAY"
	FieldTypeObject  FieldType = "OBJECT"
)

// fieldNamePattern is the permitted shape of a field name.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ValidFieldName reports whether name is a well-formed field name.
func ValidFieldName(name string) bool {
	return fieldNamePattern.MatchString(name)
}

// DataServiceType discriminates the data-service config union.
type DataServiceType string

const (
	DataServiceGraphQL DataServiceType = "GRAPHQL"
	DataServiceREST    DataServiceType = "REST"
)

// AuthType discriminates the auth config union.
type AuthType string

const (
	AuthNone   AuthType = "NONE"
	AuthAPIKey AuthType = "API_KEY"
	AuthBearer AuthType = "BEARER_TOKEN"
	AuthBasic  AuthType = "BASIC"
	AuthOAuth2 AuthType = "OAUTH2"
)

// AuthConfig describes how a data-service request authenticates.
// It is a tagged union; only the fields for the selected Type are read.
type AuthConfig struct {
	// Type selects the auth variant.
	Type AuthType `json:"type"`

	// HeaderName and Key apply to API_KEY auth.
	HeaderName string `json:"headerName,omitempty"`
	Key        string `json:"key,omitempty"`

	// Token applies to BEARER_TOKEN auth.
	Token string `json:"token,omitempty"`

	// Username and Password apply to BASIC auth.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// TokenURL, ClientID, ClientSecret and Scopes apply to OAUTH2 auth.
	TokenURL     string   `json:"tokenUrl,omitempty"`
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// DataServiceConfig describes one external call shape. It is a tagged union
// with Type as discriminator: GRAPHQL uses Query/OperationName, REST uses
// Method/QueryParams/Headers/Body. Endpoint, Auth and TimeoutMs are shared.
type DataServiceConfig struct {
	// Type selects the protocol variant.
	Type DataServiceType `json:"type" validate:"required,oneof=GRAPHQL REST"`

	// Endpoint is the full URL of the data service. REST endpoints may
	// contain {name} placeholders substituted from call variables.
	Endpoint string `json:"endpoint" validate:"required,url"`

	// Query is the GraphQL document to post.
	Query string `json:"query,omitempty"`

	// OperationName selects an operation within a multi-operation document.
	OperationName string `json:"operationName,omitempty"`

	// Method is the REST HTTP method (GET, POST, ...).
	Method string `json:"method,omitempty"`

	// QueryParams are fixed query parameters appended to REST requests.
	QueryParams map[string]string `json:"queryParams,omitempty"`

	// Headers are fixed headers sent with REST requests.
	Headers map[string]string `json:"headers,omitempty"`

	// Body is a fixed JSON body template for body-bearing REST methods.
	Body json.RawMessage `json:"body,omitempty"`

	// Auth is applied to request headers before send.
	Auth AuthConfig `json:"auth"`

	// TimeoutMs bounds one call; 0 means the engine default.
	TimeoutMs int `json:"timeoutMs,omitempty" validate:"gte=0"`
}

// CalculatorType discriminates the calculator config union.
type CalculatorType string

const (
	CalculatorExpression CalculatorType = "EXPRESSION"
	CalculatorBuiltin    CalculatorType = "BUILTIN"
	CalculatorCustom     CalculatorType = "CUSTOM"
)

// CalculatorConfig describes how a calculated field derives its value.
type CalculatorConfig struct {
	// Type selects the calculator variant.
	Type CalculatorType `json:"type" validate:"required,oneof=EXPRESSION BUILTIN CUSTOM"`

	// Expression is the arithmetic/logical expression for EXPRESSION
	// calculators; field references are prefixed with '#'.
	Expression string `json:"expression,omitempty"`

	// Function names a BUILTIN calculator (sum, min, max, avg, count,
	// concat, dateAdd, dateDiff, percentage).
	Function string `json:"function,omitempty"`

	// Ref identifies a CUSTOM calculator implementation discovered at
	// startup, e.g. "starlark:risk_score" or "wasm:risk_score".
	Ref string `json:"ref,omitempty"`

	// Parameters are passed to BUILTIN and CUSTOM calculators.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// FieldConfig is the registry entry for one named field.
type FieldConfig struct {
	// FieldName uniquely identifies the field ([A-Za-z_][A-Za-z0-9_.]*).
	FieldName string `json:"fieldName" validate:"required"`

	// FieldType is the declared type of the resolved value.
	FieldType FieldType `json:"fieldType" validate:"required,oneof=STRING NUMBER DATE BOOLEAN ARRAY OBJECT"`

	// IsRequired marks fields whose resolution failure is an error rather
	// than a warning (unless a default covers it).
	IsRequired bool `json:"isRequired"`

	// IsCalculated marks fields derived from other fields.
	IsCalculated bool `json:"isCalculated"`

	// DefaultValue is used when resolution fails or nothing else applies.
	DefaultValue interface{} `json:"defaultValue,omitempty"`

	// MapperExpression is a path into the data-service response selecting
	// this field's value. Requires DataService to be set.
	MapperExpression string `json:"mapperExpression,omitempty"`

	// DataService describes the external call that produces this field.
	DataService *DataServiceConfig `json:"dataServiceConfig,omitempty"`

	// Calculator describes how a calculated field derives its value.
	Calculator *CalculatorConfig `json:"calculatorConfig,omitempty"`

	// Dependencies lists field names this field needs resolved first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Version increases monotonically on every mutation.
	Version int64 `json:"version"`

	// CreatedAt and UpdatedAt are maintained by the registry.
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Kind classifies the field for planning purposes.
func (fc *FieldConfig) Kind() FieldKind {
	switch {
	case fc.Calculator != nil:
		return FieldKindCalculated
	case fc.DataService != nil:
		return FieldKindDataService
	default:
		return FieldKindStatic
	}
}

// FieldKind is the planning classification of a field.
type FieldKind string

const (
	FieldKindStatic      FieldKind = "static"
	FieldKindDataService FieldKind = "dataService"
	FieldKindCalculated  FieldKind = "calculated"
)

// EntityType describes a population of entities served by one data service.
type EntityType struct {
	// TypeName uniquely identifies the entity type.
	TypeName string `json:"typeName" validate:"required"`

	// DataService retrieves one entity's raw data by ID.
	DataService *DataServiceConfig `json:"dataServiceConfig" validate:"required"`

	// FieldMappings map field names to mapper expressions applied to the
	// data-service response to populate the entity's field map.
	FieldMappings map[string]string `json:"fieldMappings,omitempty"`

	// ParentTypeName names an entity type whose field mappings are merged
	// in before this type's own (child wins on conflict).
	ParentTypeName string `json:"parentTypeName,omitempty"`

	// Metadata is opaque to the core.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Version increases monotonically on every mutation.
	Version int64 `json:"version"`
}

// ExecutionContext carries caller-supplied state for one evaluation.
// Values present in FieldValues short-circuit all other resolution for
// that field name.
type ExecutionContext struct {
	EntityID    string                 `json:"entityId,omitempty"`
	EntityType  string                 `json:"entityType,omitempty"`
	FieldValues map[string]interface{} `json:"fieldValues,omitempty"`
}

// FieldError is the caller-visible record of one field's failure.
type FieldError struct {
	FieldName string `json:"fieldName"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// FieldStatus describes the outcome of resolving one field.
type FieldStatus string

const (
	FieldStatusResolved    FieldStatus = "resolved"
	FieldStatusFromContext FieldStatus = "context"
	FieldStatusDefaulted   FieldStatus = "defaulted"
	FieldStatusFailed      FieldStatus = "failed"
	FieldStatusSkipped     FieldStatus = "skipped"
)

// FieldResolution reports how one field was resolved.
type FieldResolution struct {
	Status     FieldStatus   `json:"status"`
	DurationMs int64         `json:"durationMs"`
	Error      *FieldError   `json:"error,omitempty"`
}

// ResolutionResult is the output of executing a resolution plan.
type ResolutionResult struct {
	// Values maps field names to their resolved values. Fields that failed
	// without a default are absent.
	Values map[string]interface{} `json:"values"`

	// PerFieldStatus reports the outcome per field.
	PerFieldStatus map[string]FieldResolution `json:"perFieldStatus"`

	// Errors lists the failures, one per failed field.
	Errors []FieldError `json:"errors,omitempty"`

	// Warnings lists degraded resolutions (defaults used, missing deps).
	Warnings []string `json:"warnings,omitempty"`

	// TotalMs is the wall-clock resolution time.
	TotalMs int64 `json:"totalMs"`

	// HasErrors is true when at least one field failed without a default.
	HasErrors bool `json:"hasErrors"`
}
