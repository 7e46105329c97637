package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, HTTP 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting (HTTP 408/429).
	// Retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed rule, unknown field, HTTP 4xx.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes surfaced to callers.
const (
	ErrCodeRuleParse        = "RULE_PARSE_ERROR"
	ErrCodeCyclicDependency = "CYCLIC_DEPENDENCY"
	ErrCodeFieldNotFound    = "FIELD_NOT_FOUND"
	ErrCodeRequiredMissing  = "REQUIRED_FIELD_MISSING"
	ErrCodeMapping          = "MAPPING_ERROR"
	ErrCodeConversion       = "CONVERSION_ERROR"
	ErrCodeDataService      = "DATA_SERVICE_ERROR"
	ErrCodeCalculator       = "CALCULATOR_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeProcessing       = "PROCESSING_ERROR"
)

// EngineError is a classified error with structured context. Every error
// that crosses a package boundary in the core is one of these.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code is one of the ErrCode* constants.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Field is the field name that caused the error, if applicable.
	Field string `json:"field,omitempty"`

	// Endpoint is the data-service endpoint involved, if applicable.
	Endpoint string `json:"endpoint,omitempty"`

	// Status is the HTTP status received, if applicable.
	Status int `json:"status,omitempty"`

	// Suggestion is an optional hint for fixing the input.
	Suggestion string `json:"suggestion,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", e.Class)
	if e.Code != "" {
		fmt.Fprintf(&sb, " %s", e.Code)
	}
	fmt.Fprintf(&sb, " %s", e.Message)
	if e.Field != "" {
		fmt.Fprintf(&sb, " (field=%s)", e.Field)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&sb, " (endpoint=%s)", e.Endpoint)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithField adds field-name context.
func (e *EngineError) WithField(field string) *EngineError {
	e.Field = field
	return e
}

// WithEndpoint adds endpoint context.
func (e *EngineError) WithEndpoint(endpoint string) *EngineError {
	e.Endpoint = endpoint
	return e
}

// WithStatus adds HTTP status context.
func (e *EngineError) WithStatus(status int) *EngineError {
	e.Status = status
	return e
}

// WithSuggestion adds a fix-it hint.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsFieldError converts the error to the caller-visible FieldError shape.
func (e *EngineError) AsFieldError(fieldName string) FieldError {
	code := e.Code
	if code == "" {
		code = ErrCodeProcessing
	}
	return FieldError{FieldName: fieldName, Code: code, Message: e.Message}
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if a data-service call that produced this error
// may be retried.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// CodeOf extracts the engine error code from err, or ErrCodeProcessing when
// err carries none.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrCodeProcessing
}

// CyclicDependencyError reports a dependency cycle among field configs.
// Path starts and ends with the same field name.
type CyclicDependencyError struct {
	Path []string `json:"path"`
}

// Error implements the error interface.
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("[%s] %s cyclic field dependency: %s",
		ErrorClassPermanent, ErrCodeCyclicDependency, strings.Join(e.Path, " -> "))
}
