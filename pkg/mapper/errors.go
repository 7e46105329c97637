package mapper

import "fmt"

// ErrorKind classifies a mapping failure.
type ErrorKind string

const (
	KindNullValue        ErrorKind = "NULL_VALUE"
	KindPropertyNotFound ErrorKind = "PROPERTY_NOT_FOUND"
	KindIndexOutOfBounds ErrorKind = "INDEX_OUT_OF_BOUNDS"
	KindNoMatchInFilter  ErrorKind = "NO_MATCH_IN_FILTER"
	KindInvalidExpr      ErrorKind = "INVALID_EXPRESSION"
	KindConversionFailed ErrorKind = "CONVERSION_FAILED"
	KindMapKeyMissing    ErrorKind = "MAP_KEY_MISSING"
)

// MappingError is the unified failure type for extraction and
// conversion. FailingPath is always a prefix of Expression (or the
// expression itself), so callers can point at the exact step that broke.
type MappingError struct {
	// Expression is the full path expression being applied.
	Expression string `json:"expression"`

	// FailingPath is the subpath up to and including the failing segment.
	FailingPath string `json:"failingPath"`

	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`

	// Suggestion hints at a likely fix.
	Suggestion string `json:"suggestion,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

func (e *MappingError) Error() string {
	if e.FailingPath != "" && e.FailingPath != e.Expression {
		return fmt.Sprintf("mapping %q failed at %q: %s (%s)", e.Expression, e.FailingPath, e.Message, e.Kind)
	}
	return fmt.Sprintf("mapping %q failed: %s (%s)", e.Expression, e.Message, e.Kind)
}

func newError(expr, failing string, kind ErrorKind, msg, suggestion string) *MappingError {
	return &MappingError{
		Expression:  expr,
		FailingPath: failing,
		Kind:        kind,
		Message:     msg,
		Suggestion:  suggestion,
	}
}
