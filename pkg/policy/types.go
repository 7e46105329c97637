package policy

import (
	"time"
)

// Severity grades a violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Policy is an admission rule written in Rego. Policies are evaluated
// against candidate field configs and entity types before they enter
// the registry; a policy denies by emitting entries from its `deny`
// set.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity is the default severity of this policy's violations.
	Severity Severity `json:"severity"`

	// Enabled gates evaluation.
	Enabled bool `json:"enabled"`

	// Tags label the policy.
	Tags []string `json:"tags,omitempty"`

	// Metadata is opaque policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one denied admission check.
type Violation struct {
	// Policy names the policy that fired.
	Policy string `json:"policy"`

	// Subject is the field name or entity type name checked.
	Subject string `json:"subject,omitempty"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity grades the violation.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against one
// candidate.
type Result struct {
	// Allowed is false when any violation is error or critical.
	Allowed bool `json:"allowed"`

	// Violations lists everything the policies denied.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// admissionInput is the document handed to Rego as `input`.
type admissionInput struct {
	// Kind is "fieldConfig" or "entityType".
	Kind string `json:"kind"`

	// FieldConfig carries the candidate when Kind is "fieldConfig".
	FieldConfig map[string]interface{} `json:"fieldConfig,omitempty"`

	// EntityType carries the candidate when Kind is "entityType".
	EntityType map[string]interface{} `json:"entityType,omitempty"`

	// Context carries operation metadata.
	Context map[string]interface{} `json:"context"`
}
