package policy

import (
	"time"
)

// BuiltinPolicies returns the admission policies that ship with the
// engine. They encode the registration rules that must hold regardless
// of any operator-supplied policy set.
func BuiltinPolicies() []Policy {
	return []Policy{
		sourceExclusivityPolicy(),
		endpointSchemePolicy(),
		timeoutBoundsPolicy(),
		selfDependencyPolicy(),
	}
}

// sourceExclusivityPolicy rejects field configs that declare both a
// data service and a calculator.
func sourceExclusivityPolicy() Policy {
	return Policy{
		Name:        "field-source-exclusivity",
		Description: "A field sources its value from at most one of data service and calculator",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"fields", "shape"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openrules.policies.sources

import rego.v1

deny contains violation if {
	input.kind == "fieldConfig"
	input.fieldConfig.dataServiceConfig
	input.fieldConfig.calculatorConfig
	violation := {
		"message": sprintf("field %s declares both a data service and a calculator", [input.fieldConfig.fieldName]),
		"severity": "error",
		"subject": input.fieldConfig.fieldName,
	}
}
`,
	}
}

// endpointSchemePolicy restricts data-service endpoints to http(s).
func endpointSchemePolicy() Policy {
	return Policy{
		Name:        "endpoint-scheme",
		Description: "Data-service endpoints must use http or https",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"endpoints"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openrules.policies.endpoints

import rego.v1

endpoint := input.fieldConfig.dataServiceConfig.endpoint if {
	input.kind == "fieldConfig"
} else := input.entityType.dataServiceConfig.endpoint if {
	input.kind == "entityType"
}

deny contains violation if {
	endpoint
	not startswith(endpoint, "http://")
	not startswith(endpoint, "https://")
	violation := {
		"message": sprintf("endpoint %s does not use http or https", [endpoint]),
		"severity": "error",
	}
}
`,
	}
}

// timeoutBoundsPolicy keeps per-call timeouts inside sane bounds.
func timeoutBoundsPolicy() Policy {
	return Policy{
		Name:        "timeout-bounds",
		Description: "Per-call timeouts must stay at or below two minutes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"endpoints", "timeouts"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openrules.policies.timeouts

import rego.v1

timeout := input.fieldConfig.dataServiceConfig.timeoutMs if {
	input.kind == "fieldConfig"
} else := input.entityType.dataServiceConfig.timeoutMs if {
	input.kind == "entityType"
}

deny contains violation if {
	timeout > 120000
	violation := {
		"message": sprintf("timeout %dms exceeds the two minute ceiling", [timeout]),
		"severity": "error",
	}
}
`,
	}
}

// selfDependencyPolicy rejects a field that depends on itself; deeper
// cycles are the analyzer's concern.
func selfDependencyPolicy() Policy {
	return Policy{
		Name:        "self-dependency",
		Description: "A field must not list itself as a dependency",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"fields", "dependencies"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openrules.policies.dependencies

import rego.v1

deny contains violation if {
	input.kind == "fieldConfig"
	some dep in input.fieldConfig.dependencies
	dep == input.fieldConfig.fieldName
	violation := {
		"message": sprintf("field %s depends on itself", [input.fieldConfig.fieldName]),
		"severity": "error",
		"subject": input.fieldConfig.fieldName,
	}
}
`,
	}
}
