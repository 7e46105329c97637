package registry

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openrules/openrules/pkg/calculator"
	"github.com/openrules/openrules/pkg/engine"
)

// Validator checks configurations before they enter a registry.
type Validator struct {
	structs *validator.Validate
}

// NewValidator creates a validator with the struct-tag rules attached.
func NewValidator() *Validator {
	return &Validator{structs: validator.New()}
}

// ValidateFieldConfig rejects malformed field configurations. Beyond
// the struct tags it enforces the shape rules the planner relies on:
// a field sources its value from at most one of data service and
// calculator, and a mapper expression only makes sense against a
// data-service response.
func (v *Validator) ValidateFieldConfig(cfg *engine.FieldConfig) error {
	if cfg == nil {
		return engine.NewPermanentError("field config is nil", nil).
			WithCode(engine.ErrCodeProcessing)
	}
	if !engine.ValidFieldName(cfg.FieldName) {
		return engine.NewPermanentError(
			fmt.Sprintf("field name %q is not valid", cfg.FieldName), nil).
			WithCode(engine.ErrCodeProcessing).WithField(cfg.FieldName)
	}
	if err := v.structs.Struct(cfg); err != nil {
		return engine.NewPermanentError("field config failed validation", err).
			WithCode(engine.ErrCodeProcessing).WithField(cfg.FieldName)
	}

	if cfg.DataService != nil && cfg.Calculator != nil {
		return engine.NewPermanentError(
			"field config declares both a data service and a calculator", nil).
			WithCode(engine.ErrCodeProcessing).WithField(cfg.FieldName).
			WithSuggestion("split the field into a fetched field and a calculated field")
	}
	if cfg.MapperExpression != "" && cfg.DataService == nil {
		return engine.NewPermanentError(
			"mapper expression requires a data service config", nil).
			WithCode(engine.ErrCodeProcessing).WithField(cfg.FieldName)
	}
	if cfg.IsCalculated && cfg.Calculator == nil {
		return engine.NewPermanentError(
			"calculated field has no calculator config", nil).
			WithCode(engine.ErrCodeProcessing).WithField(cfg.FieldName)
	}

	for _, dep := range cfg.Dependencies {
		if !engine.ValidFieldName(dep) {
			return engine.NewPermanentError(
				fmt.Sprintf("dependency name %q is not valid", dep), nil).
				WithCode(engine.ErrCodeProcessing).WithField(cfg.FieldName)
		}
	}

	if cfg.Calculator != nil {
		if err := v.validateCalculator(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateCalculator(cfg *engine.FieldConfig) error {
	calc := cfg.Calculator
	switch calc.Type {
	case engine.CalculatorExpression:
		if _, err := calculator.CompileExpression(calc.Expression, fmt.Sprintf("%d", cfg.Version)); err != nil {
			return engine.NewPermanentError("calculator expression does not compile", err).
				WithCode(engine.ErrCodeCalculator).WithField(cfg.FieldName)
		}
	case engine.CalculatorBuiltin:
		if calc.Function == "" {
			return engine.NewPermanentError("builtin calculator names no function", nil).
				WithCode(engine.ErrCodeCalculator).WithField(cfg.FieldName)
		}
	case engine.CalculatorCustom:
		if calc.Ref == "" {
			return engine.NewPermanentError("custom calculator names no ref", nil).
				WithCode(engine.ErrCodeCalculator).WithField(cfg.FieldName)
		}
	default:
		return engine.NewPermanentError(
			fmt.Sprintf("unknown calculator type %q", calc.Type), nil).
			WithCode(engine.ErrCodeCalculator).WithField(cfg.FieldName)
	}
	return nil
}

// ValidateEntityType rejects malformed entity types.
func (v *Validator) ValidateEntityType(et *engine.EntityType) error {
	if et == nil {
		return engine.NewPermanentError("entity type is nil", nil).
			WithCode(engine.ErrCodeProcessing)
	}
	if et.TypeName == "" {
		return engine.NewPermanentError("entity type has no name", nil).
			WithCode(engine.ErrCodeProcessing)
	}
	if et.DataService == nil {
		return engine.NewPermanentError(
			fmt.Sprintf("entity type %q has no data service config", et.TypeName), nil).
			WithCode(engine.ErrCodeProcessing)
	}
	if err := v.structs.Struct(et); err != nil {
		return engine.NewPermanentError("entity type failed validation", err).
			WithCode(engine.ErrCodeProcessing)
	}
	for name := range et.FieldMappings {
		if !engine.ValidFieldName(name) {
			return engine.NewPermanentError(
				fmt.Sprintf("field mapping name %q is not valid", name), nil).
				WithCode(engine.ErrCodeProcessing)
		}
	}
	return nil
}
