package calculator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openrules/openrules/pkg/engine"
)

// BuiltinNames lists the named aggregate functions available as
// BUILTIN calculators.
var BuiltinNames = []string{
	"sum", "min", "max", "avg", "count", "concat", "dateAdd", "dateDiff", "percentage",
}

// builtinCalc adapts one named function to the Calculator contract.
type builtinCalc struct {
	name string
	fn   func(p builtinParams, values map[string]interface{}) (interface{}, error)
}

// builtinParams is the decoded parameters struct shared by all builtins.
type builtinParams struct {
	fields    []string
	separator string
	unit      string
	amount    float64
	hasAmount bool
}

// NewBuiltin returns the named builtin calculator, or an error for an
// unknown name.
func NewBuiltin(name string) (engine.Calculator, error) {
	fn, ok := builtinFuncs[name]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unknown builtin calculator %q", name), nil).
			WithCode(engine.ErrCodeCalculator).
			WithSuggestion("known builtins: " + strings.Join(BuiltinNames, ", "))
	}
	return &builtinCalc{name: name, fn: fn}, nil
}

func (b *builtinCalc) Name() string { return b.name }

func (b *builtinCalc) ValidateParameters(params map[string]interface{}) error {
	p, err := decodeParams(params)
	if err != nil {
		return err
	}
	switch b.name {
	case "sum", "min", "max", "avg", "count", "concat":
		if len(p.fields) == 0 {
			return fmt.Errorf("%s requires a non-empty fields list", b.name)
		}
	case "dateAdd":
		if len(p.fields) != 1 {
			return fmt.Errorf("dateAdd requires exactly one field")
		}
		if !p.hasAmount {
			return fmt.Errorf("dateAdd requires an amount")
		}
		if _, err := unitDuration(p.unit, 1); err != nil {
			return err
		}
	case "dateDiff":
		if len(p.fields) != 2 {
			return fmt.Errorf("dateDiff requires exactly two fields")
		}
		if _, err := unitDuration(p.unit, 1); err != nil {
			return err
		}
	case "percentage":
		if len(p.fields) != 2 {
			return fmt.Errorf("percentage requires exactly two fields: part and whole")
		}
	}
	return nil
}

func (b *builtinCalc) Calculate(ctx context.Context, params map[string]interface{}, fieldValues map[string]interface{}) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	return b.fn(p, fieldValues)
}

func decodeParams(params map[string]interface{}) (builtinParams, error) {
	var p builtinParams
	if raw, ok := params["fields"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			if names, ok := raw.([]string); ok {
				p.fields = names
			} else {
				return p, fmt.Errorf("fields must be a list of field names")
			}
		} else {
			for _, item := range list {
				name, ok := item.(string)
				if !ok {
					return p, fmt.Errorf("fields must be a list of field names")
				}
				p.fields = append(p.fields, name)
			}
		}
	}
	if raw, ok := params["separator"]; ok {
		s, ok := raw.(string)
		if !ok {
			return p, fmt.Errorf("separator must be a string")
		}
		p.separator = s
	}
	if raw, ok := params["unit"]; ok {
		s, ok := raw.(string)
		if !ok {
			return p, fmt.Errorf("unit must be a string")
		}
		p.unit = s
	}
	if raw, ok := params["amount"]; ok {
		f, err := operandNumber(raw)
		if err != nil {
			return p, fmt.Errorf("amount must be a number")
		}
		p.amount = f
		p.hasAmount = true
	}
	return p, nil
}

var builtinFuncs = map[string]func(p builtinParams, values map[string]interface{}) (interface{}, error){
	"sum": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		nums, err := numericOperands(p.fields, values)
		if err != nil {
			return nil, err
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total, nil
	},

	"min": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		nums, err := numericOperands(p.fields, values)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("min of no values")
		}
		out := nums[0]
		for _, n := range nums[1:] {
			if n < out {
				out = n
			}
		}
		return out, nil
	},

	"max": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		nums, err := numericOperands(p.fields, values)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("max of no values")
		}
		out := nums[0]
		for _, n := range nums[1:] {
			if n > out {
				out = n
			}
		}
		return out, nil
	},

	"avg": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		nums, err := numericOperands(p.fields, values)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, fmt.Errorf("avg of no values")
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total / float64(len(nums)), nil
	},

	"count": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		count := 0.0
		for _, name := range p.fields {
			if v, ok := values[name]; ok && v != nil {
				count++
			}
		}
		return count, nil
	},

	"concat": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		parts := make([]string, 0, len(p.fields))
		for _, name := range p.fields {
			if v, ok := values[name]; ok && v != nil {
				parts = append(parts, stringify(v))
			}
		}
		return strings.Join(parts, p.separator), nil
	},

	"dateAdd": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		base, err := dateOperand(p.fields[0], values)
		if err != nil {
			return nil, err
		}
		switch p.unit {
		case "months":
			return base.AddDate(0, int(p.amount), 0), nil
		case "years":
			return base.AddDate(int(p.amount), 0, 0), nil
		}
		d, err := unitDuration(p.unit, p.amount)
		if err != nil {
			return nil, err
		}
		return base.Add(d), nil
	},

	"dateDiff": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		from, err := dateOperand(p.fields[0], values)
		if err != nil {
			return nil, err
		}
		to, err := dateOperand(p.fields[1], values)
		if err != nil {
			return nil, err
		}
		unit, err := unitDuration(p.unit, 1)
		if err != nil {
			return nil, err
		}
		if unit == 0 {
			return nil, fmt.Errorf("dateDiff does not support unit %q", p.unit)
		}
		return to.Sub(from).Seconds() / unit.Seconds(), nil
	},

	"percentage": func(p builtinParams, values map[string]interface{}) (interface{}, error) {
		nums, err := numericOperands(p.fields, values)
		if err != nil {
			return nil, err
		}
		if len(nums) != 2 {
			return nil, fmt.Errorf("percentage requires both part and whole values")
		}
		if nums[1] == 0 {
			return nil, fmt.Errorf("percentage with zero whole")
		}
		return nums[0] / nums[1] * 100, nil
	},
}

func numericOperands(fields []string, values map[string]interface{}) ([]float64, error) {
	out := make([]float64, 0, len(fields))
	for _, name := range fields {
		v, ok := values[name]
		if !ok || v == nil {
			continue
		}
		f, err := operandNumber(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out = append(out, f)
	}
	return out, nil
}

var calcDateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func dateOperand(field string, values map[string]interface{}) (time.Time, error) {
	v, ok := values[field]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("field %q has no value", field)
	}
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("field %q is not a date", field)
	}
	for _, layout := range calcDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("field %q: %q is not a recognized date", field, s)
}

// unitDuration maps a unit name to a duration scaled by amount. The
// default unit is days. months/years are handled by dateAdd directly.
func unitDuration(unit string, amount float64) (time.Duration, error) {
	switch unit {
	case "", "days":
		return time.Duration(amount * 24 * float64(time.Hour)), nil
	case "hours":
		return time.Duration(amount * float64(time.Hour)), nil
	case "minutes":
		return time.Duration(amount * float64(time.Minute)), nil
	case "seconds":
		return time.Duration(amount * float64(time.Second)), nil
	case "months", "years":
		return 0, nil
	}
	return 0, fmt.Errorf("unknown unit %q", unit)
}
