package calculator

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openrules/openrules/pkg/engine"
)

// StarlarkCalculator runs a Starlark script as a custom calculator. The
// script sees two predeclared dicts, "params" and "fields", and must
// assign its output to a global named "result".
type StarlarkCalculator struct {
	name    string
	script  string
	timeout time.Duration
}

// NewStarlarkCalculator compiles the script once to catch syntax errors
// at discovery time.
func NewStarlarkCalculator(name, script string, timeout time.Duration) (*StarlarkCalculator, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if _, err := syntax.Parse(name+".star", script, 0); err != nil {
		return nil, engine.NewPermanentError("starlark script does not parse", err).
			WithCode(engine.ErrCodeCalculator).
			WithField(name)
	}
	return &StarlarkCalculator{name: name, script: script, timeout: timeout}, nil
}

func (c *StarlarkCalculator) Name() string { return c.name }

func (c *StarlarkCalculator) ValidateParameters(params map[string]interface{}) error {
	// Scripts receive parameters as a dict; any JSON-shaped struct works.
	_, err := toStarlarkValue(params)
	return err
}

// Calculate executes the script in a goroutine so a runaway script
// cannot stall the resolver past the timeout.
func (c *StarlarkCalculator) Calculate(ctx context.Context, params map[string]interface{}, fieldValues map[string]interface{}) (interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		value, err := c.run(params, fieldValues)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- value
	}()

	select {
	case <-evalCtx.Done():
		return nil, engine.NewPermanentError(fmt.Sprintf("starlark calculator timed out after %v", c.timeout), evalCtx.Err()).
			WithCode(engine.ErrCodeCalculator).
			WithField(c.name)
	case err := <-errCh:
		return nil, engine.NewPermanentError("starlark calculator failed", err).
			WithCode(engine.ErrCodeCalculator).
			WithField(c.name)
	case value := <-resultCh:
		return value, nil
	}
}

func (c *StarlarkCalculator) run(params map[string]interface{}, fieldValues map[string]interface{}) (interface{}, error) {
	thread := &starlark.Thread{
		Name: "openrules",
		Print: func(_ *starlark.Thread, msg string) {
			// Scripts may not write to the process output.
		},
	}

	paramsDict, err := toStarlarkValue(params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert parameters: %w", err)
	}
	fieldsDict, err := toStarlarkValue(fieldValues)
	if err != nil {
		return nil, fmt.Errorf("failed to convert field values: %w", err)
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"params": paramsDict,
		"fields": fieldsDict,
	}

	globals, err := starlark.ExecFile(thread, c.name+".star", c.script, predeclared)
	if err != nil {
		return nil, err
	}

	result, ok := globals["result"]
	if !ok {
		return nil, fmt.Errorf("script did not assign a \"result\" global")
	}
	return fromStarlarkValue(result)
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			conv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return float64(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
