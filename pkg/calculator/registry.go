package calculator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrules/openrules/pkg/engine"
)

// exprCalc adapts a compiled expression to the Calculator contract.
type exprCalc struct {
	expr *Expression
}

func (c *exprCalc) Name() string { return "expression" }

func (c *exprCalc) ValidateParameters(map[string]interface{}) error { return nil }

func (c *exprCalc) Calculate(ctx context.Context, params map[string]interface{}, fieldValues map[string]interface{}) (interface{}, error) {
	return c.expr.Evaluate(fieldValues)
}

// instanceCache holds custom calculator instances keyed by reference
// ("starlark:risk_score", "wasm:geo_distance") for the process lifetime.
var instanceCache sync.Map

// RegisterCustom makes a custom calculator resolvable by reference.
func RegisterCustom(ref string, calc engine.Calculator) {
	instanceCache.Store(ref, calc)
}

// LookupCustom returns a previously registered custom calculator.
func LookupCustom(ref string) (engine.Calculator, bool) {
	cached, ok := instanceCache.Load(ref)
	if !ok {
		return nil, false
	}
	return cached.(engine.Calculator), true
}

// ForConfig resolves a calculator configuration to an executable
// calculator. version keys the expression AST cache; bump it when the
// owning field config changes.
func ForConfig(cfg *engine.CalculatorConfig, version string) (engine.Calculator, error) {
	if cfg == nil {
		return nil, engine.NewPermanentError("field has no calculator configuration", nil).
			WithCode(engine.ErrCodeCalculator)
	}

	switch cfg.Type {
	case engine.CalculatorExpression:
		expr, err := CompileExpression(cfg.Expression, version)
		if err != nil {
			return nil, err
		}
		return &exprCalc{expr: expr}, nil

	case engine.CalculatorBuiltin:
		return NewBuiltin(cfg.Function)

	case engine.CalculatorCustom:
		calc, ok := LookupCustom(cfg.Ref)
		if !ok {
			return nil, engine.NewPermanentError(fmt.Sprintf("custom calculator %q is not registered", cfg.Ref), nil).
				WithCode(engine.ErrCodeCalculator).
				WithSuggestion("place the implementation in the custom calculator directory and restart")
		}
		return calc, nil
	}

	return nil, engine.NewPermanentError(fmt.Sprintf("unknown calculator type %q", cfg.Type), nil).
		WithCode(engine.ErrCodeCalculator)
}

// DiscoverCustomDir loads every custom calculator implementation found
// under dir: *.star files become Starlark calculators, *.wasm files
// become WASM calculators. References take the form
// "starlark:<basename>" and "wasm:<basename>".
func DiscoverCustomDir(ctx context.Context, dir string, timeout time.Duration, logger zerolog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read custom calculator directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(dir, name)

		switch filepath.Ext(name) {
		case ".star":
			script, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			calc, err := NewStarlarkCalculator(base, string(script), timeout)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			ref := "starlark:" + base
			RegisterCustom(ref, calc)
			logger.Info().Str("ref", ref).Str("path", path).Msg("registered custom calculator")

		case ".wasm":
			blob, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			calc, err := NewWASMCalculator(ctx, base, blob, timeout)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			ref := "wasm:" + base
			RegisterCustom(ref, calc)
			logger.Info().Str("ref", ref).Str("path", path).Msg("registered custom calculator")
		}
	}
	return nil
}
