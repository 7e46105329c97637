package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openrules/openrules/pkg/engine"
	"github.com/openrules/openrules/pkg/evaluator"
)

func newEvaluateCommand() *cobra.Command {
	var (
		contextFile string
		entityID    string
		entityType  string
		values      []string
		trace       bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <rule-file>",
		Short: "Evaluate a rule against one entity",
		Long: `Evaluate a JSON rule file against an execution context.

Field values come from the context file or --value flags; registered
fields not covered by the context are resolved through their data
services and calculators.`,
		Example: `  # Evaluate with a context file
  orules evaluate rule.json --context entity.json

  # Evaluate with inline values and a trace
  orules evaluate rule.json --value age=25 --value status=active --trace

  # Resolve registered fields for a known entity
  orules evaluate rule.json --entity-id cust-42 --entity-type customer`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleJSON, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read rule file: %w", err)
			}

			execCtx, err := buildExecutionContext(contextFile, entityID, entityType, values)
			if err != nil {
				return err
			}

			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.eng.Evaluate(cmd.Context(), ruleJSON, execCtx, evaluator.EvaluateOptions{Trace: trace})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&contextFile, "context", "", "JSON file with the execution context")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity identifier passed to data services")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type name")
	cmd.Flags().StringArrayVar(&values, "value", nil, "inline field value as name=value (repeatable)")
	cmd.Flags().BoolVar(&trace, "trace", false, "include the per-condition evaluation trace")

	return cmd
}

// buildExecutionContext merges the context file with the flag-supplied
// identity and inline values. Flags win over the file.
func buildExecutionContext(contextFile, entityID, entityType string, values []string) (*engine.ExecutionContext, error) {
	execCtx := &engine.ExecutionContext{}

	if contextFile != "" {
		data, err := os.ReadFile(contextFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read context file: %w", err)
		}
		if err := json.Unmarshal(data, execCtx); err != nil {
			return nil, fmt.Errorf("failed to parse context file: %w", err)
		}
	}
	if entityID != "" {
		execCtx.EntityID = entityID
	}
	if entityType != "" {
		execCtx.EntityType = entityType
	}

	for _, pair := range values {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --value %q, want name=value", pair)
		}
		if execCtx.FieldValues == nil {
			execCtx.FieldValues = make(map[string]interface{})
		}
		// Try JSON first so numbers and booleans keep their type.
		var parsed interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			execCtx.FieldValues[name] = parsed
		} else {
			execCtx.FieldValues[name] = raw
		}
	}

	return execCtx, nil
}
