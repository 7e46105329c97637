package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newLintCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint <rule-file>",
		Short: "Check a rule against the registered fields",
		Long: `Parse a JSON rule file and report findings: fields that are not
registered and operand shapes that can never match.

The command exits non-zero when any finding is reported.`,
		Example: `  orules lint rule.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleJSON, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read rule file: %w", err)
			}

			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			findings, err := rt.eng.LintRule(cmd.Context(), ruleJSON)
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				fmt.Println("rule is clean")
				return nil
			}
			if err := printJSON(findings); err != nil {
				return err
			}
			return fmt.Errorf("%d finding(s)", len(findings))
		},
	}

	return cmd
}
