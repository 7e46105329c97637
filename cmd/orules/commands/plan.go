package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrules/openrules/pkg/analyzer"
)

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan <field>...",
		Short: "Build a resolution plan for registered fields",
		Long: `Build the dependency-aware resolution plan for the named fields
without executing it.

The plan shows the sequential chains, the parallel groups per level,
calculator ordering and the estimated cost.`,
		Example: `  # Plan two fields
  orules plan creditScore accountStatus

  # Plan and write the execution graph for Graphviz
  orules plan creditScore accountStatus --dot plan.dot`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			plan, err := rt.eng.Plan(cmd.Context(), args)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(analyzer.ToDOT(plan)), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT file: %w", err)
				}
				rt.logger.Info().Str("path", dotFile).Msg("execution graph written")
			}
			return printJSON(plan)
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "output DOT graph file (optional)")

	return cmd
}
