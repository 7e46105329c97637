package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Build metadata carried into telemetry.
	buildVersion = "dev"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orules",
		Short: "OpenRules - Dynamic Rules Evaluation Engine",
		Long: `OpenRules evaluates JSON rule trees against entities whose field
values come from the execution context, from external data services,
or from calculator expressions.

Features:
  - Nested and/or rule groups with typed comparison operators
  - Registry of field configs and entity types (in-memory or SQLite)
  - Dependency-aware resolution plans with parallel fetching
  - Population filtering with batched, bounded concurrency
  - Rego-based admission policies for registered configurations`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newFilterCommand())
	rootCmd.AddCommand(newLintCommand())
	rootCmd.AddCommand(newFieldsCommand())

	return rootCmd
}
