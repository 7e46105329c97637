package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openrules/openrules/pkg/registry"
)

func newFieldsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Inspect and validate field configurations",
	}
	cmd.AddCommand(newFieldsListCommand())
	cmd.AddCommand(newFieldsValidateCommand())
	return cmd
}

func newFieldsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered fields and entity types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			fields, entityTypes, err := rt.listNames(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string][]string{
				"fields":      fields,
				"entityTypes": entityTypes,
			})
		},
	}
}

func (rt *runtime) listNames(ctx context.Context) (fields, entityTypes []string, err error) {
	if rt.store != nil {
		fields, err = rt.store.ListFieldNames(ctx)
		if err != nil {
			return nil, nil, err
		}
		entityTypes, err = rt.store.ListEntityTypeNames(ctx)
		if err != nil {
			return nil, nil, err
		}
		return fields, entityTypes, nil
	}
	return rt.memory.ListFieldNames(ctx), rt.memory.ListEntityTypeNames(ctx), nil
}

func newFieldsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>...",
		Short: "Validate field-config bundles without registering them",
		Long: `Load bundle directories into a throwaway registry, applying the
same structural validation and admission policies a real load would.

The command exits non-zero when any bundle entry is rejected.`,
		Example: `  orules fields validate ./fields ./extra-fields`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			scratch := registry.NewMemory(registry.MemoryOptions{Admission: rt.pol}, rt.logger)
			loader := registry.NewLoader(scratch, rt.logger)

			var rejected int
			for _, dir := range args {
				report, err := loader.LoadDir(cmd.Context(), dir)
				if err != nil {
					return err
				}
				for _, loadErr := range report.Errors {
					fmt.Printf("rejected: %v\n", loadErr)
					rejected++
				}
				fmt.Printf("%s: %d file(s), %d field(s), %d entity type(s)\n",
					dir, len(report.Files), report.Fields, report.EntityTypes)
			}

			if rejected > 0 {
				return fmt.Errorf("%d bundle entr(ies) rejected", rejected)
			}
			fmt.Println("all bundles valid")
			return nil
		},
	}
}
