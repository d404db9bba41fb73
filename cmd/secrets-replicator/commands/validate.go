package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/secrets-replicator/internal/destinations"
)

func NewValidateCommand(app *App) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the destination list and the rules it references",
		Long: `Validate loads the destination list and every filter ruleset, name
mapping and transformation it references, and reports each one that is
missing or malformed.

With --file only the given destination list document is checked, without
contacting AWS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				specs, err := destinations.ParseSpecs(data)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ %s: %d destinations\n", file, len(specs))
				return nil
			}

			if err := app.load(); err != nil {
				return err
			}

			ctx, cancel := app.context(cmd.Context())
			defer cancel()

			rt, err := app.NewRuntime(ctx, app.Config.Settings, app.Logger())
			if err != nil {
				return fmt.Errorf("failed to set up AWS clients: %w", err)
			}
			orch, err := app.orchestrator(rt)
			if err != nil {
				return err
			}

			specs, err := orch.Specs(ctx)
			if err != nil {
				return err
			}
			problems, err := orch.Validate(ctx)
			if err != nil {
				return err
			}

			if len(problems) == 0 {
				fmt.Fprintf(out, "✓ %d destinations, all referenced rules load and parse\n", len(specs))
				return nil
			}
			for _, p := range problems {
				fmt.Fprintf(out, "✗ %s\n", p)
			}
			return fmt.Errorf("found %d configuration problems", len(problems))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Check a local destination list document instead")

	return cmd
}
