package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewPlanCommand(app *App) *cobra.Command {
	var (
		secretID string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show where a secret would be replicated (no values read or written)",
		Long: `Plan evaluates every destination's filters and name mapping for the
given secret id and shows which destinations would be written, under
which name and with which transformations. The secret value is never
fetched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
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

			decisions, err := orch.Plan(ctx, secretID)
			if err != nil {
				return fmt.Errorf("failed to plan: %w", err)
			}
			entries := planEntries(decisions)

			out := cmd.OutOrStdout()
			switch output {
			case outputJSON:
				return writeJSON(out, entries)
			case outputYAML:
				return writeYAML(out, entries)
			default:
				return writePlanTable(out, secretID, entries)
			}
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Name or ARN of the source secret (required)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, json or yaml")
	_ = cmd.MarkFlagRequired("secret-id")
	_ = cmd.RegisterFlagCompletionFunc("output", fixedValues(outputText, outputJSON, outputYAML))

	return cmd
}
