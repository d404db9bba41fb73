package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewReplicateCommand(app *App) *cobra.Command {
	var (
		secretID   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Replicate one source secret to its destinations",
		Long: `Replicate fetches the source secret, resolves which destinations it
belongs to, applies each destination's transformations and writes the
result. A failed destination does not stop the others; the command exits
non-zero unless every matched destination succeeded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.load(); err != nil {
				return err
			}
			defer func() { _ = app.Logger().Sync() }()

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

			summary := orch.Replicate(ctx, secretID)

			out := cmd.OutOrStdout()
			if jsonOutput {
				err = writeJSON(out, summary)
			} else {
				err = writeSummaryTable(out, summary)
			}
			if err != nil {
				return err
			}

			if !summary.Outcome.OK() {
				return fmt.Errorf("replication of %s finished with outcome %s", secretID, summary.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&secretID, "secret-id", "", "Name or ARN of the source secret (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the summary in JSON format")
	_ = cmd.MarkFlagRequired("secret-id")

	return cmd
}
