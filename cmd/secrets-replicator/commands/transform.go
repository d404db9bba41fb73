package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/secrets-replicator/internal/transform"
	"github.com/systmms/secrets-replicator/internal/variables"
)

func NewTransformCommand(app *App) *cobra.Command {
	var (
		rulesFile string
		mode      string
		vars      []string
	)

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Apply a rule file to a value read from stdin",
		Long: `Transform applies a transformation rule file to the value read from
standard input and prints the result. Use it to try out rules before
storing them under secrets-replicator/transformations/. Nothing is read
from or written to AWS.

Variables such as ${DEST_REGION} are expanded from --var flags.`,
		Example: `  echo '{"region":"us-east-1"}' | secrets-replicator transform --rules swap.sed --var DEST_REGION=us-west-2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.load(); err != nil {
				return err
			}

			format, err := transform.ParseFormat(mode)
			if err != nil {
				return err
			}
			ctx, err := parseVars(vars)
			if err != nil {
				return err
			}

			text, err := os.ReadFile(rulesFile)
			if err != nil {
				return fmt.Errorf("failed to read rules: %w", err)
			}
			expanded, err := variables.Expand(string(text), ctx)
			if err != nil {
				return err
			}
			rules, err := transform.Parse(expanded, format, transform.WithRegexTimeout(app.Config.Settings.RegexTimeout))
			if err != nil {
				return err
			}

			input, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			value := strings.TrimSuffix(string(input), "\n")

			app.Logger().Debug("applying %d %s rules", rules.Len(), rules.Format())
			out, err := rules.Apply(value)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().StringVarP(&rulesFile, "rules", "r", "", "Path to a transformation rule file (required)")
	cmd.Flags().StringVar(&mode, "mode", "auto", "Rule format: auto, sed or json")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Variable for ${NAME} expansion as NAME=value (repeatable)")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.RegisterFlagCompletionFunc("mode", fixedValues("auto", "sed", "json"))

	return cmd
}

func parseVars(pairs []string) (variables.Context, error) {
	ctx := make(variables.Context, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --var %q: expected NAME=value", pair)
		}
		ctx[strings.TrimSpace(name)] = value
	}
	return ctx, nil
}
