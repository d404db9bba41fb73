package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secrets-replicator/cmd/secrets-replicator/commands"
	"github.com/systmms/secrets-replicator/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		debug      bool
		timeout    time.Duration
	)

	app := &commands.App{
		Config:     &config.Config{},
		NewRuntime: commands.NewAWSRuntime,
	}

	rootCmd := &cobra.Command{
		Use:   "secrets-replicator",
		Short: "Replicate secrets across regions and accounts with in-flight rewriting",
		Long: `secrets-replicator copies a Secrets Manager secret to the destinations
declared in its destination list, renaming it and rewriting environment
specific values (regions, hostnames, account ids) on the way.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.Config.Path = configFile
			app.Debug = debug
			app.Timeout = timeout
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: replicator.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Deadline for the whole invocation")

	rootCmd.AddCommand(
		commands.NewReplicateCommand(app),
		commands.NewPlanCommand(app),
		commands.NewTransformCommand(app),
		commands.NewValidateCommand(app),
		commands.NewCompletionCommand(),
	)

	return rootCmd.Execute()
}
