package commands

import (
	"github.com/spf13/cobra"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

// NewCompletionCommand creates the completion command. Besides subcommand
// names, the generated scripts complete the fixed values of --output on plan
// and --mode on transform.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Print a shell completion script for operator workstations",
		Long: `Print a shell completion script for secrets-replicator.

The replicator itself runs unattended from a Secrets Manager event. The
completion script is for operators running plan, transform and validate
by hand when checking destination lists and rule sets.`,
		Example: `  # Try it in the current bash session before a plan run
  source <(secrets-replicator completion bash)
  secrets-replicator plan --secret-id app/db --output <TAB>

  # Install for zsh
  secrets-replicator completion zsh > "${fpath[1]}/_secrets-replicator"

  # Install for fish
  secrets-replicator completion fish > ~/.config/fish/completions/secrets-replicator.fish

  # PowerShell, current session
  secrets-replicator completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             completionShells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}

	return cmd
}

// fixedValues completes a flag from a closed set and suppresses file names.
func fixedValues(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}
