package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Write a completion script for the named shell to stdout.

Load it directly for one session:

  $ source <(ark completion bash)
  $ ark completion fish | source

Or install it permanently:

  $ ark completion bash > /etc/bash_completion.d/ark
  $ ark completion zsh > "${fpath[1]}/_ark"
  $ ark completion fish > ~/.config/fish/completions/ark.fish
  PS> ark completion powershell >> $PROFILE`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		switch args[0] {
		case "bash":
			return root.GenBashCompletion(os.Stdout)
		case "zsh":
			return root.GenZshCompletion(os.Stdout)
		case "fish":
			return root.GenFishCompletion(os.Stdout, true)
		default:
			return root.GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}
