// Package commands implements the ark command line interface.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/cmd/ark/commands/config"
)

// Build metadata, overridden through ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ark",
	Short: "Ark - Offline content cache and sync engine",
	Long: `Ark is the offline engine behind the VoxBiblia reading apps. It caches
scripture content for offline reading, downloads books and audio for
explicit offline use, and queues local annotations (bookmarks, highlights,
notes, reading progress) for synchronization when connectivity returns.

The engine runs as a local daemon with a small ops API for health checks,
status snapshots and metrics.

Use "ark [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. main wires the build metadata in before calling it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ark/config.yaml)")

	rootCmd.AddCommand(
		versionCmd,
		startCmd,
		stopCmd,
		statusCmd,
		logsCmd,
		initCmd,
		config.Cmd,
		completionCmd,
	)

	// Our completion command replaces the generated one
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the --config flag value, empty when unset.
func GetConfigFile() string {
	return cfgFile
}
