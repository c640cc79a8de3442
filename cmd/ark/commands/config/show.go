package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/internal/cli/output"
	"github.com/voxbiblia/ark/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the engine would run with: the config file
merged over built-in defaults.

Examples:
  # Effective config as YAML (the default)
  ark config show

  # As JSON
  ark config show -o json

  # For a particular file
  ark config show --config /etc/ark/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Render as yaml or json")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, cfg)
	}
	return output.PrintYAML(os.Stdout, cfg)
}
