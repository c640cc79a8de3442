// Package config groups the configuration inspection subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is mounted on the root command as "ark config".
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect and check ark configuration files.

Use 'ark init' to create a new configuration file, then:

  validate  check a config file for errors and risky settings
  show      print the effective configuration
  schema    emit a JSON schema for editors and CI`,
}

func init() {
	Cmd.AddCommand(validateCmd, showCmd, schemaCmd)
}
