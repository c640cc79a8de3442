package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/internal/cli/prompt"
	"github.com/voxbiblia/ark/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter configuration file",
	Long: `Write a commented starter configuration file with every setting at its
default. The file lands at $XDG_CONFIG_HOME/ark/config.yaml unless --config
points somewhere else.

Examples:
  ark init
  ark init --config /etc/ark/config.yaml
  ark init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	// An existing file needs confirmation before it gets clobbered; --force
	// skips the prompt for scripted use.
	targetPath := configFile
	if targetPath == "" {
		targetPath = config.GetDefaultConfigPath()
	}
	force := initForce
	if _, statErr := os.Stat(targetPath); !force && statErr == nil {
		confirmed, err := prompt.Confirm(
			fmt.Sprintf("Configuration file %s already exists. Overwrite?", targetPath), false)
		if err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("Aborted.")
				return nil
			}
			return err
		}
		if !confirmed {
			fmt.Println("Keeping existing configuration.")
			return nil
		}
		force = true
	}

	configPath := configFile
	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, force)
	} else {
		configPath, err = config.InitConfig(force)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Wrote %s\n", configPath)
	fmt.Println("\nNext:")
	fmt.Println("  1. Point remote.base_url at your content server")
	fmt.Printf("  2. Run the engine: ark start --config %s\n", configPath)

	return nil
}
