package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file for problems",
	Long: `Load the configuration and report syntax errors, bad values and settings
that will degrade the engine at runtime.

Examples:
  ark config validate
  ark config validate --config /etc/ark/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	shownPath := configPath
	if shownPath == "" {
		shownPath = config.GetDefaultConfigPath()
	}

	fmt.Printf("%s is valid\n", shownPath)

	if warnings := collectWarnings(cfg); len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, warning := range warnings {
			fmt.Println("  -", warning)
		}
	}

	opsPort := "disabled"
	if cfg.API.IsEnabled() {
		opsPort = fmt.Sprintf("%d", cfg.API.Port)
	}

	fmt.Println("\nSummary:")
	fmt.Println("  Remote backend: ", cfg.Remote.Kind)
	fmt.Println("  Cache budget:   ", cfg.Cache.MaxBytes)
	fmt.Println("  Ops API port:   ", opsPort)
	fmt.Println("  Log level:      ", cfg.Logging.Level)

	return nil
}

// collectWarnings flags settings that load fine but will degrade the
// engine at runtime.
func collectWarnings(cfg *config.Config) []string {
	var warnings []string

	// The bucket field cannot be required by validation because the http
	// kind never reads it.
	if cfg.Remote.Kind == "s3" && cfg.Remote.S3.Bucket == "" {
		warnings = append(warnings, "remote.s3.bucket not configured - content fetches will fail")
	}
	if cfg.Reachability.ProbeURL == "" {
		warnings = append(warnings, "reachability.probe_url not configured - engine assumes it is always online")
	}
	if cfg.Cache.MaxBytes == 0 {
		warnings = append(warnings, "cache.max_bytes is 0 - cache grows without bound")
	}
	return warnings
}
