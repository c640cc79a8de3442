package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/voxbiblia/ark/pkg/config"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Emit the configuration JSON schema",
	Long: `Emit a JSON schema describing the ark configuration file.

Editors pick the schema up for autocompletion and inline validation,
and CI can check config files against it before they ship.

Examples:
  ark config schema
  ark config schema --output config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Write to a file instead of stdout")
}

func runSchema(cmd *cobra.Command, args []string) error {
	schemaJSON, err := buildSchema()
	if err != nil {
		return err
	}

	if schemaOutput == "" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
		return nil
	}

	if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", schemaOutput)
	return nil
}

// buildSchema reflects the configuration struct into a draft 2020-12
// schema document.
func buildSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := r.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "Ark Configuration"
	schema.Description = "Configuration schema for the ark engine"

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return out, nil
}
