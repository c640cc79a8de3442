// Package output renders CLI command results as a table, JSON or YAML.
package output

import (
	"fmt"
	"strings"
)

// Format selects how a command renders its result.
type Format string

const (
	// FormatTable renders a human-readable table. The default.
	FormatTable Format = "table"
	// FormatJSON renders indented JSON.
	FormatJSON Format = "json"
	// FormatYAML renders YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat maps an --output flag value onto a Format. The empty string
// means table; "yml" is accepted for yaml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q, want table, json or yaml", s)
}

func (f Format) String() string {
	return string(f)
}
