package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	valid := map[string]Format{
		"":          FormatTable,
		"table":     FormatTable,
		"json":      FormatJSON,
		"JSON":      FormatJSON,
		"yaml":      FormatYAML,
		"yml":       FormatYAML,
		"  table  ": FormatTable,
	}
	for input, want := range valid {
		got, err := ParseFormat(input)
		require.NoErrorf(t, err, "input %q", input)
		assert.Equalf(t, want, got, "input %q", input)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "table", FormatTable.String())
	assert.Equal(t, "json", FormatJSON.String())
	assert.Equal(t, "yaml", FormatYAML.String())
}
