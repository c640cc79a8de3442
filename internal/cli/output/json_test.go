package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downloadRow struct {
	Key   string `json:"key"`
	State string `json:"state"`
}

func TestPrintJSON(t *testing.T) {
	data := downloadRow{Key: "text/john/3/kjv", State: "completed"}

	var buf bytes.Buffer
	err := PrintJSON(&buf, data)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, `"key": "text/john/3/kjv"`)
	assert.Contains(t, output, `"state": "completed"`)
}

func TestPrintJSONArray(t *testing.T) {
	data := []downloadRow{
		{Key: "audio/psalms/23/james/high", State: "downloading"},
		{Key: "text/luke/15/esv", State: "queued"},
	}

	var buf bytes.Buffer
	err := PrintJSON(&buf, data)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, `"key": "audio/psalms/23/james/high"`)
	assert.Contains(t, output, `"state": "queued"`)
}
