package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function restoring the original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.NotContains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("InvalidLevelIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("VERBOSE") // not a level, keeps INFO

		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})
}

func TestStructuredFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("text")

	Info("download complete", KeyTaskID, "t-1", KeyBytesReceived, 1024)

	out := buf.String()
	assert.Contains(t, out, "download complete")
	assert.Contains(t, out, "task_id=t-1")
	assert.Contains(t, out, "bytes_received=1024")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	defer SetFormat("text")

	Info("cache hit", KeyContentKey, "text/john/3/kjv", KeyCacheHit, true)

	var record map[string]any
	line := strings.TrimSpace(buf.String())
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "cache hit", record["msg"])
	assert.Equal(t, "text/john/3/kjv", record[KeyContentKey])
	assert.Equal(t, true, record[KeyCacheHit])
}

func TestContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("text")

	lc := NewLogContext("sync").WithEntity("note/42")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "operation applied", KeyAttempt, 2)

	out := buf.String()
	assert.Contains(t, out, "component=sync")
	assert.Contains(t, out, "entity=note/42")
	assert.Contains(t, out, "attempt=2")
}

func TestContextClone(t *testing.T) {
	lc := NewLogContext("download")
	scoped := lc.WithKey("audio/psalms/23/esv-david/high")

	assert.Empty(t, lc.ContentKey)
	assert.Equal(t, "audio/psalms/23/esv-david/high", scoped.ContentKey)
	assert.Equal(t, "download", scoped.Component)

	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
	assert.Zero(t, nilCtx.DurationMs())
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Info("concurrent", "worker", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 20, lines)
}

func TestInitWithWriter(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	buf := new(bytes.Buffer)
	InitWithWriter(buf, "DEBUG", "text")

	Debug("visible after init")
	assert.Contains(t, buf.String(), "visible after init")
}
