package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxbiblia/ark/internal/bytesize"
)

// yamlPath renders p with forward slashes so Windows backslashes cannot be
// read as escape sequences inside double-quoted YAML strings.
func yamlPath(p string) string {
	return filepath.ToSlash(p)
}

// writeConfig drops a config fixture named name into dir and returns its
// full path.
func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoad_FillsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "config.yaml", `
logging:
  level: "INFO"

store:
  path: "`+yamlPath(tmpDir)+`/store"

library:
  path: "`+yamlPath(tmpDir)+`/library.db"

remote:
  kind: http
  base_url: "https://api.example.com/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Everything the file left out should come back defaulted.
	if cfg.Logging.Format != "text" {
		t.Errorf("format = %q, want text", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("output = %q, want stdout", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown timeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.Cache.MaxBytes != 512*bytesize.MB {
		t.Errorf("cache budget = %v, want 512MB", cfg.Cache.MaxBytes)
	}
	if cfg.Download.Concurrency != 3 {
		t.Errorf("download concurrency = %d, want 3", cfg.Download.Concurrency)
	}
	if cfg.Sync.FanoutLimit != 4 {
		t.Errorf("sync fanout = %d, want 4", cfg.Sync.FanoutLimit)
	}
	if cfg.API.Port != 7423 {
		t.Errorf("ops API port = %d, want 7423", cfg.API.Port)
	}
}

// A missing file is not an error: the engine runs on defaults so a fresh
// install works before ark init.
func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned a nil config")
	}

	if cfg.Remote.Kind != "http" {
		t.Errorf("remote kind = %q, want http", cfg.Remote.Kind)
	}
	if cfg.API.Port != 7423 {
		t.Errorf("ops API port = %d, want 7423", cfg.API.Port)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestLoad_TOMLFormat(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "config.toml", `
[logging]
level = "WARN"
format = "json"

[store]
path = "`+yamlPath(tmpDir)+`/store"

[library]
path = "`+yamlPath(tmpDir)+`/library.db"

[cache]
max_bytes = "1GiB"

[remote]
kind = "http"
base_url = "https://api.example.com/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load TOML: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("level = %q, want WARN", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Cache.MaxBytes != bytesize.GiB {
		t.Errorf("cache budget = %v, want 1GiB", cfg.Cache.MaxBytes)
	}
}

func TestLoad_ByteSizesAndDurations(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "config.yaml", `
store:
  path: "`+yamlPath(tmpDir)+`/store"

library:
  path: "`+yamlPath(tmpDir)+`/library.db"

cache:
  max_bytes: 2GiB
  default_ttl: 12h

download:
  chunk_size: 1MiB
  poll_interval: 5s

retry:
  base_backoff: 250ms
  backoff_cap: 1m

remote:
  kind: http
  base_url: "https://api.example.com/v1"
  timeout: 45s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.MaxBytes != 2*bytesize.GiB {
		t.Errorf("cache budget = %v, want 2GiB", cfg.Cache.MaxBytes)
	}
	if cfg.Cache.DefaultTTL != 12*time.Hour {
		t.Errorf("cache TTL = %v, want 12h", cfg.Cache.DefaultTTL)
	}
	if cfg.Download.ChunkSize != bytesize.MiB {
		t.Errorf("chunk size = %v, want 1MiB", cfg.Download.ChunkSize)
	}
	if cfg.Download.PollInterval != 5*time.Second {
		t.Errorf("download poll interval = %v, want 5s", cfg.Download.PollInterval)
	}
	if cfg.Retry.BaseBackoff != 250*time.Millisecond {
		t.Errorf("base backoff = %v, want 250ms", cfg.Retry.BaseBackoff)
	}
	if cfg.Retry.BackoffCap != time.Minute {
		t.Errorf("backoff cap = %v, want 1m", cfg.Retry.BackoffCap)
	}
	if cfg.Remote.Timeout != 45*time.Second {
		t.Errorf("remote timeout = %v, want 45s", cfg.Remote.Timeout)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("log level = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("log format = %q, want text", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("log output = %q, want stdout", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown timeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.Remote.Kind != "http" {
		t.Errorf("remote kind = %q, want http", cfg.Remote.Kind)
	}
	if cfg.Remote.BaseURL == "" {
		t.Error("remote base URL is empty")
	}
	if cfg.Store.Path == "" {
		t.Error("store path is empty")
	}
	if cfg.Library.Path == "" {
		t.Error("library path is empty")
	}
	if !cfg.API.IsEnabled() {
		t.Error("ops API should be on by default")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("path %q is not absolute", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("filename = %q, want config.yaml", filepath.Base(path))
	}
}

func TestConfigDirName(t *testing.T) {
	if dir := GetConfigDir(); filepath.Base(dir) != "ark" {
		t.Errorf("config dir = %q, want an ark directory", dir)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ARK_LOGGING_LEVEL", "ERROR")
	t.Setenv("ARK_DOWNLOAD_CONCURRENCY", "8")

	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "config.yaml", `
logging:
  level: "INFO"

store:
  path: "`+yamlPath(tmpDir)+`/store"

library:
  path: "`+yamlPath(tmpDir)+`/library.db"

download:
  concurrency: 3

remote:
  kind: http
  base_url: "https://api.example.com/v1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("level = %q, want the ERROR from the environment", cfg.Logging.Level)
	}
	if cfg.Download.Concurrency != 8 {
		t.Errorf("concurrency = %d, want the 8 from the environment", cfg.Download.Concurrency)
	}
}
