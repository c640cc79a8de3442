package config

import (
	"strings"
	"testing"
)

func TestValidate_DefaultsPass(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestValidate_RejectsBrokenFields(t *testing.T) {
	tests := []struct {
		name     string
		breakit  func(*Config)
		wantHint string // substring the error must carry, "" for any error
	}{
		{"unknown log level", func(c *Config) { c.Logging.Level = "INVALID" }, "oneof"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, ""},
		{"port above range", func(c *Config) { c.API.Port = 70000 }, "max"},
		{"negative port", func(c *Config) { c.API.Port = -1 }, ""},
		{"missing library path", func(c *Config) { c.Library.Path = "" }, ""},
		{"unknown remote kind", func(c *Config) { c.Remote.Kind = "ftp" }, "oneof"},
		{"jitter above one", func(c *Config) { c.Retry.Jitter = 1.5 }, ""},
		{"download concurrency above cap", func(c *Config) { c.Download.Concurrency = 100 }, "max"},
		{"sample rate above one", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 1.5
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.breakit(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted the broken config")
			}
			if tt.wantHint != "" && !strings.Contains(err.Error(), tt.wantHint) {
				t.Errorf("error %q does not mention %q", err, tt.wantHint)
			}
		})
	}
}

func TestValidate_MissingStorePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an empty store path")
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "store") || !strings.Contains(lower, "path") {
		t.Errorf("error should point at the store path, got: %v", err)
	}
}

func TestValidate_HTTPRemoteRequiresBaseURL(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Remote.Kind = "http"
	cfg.Remote.BaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an http remote with no base URL")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error should point at base_url, got: %v", err)
	}
}

func TestValidate_S3RemoteAllowsEmptyBaseURL(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Remote.Kind = "s3"
	cfg.Remote.BaseURL = ""
	cfg.Remote.S3.Bucket = "content"

	if err := Validate(cfg); err != nil {
		t.Errorf("s3 remote should not need a base URL, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted enabled telemetry with no endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") && !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("error should point at the telemetry endpoint, got: %v", err)
	}
}

// Validation accepts both spellings of a level and never rewrites the
// struct; uppercasing belongs to ApplyDefaults.
func TestValidate_LogLevelCase(t *testing.T) {
	for _, level := range []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("level %q failed validation: %v", level, err)
		}
		if cfg.Logging.Level != level {
			t.Errorf("Validate rewrote level %q to %q", level, cfg.Logging.Level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("ApplyDefaults left level as %q, want INFO", cfg.Logging.Level)
	}
}
