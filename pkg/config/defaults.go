package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/voxbiblia/ark/internal/bytesize"
	"github.com/voxbiblia/ark/pkg/api"
)

// ApplyDefaults fills every unset field with its default after the file and
// environment have been merged. Zero values count as unset, so a partial
// Config comes out runnable.
func ApplyDefaults(cfg *Config) {
	cfg.Logging.applyDefaults()
	cfg.Telemetry.applyDefaults()
	cfg.Store.applyDefaults()
	cfg.Library.applyDefaults()
	cfg.Cache.applyDefaults()
	cfg.Download.applyDefaults()
	cfg.Sync.applyDefaults()
	cfg.Retry.applyDefaults()
	cfg.Remote.applyDefaults()
	cfg.Reachability.applyDefaults()
	applyOpsAPIDefaults(&cfg.API)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func (c *LoggingConfig) applyDefaults() {
	if c.Level == "" {
		c.Level = "INFO"
	}
	// Uppercase once so nothing downstream needs case folding
	c.Level = strings.ToUpper(c.Level)

	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// applyDefaults leaves Enabled alone: both tracing and profiling are opt-in.
// The endpoints are the conventional local OTLP gRPC and Pyroscope ports.
func (c *TelemetryConfig) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	c.Profiling.applyDefaults()
}

func (c *ProfilingConfig) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:4040"
	}
	if len(c.ProfileTypes) == 0 {
		c.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func (c *StoreConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = filepath.Join(getDataDir(), "store")
	}
}

func (c *LibraryConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = filepath.Join(getDataDir(), "library.db")
	}
}

// applyDefaults budgets 512MB of content. DefaultTTL stays zero: scripture
// content does not go stale on its own.
func (c *CacheConfig) applyDefaults() {
	if c.MaxBytes == 0 {
		c.MaxBytes = 512 * bytesize.MB
	}
}

func (c *DownloadConfig) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 3
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 512 * bytesize.KiB
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
}

func (c *SyncConfig) applyDefaults() {
	if c.FanoutLimit == 0 {
		c.FanoutLimit = 4
	}
	if c.DeadLetterLimit == 0 {
		c.DeadLetterLimit = 100
	}
	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Second
	}
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.Jitter == 0 {
		c.Jitter = 0.2
	}
}

func (c *RemoteConfig) applyDefaults() {
	if c.Kind == "" {
		c.Kind = "http"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// applyDefaults fills probe tuning only. ProbeURL has no default: probing
// stays off until a URL is configured.
func (c *ReachabilityConfig) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Threshold == 0 {
		c.Threshold = 2
	}
}

// applyOpsAPIDefaults mirrors the defaults pkg/api applies internally, so
// commands like "ark config show" print the effective values.
func applyOpsAPIDefaults(a *api.Config) {
	if a.Port == 0 {
		a.Port = 7423
	}
	if a.ReadTimeout == 0 {
		a.ReadTimeout = 10 * time.Second
	}
	if a.WriteTimeout == 0 {
		a.WriteTimeout = 10 * time.Second
	}
	if a.IdleTimeout == 0 {
		a.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns the configuration the engine runs with when no
// file exists: http backend against the VoxBiblia API, everything else at
// its default.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Remote: RemoteConfig{
			Kind:    "http",
			BaseURL: "https://api.voxbiblia.example/v1",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
