package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/voxbiblia/ark/internal/bytesize"
	"github.com/voxbiblia/ark/pkg/api"
)

// Config is the engine configuration tree: durable store locations, cache
// budget, download/sync/retry tuning, backend selection, reachability
// probing, and the ambient logging, telemetry, ops API and metrics
// settings.
//
// Sources merge in precedence order: ARK_* environment variables over the
// config file over built-in defaults.
type Config struct {
	// Logging controls where and how the engine logs.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls trace export and profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Store configures the durable key/value store holding cached
	// payloads, download tasks and the sync operation log.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Library configures the local annotation database (bookmarks,
	// highlights, notes, settings, reading progress).
	Library LibraryConfig `mapstructure:"library" yaml:"library"`

	// Cache configures the content cache budget and expiry.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Download tunes the offline download worker pool.
	Download DownloadConfig `mapstructure:"download" yaml:"download"`

	// Sync tunes the mutation sync queue.
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`

	// Retry shapes the backoff shared by downloads and sync sends.
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Remote selects and configures the content/sync backend.
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Reachability configures connectivity probing. With an empty probe
	// URL the engine assumes it is always online.
	Reachability ReachabilityConfig `mapstructure:"reachability" yaml:"reachability"`

	// API configures the ops HTTP server.
	API api.Config `mapstructure:"api" yaml:"api"`

	// Metrics configures Prometheus collection.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level written: DEBUG, INFO, WARN or ERROR,
	// any case.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls span export to an OTLP-compatible collector
// (Jaeger, Tempo, anything speaking OTLP gRPC).
type TelemetryConfig struct {
	// Enabled turns tracing on. Off by default.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the collector address as host:port; 4317 is the usual
	// OTLP gRPC port.
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure skips TLS towards the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate keeps this fraction of traces, from 0 to 1.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling nests the Pyroscope settings.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled turns profiling on. Off by default.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes picks what gets collected: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus collection. When disabled no
// collectors are registered and the ops API serves no /metrics endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StoreConfig locates the durable key/value store holding cached content
// payloads, download task state and the sync operation log. Everything in
// it must survive restarts.
type StoreConfig struct {
	// Path is the Badger directory, e.g. ~/.local/share/ark/store.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// LibraryConfig locates the local annotation database.
type LibraryConfig struct {
	// Path is the SQLite file, e.g. ~/.local/share/ark/library.db.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// CacheConfig configures the content cache.
type CacheConfig struct {
	// MaxBytes is the storage budget for cached content.
	// Supports human-readable formats: "512MB", "2GiB", or plain bytes.
	// Zero disables the budget (nothing is ever evicted for space).
	// Default: 512MB
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes,omitempty"`

	// DefaultTTL applies to entries cached without an explicit TTL.
	// Zero means entries do not expire.
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl,omitempty"`
}

// DownloadConfig tunes the offline download manager.
type DownloadConfig struct {
	// Concurrency caps simultaneous transfers
	// Default: 3
	Concurrency int `mapstructure:"concurrency" validate:"omitempty,min=1,max=64" yaml:"concurrency"`

	// ChunkSize is the range-request size for resumable transfers
	// Default: 512KiB
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	// PollInterval is how often the dispatcher checks for due tasks
	// Default: 10s
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
}

// SyncConfig tunes the sync queue.
type SyncConfig struct {
	// FanoutLimit caps how many entities drain concurrently. Operations
	// within one entity always run sequentially regardless.
	// Default: 4
	FanoutLimit int `mapstructure:"fanout_limit" validate:"omitempty,min=1,max=64" yaml:"fanout_limit"`

	// DeadLetterLimit bounds the dead-letter set
	// Default: 100
	DeadLetterLimit int `mapstructure:"dead_letter_limit" validate:"omitempty,min=1" yaml:"dead_letter_limit"`

	// PollInterval is how often the drain loop checks for due operations
	// Default: 15s
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
}

// RetryConfig shapes the exponential backoff used by both the download
// manager and the sync queue.
type RetryConfig struct {
	// MaxAttempts before a download fails / a sync operation dead-letters
	// Default: 5
	MaxAttempts int `mapstructure:"max_attempts" validate:"omitempty,min=1,max=50" yaml:"max_attempts"`

	// BaseBackoff is the delay before the first retry
	// Default: 500ms
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff,omitempty"`

	// BackoffCap bounds the exponential growth
	// Default: 30s
	BackoffCap time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap,omitempty"`

	// Jitter is the random fraction added to each delay (0.0 to 1.0)
	// Default: 0.2
	Jitter float64 `mapstructure:"jitter" validate:"omitempty,gte=0,lte=1" yaml:"jitter"`
}

// RemoteConfig selects and configures the backend.
type RemoteConfig struct {
	// Kind selects the backend implementation.
	// Valid values: http (REST content + sync API), s3 (content packs in a
	// bucket; mutations stay queued until an HTTP backend is configured)
	// Default: http
	Kind string `mapstructure:"kind" validate:"required,oneof=http s3" yaml:"kind"`

	// BaseURL is the content API base URL (http kind)
	BaseURL string `mapstructure:"base_url" validate:"required_if=Kind http,omitempty,url" yaml:"base_url"`

	// Token is an optional bearer token attached to every request.
	// Authentication itself is owned by the host application; the engine
	// only carries the credential it is handed.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// Timeout applies per remote call
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// S3 configures the S3 backend (s3 kind)
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures the S3 content source.
type S3Config struct {
	// Bucket is the S3 bucket holding content packs
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region
	// Default: us-east-1
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores (MinIO)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to every object key
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials. Leave empty
	// to use the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle switches to path-style addressing (MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// ReachabilityConfig configures connectivity probing.
type ReachabilityConfig struct {
	// ProbeURL is the endpoint probed with HEAD requests. Empty disables
	// probing; the engine then assumes it is always online.
	ProbeURL string `mapstructure:"probe_url" validate:"omitempty,url" yaml:"probe_url,omitempty"`

	// Interval between probes
	// Default: 30s
	Interval time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`

	// Timeout per probe
	// Default: 5s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// Threshold is how many consecutive contradicting probes flip the
	// connectivity belief
	// Default: 2
	Threshold int `mapstructure:"threshold" validate:"omitempty,min=1" yaml:"threshold"`
}

// Load builds the configuration from the file at configPath, ARK_*
// environment variables and defaults, highest precedence first.
//
// An empty configPath means the default location. A missing file is not an
// error; the defaults come back so the engine can run unconfigured.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for commands that need a config file to exist: a missing
// file comes back as an error telling the user how to create one.
func MustLoad(configPath string) (*Config, error) {
	switch {
	case configPath == "" && !DefaultConfigExists():
		return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
			"Initialize one first:\n"+
			"  ark init\n\n"+
			"Or point at a custom file:\n"+
			"  ark <command> --config /path/to/config.yaml",
			GetDefaultConfigPath())
	case configPath == "":
		configPath = GetDefaultConfigPath()
	default:
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create it with:\n"+
				"  ark init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry a bearer token or S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper binds the environment and locates the config file. Keys map to
// env vars with the ARK_ prefix and underscores for dots, so logging.level
// becomes ARK_LOGGING_LEVEL.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the located config file. A file that simply does not
// exist reports found=false without an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	err := v.ReadInConfig()
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &viper.ConfigFileNotFoundError{}):
		return false, nil
	case os.IsNotExist(err):
		// Explicit config paths surface as os.PathError when missing.
		return false, nil
	default:
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
}

// configDecodeHooks lets config files write sizes as "512MB" and durations
// as "30s" while plain numbers keep working.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(decodeByteSize, decodeDuration)
}

func decodeByteSize(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(bytesize.ByteSize(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return bytesize.Parse(v)
	case int:
		return bytesize.ByteSize(v), nil
	case int64:
		return bytesize.ByteSize(v), nil
	case uint64:
		return bytesize.ByteSize(v), nil
	case float64:
		// YAML numbers arrive as float64
		return bytesize.ByteSize(v), nil
	}
	return data, nil
}

func decodeDuration(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return time.ParseDuration(v)
	case int:
		// Bare numbers are nanoseconds
		return time.Duration(v), nil
	case int64:
		return time.Duration(v), nil
	case float64:
		return time.Duration(v), nil
	}
	return data, nil
}

// getConfigDir resolves XDG_CONFIG_HOME, then ~/.config, then the current
// directory when no home can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ark")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "ark")
}

// getDataDir resolves XDG_DATA_HOME, then ~/.local/share, with the same
// fallback as getConfigDir.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "ark")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "ark")
}

// GetDefaultConfigPath returns where ark init writes and the engine reads
// by default.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file sits at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir exposes the config directory to the init command.
func GetConfigDir() string {
	return getConfigDir()
}

// GetDataDir exposes the data directory to the init and start commands.
func GetDataDir() string {
	return getDataDir()
}
