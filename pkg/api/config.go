package api

import "time"

// Ops server defaults. The port sits in the dynamic range so the engine
// can run next to anything common without clashing.
const (
	defaultPort         = 7423
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// Config configures the ops HTTP server, which exposes health probes, an
// engine status snapshot and the Prometheus scrape endpoint.
type Config struct {
	// Enabled is a pointer so "absent from the config file" and
	// "explicitly false" stay distinguishable. Absent means enabled.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the ops endpoints. Default 7423.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds reading one request including its body. Zero
	// applies the default, negative disables the timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing one response, with the same zero and
	// negative semantics as ReadTimeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive waits between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled reports whether the ops server should start. Unset counts as
// enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// applyDefaults fills zero values before the server starts.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
}
