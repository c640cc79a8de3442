package telemetry

// Config controls trace export.
type Config struct {
	// Enabled turns span export on. When false every span is a no-op.
	Enabled bool

	// ServiceName tags exported spans, "ark" unless overridden.
	ServiceName string

	// ServiceVersion is reported alongside the service name.
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string

	// Insecure disables TLS towards the collector, the usual setup for a
	// collector on localhost.
	Insecure bool

	// SampleRate keeps this fraction of traces, from 0 (none) to 1 (all).
	SampleRate float64
}

// DefaultConfig returns the settings used when the config file has no
// telemetry section: tracing off, local collector, full sampling.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "ark",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
