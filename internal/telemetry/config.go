package telemetry

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Exporter names accepted in Config.Exporters.
const (
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("invalid telemetry config")

// Config holds the telemetry configuration.
type Config struct {
	// Enabled controls whether telemetry is active.
	Enabled bool

	// ServiceName and ServiceVersion identify the process in exported data.
	ServiceName    string
	ServiceVersion string

	// Exporters lists the exporters to run: stdout, prometheus, otlp.
	Exporters []string

	// SampleRate is the fraction of root spans sampled, 0.0 to 1.0.
	SampleRate float64

	// PrometheusAddr is the listen address of the /metrics endpoint. Empty
	// means the handler is built but not served.
	PrometheusAddr string

	// OTLPEndpoint is the host:port of the OTLP gRPC collector.
	OTLPEndpoint string
	OTLPInsecure bool

	// MetricInterval is how often metrics are pushed to push exporters.
	MetricInterval time.Duration

	// Writer receives stdout exporter output. Nil means os.Stdout.
	Writer io.Writer
}

// DefaultConfig returns a disabled configuration with usable defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "nestkv",
		ServiceVersion: "dev",
		Exporters:      []string{ExporterStdout},
		SampleRate:     1.0,
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
		MetricInterval: 30 * time.Second,
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ServiceName == "" {
		return fmt.Errorf("%w: service name cannot be empty", ErrInvalidConfig)
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("%w: sample rate must be between 0.0 and 1.0, got %g", ErrInvalidConfig, c.SampleRate)
	}
	if c.MetricInterval < 0 {
		return fmt.Errorf("%w: metric interval cannot be negative", ErrInvalidConfig)
	}

	for _, name := range c.Exporters {
		switch name {
		case ExporterStdout:
		case ExporterPrometheus:
			if c.PrometheusAddr == "" {
				continue
			}
			if _, _, err := net.SplitHostPort(c.PrometheusAddr); err != nil {
				return fmt.Errorf("%w: prometheus address %q: %v", ErrInvalidConfig, c.PrometheusAddr, err)
			}
		case ExporterOTLP:
			if c.OTLPEndpoint == "" {
				return fmt.Errorf("%w: otlp exporter needs an endpoint", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unknown exporter %q, valid options are stdout, prometheus, otlp", ErrInvalidConfig, name)
		}
	}
	return nil
}

// HasExporter reports whether the named exporter is configured.
func (c *Config) HasExporter(name string) bool {
	for _, exporter := range c.Exporters {
		if exporter == name {
			return true
		}
	}
	return false
}
