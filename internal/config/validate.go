package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error
	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateBlobConfig(&config.Blob)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	errs = append(errs, validateTelemetryConfig(&config.Telemetry)...)
	return errs
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(config *StorageConfig) []error {
	var errs []error

	if config.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.dataDir",
			Message: "data directory is required",
		})
	}

	if config.InitialPages < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.initialPages",
			Message: "must be non-negative",
		})
	}

	if config.CacheSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.cacheSize",
			Message: "must be non-negative",
		})
	}

	if config.CheckpointInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.checkpointInterval",
			Message: "must be non-negative",
		})
	}

	if _, err := ParseSize(config.CheckpointWALBytes); err != nil {
		errs = append(errs, ValidationError{
			Field:   "storage.checkpointWALBytes",
			Message: err.Error(),
		})
	}

	if config.WatchBufferSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.watchBufferSize",
			Message: "must be non-negative",
		})
	}

	return errs
}

// validateBlobConfig validates large value configuration.
func validateBlobConfig(config *BlobConfig) []error {
	var errs []error

	if _, err := blob.ParseCodec(config.Compression); err != nil {
		errs = append(errs, ValidationError{
			Field:   "blob.compression",
			Message: "must be none, snappy, or zstd",
		})
	}

	if _, err := ParseSize(config.CompressMinSize); err != nil {
		errs = append(errs, ValidationError{
			Field:   "blob.compressMinSize",
			Message: err.Error(),
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// validateTelemetryConfig validates telemetry configuration. Nothing is
// checked while telemetry is disabled.
func validateTelemetryConfig(config *TelemetryConfig) []error {
	if !config.Enabled {
		return nil
	}

	var errs []error

	if config.ServiceName == "" {
		errs = append(errs, ValidationError{
			Field:   "telemetry.serviceName",
			Message: "service name is required",
		})
	}

	if config.SampleRate < 0 || config.SampleRate > 1 {
		errs = append(errs, ValidationError{
			Field:   "telemetry.sampleRate",
			Message: "must be between 0.0 and 1.0",
		})
	}

	if config.MetricInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "telemetry.metricInterval",
			Message: "must be non-negative",
		})
	}

	for _, exporter := range config.Exporters {
		switch exporter {
		case "stdout":
		case "prometheus":
			if config.PrometheusAddr == "" {
				continue
			}
			if err := validateAddress(config.PrometheusAddr); err != nil {
				errs = append(errs, ValidationError{
					Field:   "telemetry.prometheusAddr",
					Message: err.Error(),
				})
			}
		case "otlp":
			if config.OTLPEndpoint == "" {
				errs = append(errs, ValidationError{
					Field:   "telemetry.otlpEndpoint",
					Message: "endpoint is required for the otlp exporter",
				})
			} else if err := validateAddress(config.OTLPEndpoint); err != nil {
				errs = append(errs, ValidationError{
					Field:   "telemetry.otlpEndpoint",
					Message: err.Error(),
				})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   "telemetry.exporters",
				Message: fmt.Sprintf("unknown exporter %q, must be stdout, prometheus, or otlp", exporter),
			})
		}
	}

	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

// ParseSize parses a size string like "256MB" or "1GB". An empty string is 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	// Longest suffix first so "MB" is not read as "B".
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	num := s
	mult := int64(1)
	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			num = strings.TrimSpace(strings.TrimSuffix(s, sfx.suffix))
			mult = sfx.mult
			break
		}
	}

	var n int64
	if _, err := fmt.Sscanf(num, "%d", &n); err != nil || n < 0 || fmt.Sprint(n) != num {
		return 0, fmt.Errorf("invalid size format: %s", s)
	}
	return n * mult, nil
}
