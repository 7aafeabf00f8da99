// Package config provides configuration parsing and validation for nestkv.
package config

import "time"

// Config holds the complete nestkv configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Logging   LogConfig       `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig holds storage engine configuration.
type StorageConfig struct {
	DataDir            string        `yaml:"dataDir"`
	SyncOnWrite        bool          `yaml:"syncOnWrite"`
	InitialPages       int           `yaml:"initialPages"`
	CacheSize          int           `yaml:"cacheSize"`
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`
	CheckpointWALBytes string        `yaml:"checkpointWALBytes"`
	WatchBufferSize    int           `yaml:"watchBufferSize"`
}

// BlobConfig holds large value configuration.
type BlobConfig struct {
	Compression     string `yaml:"compression"`
	CompressMinSize string `yaml:"compressMinSize"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TelemetryConfig holds metrics and tracing configuration.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceName    string        `yaml:"serviceName"`
	Exporters      []string      `yaml:"exporters"`
	SampleRate     float64       `yaml:"sampleRate"`
	PrometheusAddr string        `yaml:"prometheusAddr"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}
