package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:            "/var/lib/nestkv",
			SyncOnWrite:        false,
			InitialPages:       16,
			CacheSize:          256,
			CheckpointInterval: 5 * time.Minute,
			CheckpointWALBytes: "16MB",
			WatchBufferSize:    256,
		},
		Blob: BlobConfig{
			Compression:     "none",
			CompressMinSize: "1KB",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			ServiceName:    "nestkv",
			Exporters:      []string{"stdout"},
			SampleRate:     1.0,
			PrometheusAddr: "",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
			MetricInterval: 30 * time.Second,
		},
	}
}
