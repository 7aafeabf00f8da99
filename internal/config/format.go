package config

import (
	"fmt"
	"strings"
)

// YAML renders the configuration in the format LoadConfig reads.
func (c *Config) YAML() string {
	var sb strings.Builder

	sb.WriteString("storage:\n")
	sb.WriteString(fmt.Sprintf("  dataDir: %q\n", c.Storage.DataDir))
	sb.WriteString(fmt.Sprintf("  syncOnWrite: %t\n", c.Storage.SyncOnWrite))
	sb.WriteString(fmt.Sprintf("  initialPages: %d\n", c.Storage.InitialPages))
	sb.WriteString(fmt.Sprintf("  cacheSize: %d\n", c.Storage.CacheSize))
	sb.WriteString(fmt.Sprintf("  checkpointInterval: %s\n", c.Storage.CheckpointInterval))
	sb.WriteString(fmt.Sprintf("  checkpointWALBytes: %q\n", c.Storage.CheckpointWALBytes))
	sb.WriteString(fmt.Sprintf("  watchBufferSize: %d\n", c.Storage.WatchBufferSize))

	sb.WriteString("\nblob:\n")
	sb.WriteString(fmt.Sprintf("  compression: %q\n", c.Blob.Compression))
	sb.WriteString(fmt.Sprintf("  compressMinSize: %q\n", c.Blob.CompressMinSize))

	sb.WriteString("\nlogging:\n")
	sb.WriteString(fmt.Sprintf("  level: %q\n", c.Logging.Level))
	sb.WriteString(fmt.Sprintf("  format: %q\n", c.Logging.Format))
	sb.WriteString(fmt.Sprintf("  output: %q\n", c.Logging.Output))

	sb.WriteString("\ntelemetry:\n")
	sb.WriteString(fmt.Sprintf("  enabled: %t\n", c.Telemetry.Enabled))
	sb.WriteString(fmt.Sprintf("  serviceName: %q\n", c.Telemetry.ServiceName))
	sb.WriteString("  exporters:\n")
	for _, exporter := range c.Telemetry.Exporters {
		sb.WriteString(fmt.Sprintf("    - %s\n", exporter))
	}
	sb.WriteString(fmt.Sprintf("  sampleRate: %g\n", c.Telemetry.SampleRate))
	if c.Telemetry.PrometheusAddr != "" {
		sb.WriteString(fmt.Sprintf("  prometheusAddr: %q\n", c.Telemetry.PrometheusAddr))
	}
	sb.WriteString(fmt.Sprintf("  otlpEndpoint: %q\n", c.Telemetry.OTLPEndpoint))
	sb.WriteString(fmt.Sprintf("  otlpInsecure: %t\n", c.Telemetry.OTLPInsecure))
	sb.WriteString(fmt.Sprintf("  metricInterval: %s\n", c.Telemetry.MetricInterval))

	return sb.String()
}
