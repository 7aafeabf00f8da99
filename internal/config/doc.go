// Package config provides configuration parsing and validation for nestkv.
//
// Configuration is read from a small YAML subset: nested maps, scalar values,
// "- item" lists and inline ["a", "b"] arrays. Values may reference the
// environment as ${VAR} or ${VAR:-default}; substitution happens before
// parsing.
//
//	storage:
//	  dataDir: ${NESTKV_DATA:-/var/lib/nestkv}
//	  checkpointInterval: 5m
//	  checkpointWALBytes: 16MB
//	blob:
//	  compression: zstd
//	  compressMinSize: 1KB
//	logging:
//	  level: info
//	  format: json
//	telemetry:
//	  enabled: true
//	  exporters:
//	    - prometheus
//	  prometheusAddr: ":9464"
//
// Keys missing from the file keep the values from DefaultConfig. Durations
// accept Go syntax plus a "d" suffix for days; sizes accept B, KB, MB, GB
// and TB suffixes.
//
//	cfg, err := config.LoadConfig("/etc/nestkv/config.yaml")
//	if err != nil {
//	    return err
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    return errs[0]
//	}
package config
