package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/KilimcininKorOglu/nestkv/internal/config"
	"github.com/KilimcininKorOglu/nestkv/internal/logging"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/engine"
	"github.com/KilimcininKorOglu/nestkv/internal/telemetry"
)

// dbFlags are the flags shared by commands that open a database.
type dbFlags struct {
	configFile *string
	dataDir    *string
	logLevel   *string
}

func addDBFlags(fs *flag.FlagSet) *dbFlags {
	return &dbFlags{
		configFile: fs.String("config", "", "Path to configuration file"),
		dataDir:    fs.String("data-dir", "", "Data directory path (overrides config)"),
		logLevel:   fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)"),
	}
}

// load builds the effective configuration: file or defaults, then
// environment overrides, then flags.
func (f *dbFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *f.configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if *f.dataDir != "" {
		cfg.Storage.DataDir = *f.dataDir
	}
	if *f.logLevel != "" {
		cfg.Logging.Level = *f.logLevel
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern NESTKV_<SECTION>_<KEY>.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("NESTKV_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("NESTKV_BLOB_COMPRESSION"); v != "" {
		cfg.Blob.Compression = v
	}
	if v := os.Getenv("NESTKV_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NESTKV_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("NESTKV_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// engineOptions converts a validated configuration into engine options.
func engineOptions(cfg *config.Config) (engine.Options, error) {
	walBytes, err := config.ParseSize(cfg.Storage.CheckpointWALBytes)
	if err != nil {
		return engine.Options{}, err
	}
	codec, err := blob.ParseCodec(cfg.Blob.Compression)
	if err != nil {
		return engine.Options{}, err
	}
	minSize, err := config.ParseSize(cfg.Blob.CompressMinSize)
	if err != nil {
		return engine.Options{}, err
	}

	return engine.DefaultOptions().
		WithSyncOnWrite(cfg.Storage.SyncOnWrite).
		WithInitialPages(cfg.Storage.InitialPages).
		WithCacheSize(cfg.Storage.CacheSize).
		WithCheckpointInterval(cfg.Storage.CheckpointInterval).
		WithCheckpointWALBytes(walBytes).
		WithWatchBufferSize(cfg.Storage.WatchBufferSize).
		WithBlobOptions(blob.Options{Compression: codec, CompressMinSize: int(minSize)}), nil
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.Exporters = cfg.Telemetry.Exporters
	tc.SampleRate = cfg.Telemetry.SampleRate
	tc.PrometheusAddr = cfg.Telemetry.PrometheusAddr
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	tc.MetricInterval = cfg.Telemetry.MetricInterval
	tc.Writer = stdout
	return tc
}

func newLogger(cfg *config.Config) logging.Logger {
	lc := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	switch cfg.Logging.Output {
	case "", "stderr":
		lc.Writer = stderr
	case "stdout":
		lc.Writer = stdout
	}
	return logging.New(lc)
}

// openDB opens the database described by cfg together with its logger and
// telemetry. The returned function closes all three.
func openDB(ctx context.Context, cfg *config.Config) (*engine.DB, func() error, error) {
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, nil, err
	}

	log := newLogger(cfg)
	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		logging.Close(log)
		return nil, nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	db, err := engine.Open(cfg.Storage.DataDir, opts.WithLogger(log).WithTelemetry(tel))
	if err != nil {
		tel.Shutdown(ctx)
		logging.Close(log)
		return nil, nil, err
	}

	closeAll := func() error {
		return errors.Join(
			db.Close(),
			tel.Shutdown(context.Background()),
			logging.Close(log),
		)
	}
	return db, closeAll, nil
}
