package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/nestkv/internal/logging"
	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/stream"
	"github.com/KilimcininKorOglu/nestkv/internal/telemetry"
)

// ErrInvalidOptions is wrapped by every Options.Validate error.
var ErrInvalidOptions = errors.New("invalid engine options")

// Options configures a DB.
type Options struct {
	// SyncOnWrite forces fsync after each data-file page write.
	// Default: false. Commits are durable through the WAL either way.
	SyncOnWrite bool

	// InitialPages is the number of pages a new data file starts with.
	// Default: 16.
	InitialPages int

	// CacheSize is the number of pages kept in the read cache. 0 disables
	// the cache. Default: 256.
	CacheSize int

	// CheckpointInterval is the time after which a non-empty WAL is
	// checkpointed in the background. 0 disables the timer.
	// Default: 5 minutes.
	CheckpointInterval time.Duration

	// CheckpointWALBytes is the WAL size that triggers a checkpoint after a
	// commit. 0 disables the trigger. Default: 16MB.
	CheckpointWALBytes int64

	// Blob controls compression of large hash values.
	Blob blob.Options

	// WatchBufferSize is the number of change events a Watch subscriber
	// can fall behind before events are dropped. Default: 256.
	WatchBufferSize int

	// Logger receives engine events. Default: logging.NewNop().
	Logger logging.Logger

	// Telemetry receives engine metrics and spans. Default: telemetry.NewNoop().
	Telemetry telemetry.Telemetry
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		InitialPages:       storage.DefaultInitialPages,
		CacheSize:          storage.DefaultCacheSize,
		CheckpointInterval: storage.DefaultCheckpointInterval,
		CheckpointWALBytes: storage.DefaultCheckpointWALBytes,
		Blob:               blob.DefaultOptions(),
		WatchBufferSize:    stream.DefaultBufferSize,
	}
}

// Validate checks the options and fills in defaults for unset fields.
func (o *Options) Validate() error {
	if o.InitialPages < 0 {
		return fmt.Errorf("%w: initial pages cannot be negative", ErrInvalidOptions)
	}
	if o.CacheSize < 0 {
		return fmt.Errorf("%w: cache size cannot be negative", ErrInvalidOptions)
	}
	if o.CheckpointInterval < 0 {
		return fmt.Errorf("%w: checkpoint interval cannot be negative", ErrInvalidOptions)
	}
	if o.CheckpointWALBytes < 0 {
		return fmt.Errorf("%w: checkpoint WAL size cannot be negative", ErrInvalidOptions)
	}
	if _, err := blob.ParseCodec(o.Blob.Compression.String()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if o.Blob.CompressMinSize < 0 {
		return fmt.Errorf("%w: compression minimum size cannot be negative", ErrInvalidOptions)
	}
	if o.WatchBufferSize < 0 {
		return fmt.Errorf("%w: watch buffer size cannot be negative", ErrInvalidOptions)
	}

	if o.InitialPages == 0 {
		o.InitialPages = storage.DefaultInitialPages
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	if o.Telemetry == nil {
		o.Telemetry = telemetry.NewNoop()
	}
	return nil
}

// WithSyncOnWrite enables or disables sync on write.
func (o Options) WithSyncOnWrite(sync bool) Options {
	o.SyncOnWrite = sync
	return o
}

// WithInitialPages sets the initial size of a new data file.
func (o Options) WithInitialPages(pages int) Options {
	o.InitialPages = pages
	return o
}

// WithCacheSize sets the page cache size.
func (o Options) WithCacheSize(pages int) Options {
	o.CacheSize = pages
	return o
}

// WithCheckpointInterval sets the checkpoint interval.
func (o Options) WithCheckpointInterval(interval time.Duration) Options {
	o.CheckpointInterval = interval
	return o
}

// WithCheckpointWALBytes sets the WAL size that triggers a checkpoint.
func (o Options) WithCheckpointWALBytes(bytes int64) Options {
	o.CheckpointWALBytes = bytes
	return o
}

// WithBlobOptions sets the blob compression options.
func (o Options) WithBlobOptions(opts blob.Options) Options {
	o.Blob = opts
	return o
}

// WithWatchBufferSize sets the per-subscriber event buffer.
func (o Options) WithWatchBufferSize(events int) Options {
	o.WatchBufferSize = events
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(l logging.Logger) Options {
	o.Logger = l
	return o
}

// WithTelemetry sets the telemetry sink.
func (o Options) WithTelemetry(t telemetry.Telemetry) Options {
	o.Telemetry = t
	return o
}
