package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KilimcininKorOglu/nestkv/internal/logging"
	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/hash"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/stream"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/tx"
	"github.com/KilimcininKorOglu/nestkv/internal/telemetry"
)

// File names inside a database directory.
const (
	DataFileName = "data.nkv"
	WALFileName  = "wal.log"
)

// Engine errors.
var (
	ErrDatabaseClosed      = errors.New("database is closed")
	ErrTransactionsActive  = errors.New("database has active transactions")
	ErrTransactionFinished = errors.New("transaction is already finished")
)

// DB is an open nestkv database: a data file, its WAL and the keyspace of
// hashes stored in them.
type DB struct {
	dir          string
	opts         Options
	pages        *storage.PageManager
	wal          *storage.WAL
	tm           *tx.TxManager
	checkpointer *storage.Checkpointer
	sizer        *hash.Sizer
	events       *stream.Broker
	recovery     storage.RecoveryStats

	log logging.Logger
	tel telemetry.Telemetry

	closed atomic.Bool
	kick   chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex // held shared while a transaction begins, exclusively by Close
}

// Open opens or creates the database in dir. Committed work left in the WAL
// by a crash is replayed before Open returns.
func Open(dir string, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db := &DB{
		dir:    dir,
		opts:   opts,
		sizer:  hash.DefaultSizer().WithBlobOptions(opts.Blob),
		events: stream.NewBroker(opts.WatchBufferSize),
		log:    opts.Logger.WithFields("dir", dir),
		tel:    opts.Telemetry,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}

	if err := db.initComponents(); err != nil {
		db.closeFiles()
		return nil, err
	}

	if opts.CheckpointInterval > 0 || opts.CheckpointWALBytes > 0 {
		db.wg.Add(1)
		go db.checkpointLoop()
	}

	stats := db.pages.Stats()
	db.log.Info("database opened",
		"pages", stats.TotalPages,
		"used_pages", stats.UsedPages,
		"next_tx", db.tm.NextTxID(),
	)
	return db, nil
}

func (db *DB) initComponents() error {
	var err error

	db.pages, err = storage.OpenPageManager(filepath.Join(db.dir, DataFileName), storage.Options{
		InitialPages: db.opts.InitialPages,
		CreateIfNew:  true,
		SyncOnWrite:  db.opts.SyncOnWrite,
		CacheSize:    db.opts.CacheSize,
	})
	if err != nil {
		return err
	}

	db.wal, err = storage.OpenWAL(filepath.Join(db.dir, WALFileName))
	if err != nil {
		return err
	}

	if err := db.recover(); err != nil {
		return err
	}

	db.tm = tx.NewTxManager(db.pages, db.wal, db.recovery.NextTxID)

	db.checkpointer = storage.NewCheckpointer(db.wal, db.pages)
	db.checkpointer.SetInterval(db.opts.CheckpointInterval)
	db.checkpointer.SetWALThreshold(db.opts.CheckpointWALBytes)
	return nil
}

func (db *DB) recover() error {
	ctx, span := db.tel.StartSpan(context.Background(), "nestkv.recovery")
	defer span.End()

	start := time.Now()
	stats, err := storage.NewRecovery(db.wal, db.pages).Recover()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		db.log.Error("recovery failed", "error", err)
		return fmt.Errorf("recovery failed: %w", err)
	}
	db.recovery = stats

	db.tel.RecordCounter(ctx, telemetry.MetricRecoveryPages, int64(stats.PagesRedone))
	span.SetAttributes(
		attribute.Int("records", stats.Records),
		attribute.Int("committed", stats.Committed),
		attribute.Int("pages", stats.PagesRedone),
	)

	if stats.Records > 0 {
		db.log.Info("recovered from WAL",
			"records", stats.Records,
			"committed", stats.Committed,
			"discarded", stats.Discarded,
			"pages", stats.PagesRedone,
			"duration", time.Since(start),
		)
	}
	return nil
}

// Dir returns the database directory.
func (db *DB) Dir() string {
	return db.dir
}

// Sizer returns the value sizer used by the keyspace.
func (db *DB) Sizer() *hash.Sizer {
	return db.sizer
}

// Recovery returns what the last Open replayed from the WAL.
func (db *DB) Recovery() storage.RecoveryStats {
	return db.recovery
}

// =============================================================================
// Transactions
// =============================================================================

// Begin starts a transaction. A writable transaction waits for the current
// writer, if any, to finish. The caller must end it with Commit or Rollback.
func (db *DB) Begin(ctx context.Context, writable bool) (*Tx, error) {
	return db.begin(ctx, "nestkv.tx", writable)
}

func (db *DB) begin(ctx context.Context, spanName string, writable bool) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := db.tel.StartSpan(ctx, spanName, attribute.Bool(telemetry.AttrWritable, writable))

	txn, err := db.beginTxn(writable)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	ks, err := hash.OpenKeyspace(txn, db.sizer)
	if err != nil {
		db.tm.Rollback(txn)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	t := &Tx{
		db:    db,
		txn:   txn,
		ks:    ks,
		ctx:   ctx,
		span:  span,
		log:   db.log.WithRequestID(logging.GenerateRequestID()),
		start: time.Now(),
	}
	t.log.Debug("transaction started", "tx", txn.ID, "writable", writable)
	return t, nil
}

// beginTxn starts a transaction unless the database is closed. Close cannot
// run between the check and the start.
func (db *DB) beginTxn(writable bool) (*tx.Transaction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if writable {
		return db.tm.Begin()
	}
	return db.tm.BeginReadOnly()
}

// Commit makes the transaction's writes durable. If the commit cannot be
// logged the transaction is rolled back. A transaction that cleared a key
// without removing or refilling it is rolled back with hash.ErrNotCleared.
func (db *DB) Commit(t *Tx) error {
	if t == nil {
		return tx.ErrNilTransaction
	}
	if t.done {
		return ErrTransactionFinished
	}

	if keys := t.ks.Unremoved(); len(keys) > 0 {
		err := fmt.Errorf("%w: %q left empty", hash.ErrNotCleared, keys)
		t.log.Error("commit refused, rolling back", "tx", t.txn.ID, "keys", keys)
		db.tm.Rollback(t.txn)
		db.finish(t, false, err)
		return err
	}

	err := db.tm.Commit(t.txn)
	if err != nil && t.txn.IsActive() {
		t.log.Error("commit failed, rolling back", "tx", t.txn.ID, "error", err)
		db.tm.Rollback(t.txn)
		db.finish(t, false, err)
		return err
	}
	db.finish(t, true, err)
	if err == nil || errors.Is(err, tx.ErrApplyFailed) {
		db.publish(t)
	}

	if t.txn.Writable && db.checkpointer.ShouldCheckpoint() {
		select {
		case db.kick <- struct{}{}:
		default:
		}
	}
	return err
}

// Rollback discards the transaction's writes. Pages it freed stay owned by
// their previous holders.
func (db *DB) Rollback(t *Tx) error {
	if t == nil {
		return tx.ErrNilTransaction
	}
	if t.done {
		return ErrTransactionFinished
	}

	err := db.tm.Rollback(t.txn)
	db.finish(t, false, err)
	return err
}

func (db *DB) finish(t *Tx, committed bool, err error) {
	t.done = true

	attrs := []attribute.KeyValue{
		attribute.Bool(telemetry.AttrWritable, t.txn.Writable),
		telemetry.Status(err),
	}
	if committed {
		db.tel.RecordCounter(t.ctx, telemetry.MetricTxCommits, 1, attrs...)
	} else {
		db.tel.RecordCounter(t.ctx, telemetry.MetricTxRollbacks, 1, attrs...)
	}
	telemetry.RecordDuration(t.ctx, db.tel, telemetry.MetricTxDuration, t.start, attrs...)

	if err != nil {
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()

	t.log.Debug("transaction finished",
		"tx", t.txn.ID,
		"committed", committed,
		"duration", time.Since(t.start),
	)
}

// publish hands the changes of a committed transaction to watchers.
func (db *DB) publish(t *Tx) {
	changes := t.ks.Changes()
	if len(changes) == 0 {
		return
	}
	events := make([]stream.ChangeEvent, len(changes))
	for i, c := range changes {
		c.TxID = t.txn.ID
		events[i] = c
	}
	db.events.Publish(events...)
}

// Watch subscribes to the changes of committed transactions that match
// filter. The subscription ends with Unwatch or Close.
func (db *DB) Watch(filter stream.WatchFilter) (*stream.Subscriber, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	return db.events.Subscribe(filter)
}

// WatchFrom is Watch starting after the event with the given token. Only
// events of the current process are kept for replay.
func (db *DB) WatchFrom(filter stream.WatchFilter, token uint64) (*stream.Subscriber, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	return db.events.SubscribeFrom(filter, token)
}

// Unwatch ends a subscription and closes its channel.
func (db *DB) Unwatch(sub *stream.Subscriber) {
	db.events.Unsubscribe(sub)
}

// Update runs fn in a writable transaction and commits it. The transaction
// is rolled back if fn returns an error or panics, or if ctx is done by the
// time fn returns.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	return db.run(ctx, "nestkv.update", true, fn)
}

// View runs fn in a read-only transaction.
func (db *DB) View(ctx context.Context, fn func(*Tx) error) error {
	return db.run(ctx, "nestkv.view", false, fn)
}

func (db *DB) run(ctx context.Context, spanName string, writable bool, fn func(*Tx) error) (err error) {
	t, err := db.begin(ctx, spanName, writable)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			db.Rollback(t)
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		db.Rollback(t)
		return err
	}
	if err := ctx.Err(); err != nil {
		db.Rollback(t)
		return err
	}
	if !writable {
		return db.Rollback(t)
	}
	return db.Commit(t)
}

// =============================================================================
// Maintenance
// =============================================================================

// Checkpoint moves committed work from the WAL into the data file and
// empties the WAL. It waits for the current writer and readers to finish.
func (db *DB) Checkpoint(ctx context.Context) (storage.CheckpointResult, error) {
	if db.closed.Load() {
		return storage.CheckpointResult{}, ErrDatabaseClosed
	}
	return db.checkpoint(ctx, "manual")
}

func (db *DB) checkpoint(ctx context.Context, reason string) (storage.CheckpointResult, error) {
	ctx, span := db.tel.StartSpan(ctx, "nestkv.checkpoint", attribute.String(telemetry.AttrReason, reason))
	defer span.End()

	var result storage.CheckpointResult
	err := db.tm.Exclusive(func() error {
		var err error
		result, err = db.checkpointer.Checkpoint(db.tm.NextTxID())
		return err
	})

	attrs := []attribute.KeyValue{attribute.String(telemetry.AttrReason, reason), telemetry.Status(err)}
	db.tel.RecordCounter(ctx, telemetry.MetricCheckpointCount, 1, attrs...)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		db.log.Error("checkpoint failed", "reason", reason, "error", err)
		return result, err
	}

	db.tel.RecordHistogram(ctx, telemetry.MetricCheckpointDuration, result.Duration.Seconds(), attrs...)
	db.log.Info("checkpoint complete",
		"reason", reason,
		"lsn", result.LSN,
		"wal_bytes", result.WALBytes,
		"free_pages", result.FreePages,
		"duration", result.Duration,
	)
	return result, nil
}

// SnapshotInfo describes the data file handed to a Snapshot callback.
type SnapshotInfo struct {
	Pages    uint64 // pages in the file, header page included
	PageSize int
	LSN      uint64 // last WAL record reflected in the file
	Taken    time.Time
}

// Snapshot checkpoints the database and calls fn with a reader over the data
// file. The file needs no WAL to be complete. Writers and readers wait until
// fn returns, so fn should only copy the data out.
func (db *DB) Snapshot(ctx context.Context, fn func(r io.Reader, info SnapshotInfo) error) error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}

	ctx, span := db.tel.StartSpan(ctx, "nestkv.snapshot")
	defer span.End()

	var info SnapshotInfo
	err := db.tm.Exclusive(func() error {
		result, err := db.checkpointer.Checkpoint(db.tm.NextTxID())
		db.tel.RecordCounter(ctx, telemetry.MetricCheckpointCount, 1,
			attribute.String(telemetry.AttrReason, "snapshot"), telemetry.Status(err))
		if err != nil {
			return err
		}

		r, pages := db.pages.SnapshotReader()
		info = SnapshotInfo{
			Pages:    pages,
			PageSize: storage.PageSize,
			LSN:      result.LSN,
			Taken:    time.Now(),
		}
		return fn(r, info)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		db.log.Error("snapshot failed", "error", err)
		return err
	}

	db.log.Info("snapshot taken", "lsn", info.LSN, "pages", info.Pages)
	return nil
}

// checkpointLoop checkpoints when a commit reports a large WAL and on the
// interval timer.
func (db *DB) checkpointLoop() {
	defer db.wg.Done()

	period := db.opts.CheckpointInterval
	if period <= 0 || period > time.Minute {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		var reason string
		select {
		case <-db.stop:
			return
		case <-db.kick:
			reason = "wal_size"
		case <-ticker.C:
			reason = "interval"
		}

		if !db.checkpointer.ShouldCheckpoint() {
			continue
		}
		// Errors are logged by checkpoint; the next trigger retries.
		db.checkpoint(context.Background(), reason)
	}
}

// Stats describes the database.
type Stats struct {
	Pages              storage.Stats
	WALBytes           int64
	ActiveTransactions int
	NextTxID           uint64
	LastCheckpointLSN  uint64
	LastCheckpoint     time.Time
	Recovery           storage.RecoveryStats
	Keyspace           hash.KeyspaceStats
	Watch              stream.BrokerStats
}

// Stats returns page, WAL and keyspace statistics. Keyspace statistics walk
// every hash in a read-only transaction.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	if db.closed.Load() {
		return Stats{}, ErrDatabaseClosed
	}

	stats := Stats{
		WALBytes:           db.wal.Size(),
		ActiveTransactions: db.tm.ActiveCount(),
		NextTxID:           db.tm.NextTxID(),
		LastCheckpointLSN:  db.checkpointer.LastCheckpointLSN(),
		LastCheckpoint:     db.checkpointer.LastCheckpointTime(),
		Recovery:           db.recovery,
		Watch:              db.events.Stats(),
	}

	err := db.View(ctx, func(t *Tx) error {
		var err error
		stats.Keyspace, err = t.Keyspace().Stats()
		return err
	})
	stats.Pages = db.pages.Stats()
	return stats, err
}

// Close checkpoints and closes the database. It fails with
// ErrTransactionsActive while transactions are open.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed.Load() {
		return nil
	}
	if n := db.tm.ActiveCount(); n > 0 {
		return fmt.Errorf("%w: %d open", ErrTransactionsActive, n)
	}
	db.closed.Store(true)

	close(db.stop)
	db.wg.Wait()
	db.events.Close()

	var errs []error
	if db.wal.Size() > 0 {
		if _, err := db.checkpoint(context.Background(), "close"); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, db.closeFiles())

	if err := errors.Join(errs...); err != nil {
		db.log.Error("close failed", "error", err)
		return err
	}
	db.log.Info("database closed")
	return nil
}

func (db *DB) closeFiles() error {
	var errs []error
	if db.wal != nil {
		errs = append(errs, db.wal.Close())
	}
	if db.pages != nil {
		errs = append(errs, db.pages.Close())
	}
	return errors.Join(errs...)
}
