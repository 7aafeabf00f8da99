package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Checkpoint errors.
var (
	ErrCheckpointInProgress = errors.New("checkpoint is already in progress")
)

// Default checkpoint triggers.
const (
	DefaultCheckpointInterval = 5 * time.Minute
	DefaultCheckpointWALBytes = 16 << 20
)

// CheckpointResult describes one completed checkpoint.
type CheckpointResult struct {
	LSN        uint64        // last LSN reflected in the data file
	WALBytes   int64         // log size discarded by the checkpoint
	FreePages  uint64        // free pages persisted in the free list
	Duration   time.Duration // wall time spent
	Checkpoint time.Time     // when the checkpoint finished
}

// Checkpointer moves committed work from the WAL into the data file and
// then empties the log. Checkpoints keep recovery short and bound the log
// size.
//
// The caller must make sure no transaction is applying pages while a
// checkpoint runs; the engine does this through tx.TxManager.Exclusive.
type Checkpointer struct {
	wal         *WAL
	pageManager *PageManager

	// lastCheckpointLSN is the LSN of the last successful checkpoint.
	lastCheckpointLSN uint64

	// lastCheckpointTime is when the last checkpoint was taken.
	lastCheckpointTime time.Time

	// interval is the time after which a non-empty log is checkpointed.
	interval time.Duration

	// walBytes is the log size that forces a checkpoint.
	walBytes int64

	mu         sync.Mutex
	inProgress bool
}

// NewCheckpointer creates a Checkpointer with the default triggers.
func NewCheckpointer(wal *WAL, pm *PageManager) *Checkpointer {
	return &Checkpointer{
		wal:                wal,
		pageManager:        pm,
		lastCheckpointLSN:  pm.Header().CheckpointLSN,
		lastCheckpointTime: time.Now(),
		interval:           DefaultCheckpointInterval,
		walBytes:           DefaultCheckpointWALBytes,
	}
}

// SetInterval sets the time-based trigger. Zero disables it.
func (c *Checkpointer) SetInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = interval
}

// SetWALThreshold sets the log size trigger. Zero disables it.
func (c *Checkpointer) SetWALThreshold(bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.walBytes = bytes
}

// Checkpoint performs a checkpoint:
// 1. Sync the WAL so every logged record is durable
// 2. Persist the free list, the header and the checkpoint LSN
// 3. Reset the WAL, keeping LSNs monotonic
func (c *Checkpointer) Checkpoint(nextTxID uint64) (CheckpointResult, error) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return CheckpointResult{}, ErrCheckpointInProgress
	}
	c.inProgress = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.mu.Unlock()
	}()

	start := time.Now()

	if err := c.wal.Sync(); err != nil {
		return CheckpointResult{}, fmt.Errorf("failed to sync WAL: %w", err)
	}

	walBytes := c.wal.Size()
	lsn := c.wal.CurrentLSN() - 1 // CurrentLSN is the next one to be assigned

	if err := c.pageManager.Checkpoint(lsn, nextTxID); err != nil {
		return CheckpointResult{}, fmt.Errorf("failed to checkpoint data file: %w", err)
	}
	if err := c.wal.Reset(); err != nil {
		return CheckpointResult{}, fmt.Errorf("failed to reset WAL: %w", err)
	}

	now := time.Now()

	c.mu.Lock()
	c.lastCheckpointLSN = lsn
	c.lastCheckpointTime = now
	c.mu.Unlock()

	return CheckpointResult{
		LSN:        lsn,
		WALBytes:   walBytes,
		FreePages:  c.pageManager.Stats().FreePages,
		Duration:   now.Sub(start),
		Checkpoint: now,
	}, nil
}

// ShouldCheckpoint reports whether the log has grown past the size trigger
// or has been holding records for longer than the interval.
func (c *Checkpointer) ShouldCheckpoint() bool {
	size := c.wal.Size()
	if size == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.walBytes > 0 && size >= c.walBytes {
		return true
	}
	return c.interval > 0 && time.Since(c.lastCheckpointTime) >= c.interval
}

// LastCheckpointLSN returns the LSN of the last checkpoint.
func (c *Checkpointer) LastCheckpointLSN() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheckpointLSN
}

// LastCheckpointTime returns the time of the last checkpoint.
func (c *Checkpointer) LastCheckpointTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheckpointTime
}

// IsInProgress returns true if a checkpoint is currently running.
func (c *Checkpointer) IsInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// Interval returns the time-based trigger.
func (c *Checkpointer) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}
