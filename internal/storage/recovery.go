package storage

import (
	"errors"
	"fmt"
)

// Recovery errors.
var (
	ErrNoWAL         = errors.New("WAL is required for recovery")
	ErrNoPageManager = errors.New("page manager is required for recovery")
)

// RecoveryStats summarizes a recovery run.
type RecoveryStats struct {
	Records     int    // valid records found after the checkpoint
	Committed   int    // transactions replayed
	Discarded   int    // transactions without a commit record
	PagesRedone int    // page images written back
	LastLSN     uint64 // highest LSN seen
	NextTxID    uint64 // first transaction ID safe to hand out
}

// Recovery replays the WAL into the data file after a crash.
//
// Transactions never write to the data file before their commit record is
// durable, so only redo is needed: committed transactions are re-applied in
// log order and everything else is dropped.
type Recovery struct {
	wal         *WAL
	pageManager *PageManager
}

// NewRecovery creates a new Recovery instance.
func NewRecovery(wal *WAL, pm *PageManager) *Recovery {
	return &Recovery{wal: wal, pageManager: pm}
}

// Recover replays committed work logged after the data file's checkpoint,
// then checkpoints and resets the log.
func (r *Recovery) Recover() (RecoveryStats, error) {
	var stats RecoveryStats

	if r.wal == nil {
		return stats, ErrNoWAL
	}
	if r.pageManager == nil {
		return stats, ErrNoPageManager
	}

	header := r.pageManager.Header()
	stats.LastLSN = header.CheckpointLSN
	stats.NextTxID = max(header.NextTxID, 1)

	pending := make(map[uint64][]*WALRecord)

	iter := r.wal.Iterator(header.CheckpointLSN + 1)
	for iter.Next() {
		record := iter.Record()
		stats.Records++
		stats.LastLSN = max(stats.LastLSN, record.LSN)
		stats.NextTxID = max(stats.NextTxID, record.TxID+1)

		switch record.Type {
		case WALBegin:
			pending[record.TxID] = pending[record.TxID][:0]
		case WALUpdate, WALAllocate, WALFree:
			pending[record.TxID] = append(pending[record.TxID], record)
		case WALCommit:
			redone, err := r.redo(pending[record.TxID])
			if err != nil {
				return stats, fmt.Errorf("failed to redo transaction %d: %w", record.TxID, err)
			}
			stats.PagesRedone += redone
			stats.Committed++
			delete(pending, record.TxID)
		case WALAbort:
			delete(pending, record.TxID)
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("failed to read WAL: %w", err)
	}
	stats.Discarded = len(pending)

	if err := r.pageManager.Checkpoint(stats.LastLSN, stats.NextTxID); err != nil {
		return stats, err
	}
	if err := r.wal.Reset(); err != nil {
		return stats, err
	}
	r.wal.SetNextLSN(stats.LastLSN + 1)

	return stats, nil
}

// redo applies one committed transaction's records in log order.
func (r *Recovery) redo(records []*WALRecord) (int, error) {
	redone := 0
	for _, record := range records {
		switch record.Type {
		case WALAllocate:
			if err := r.pageManager.ReplayAllocate(record.PageID); err != nil {
				return redone, err
			}
		case WALUpdate:
			page, err := record.Page()
			if err != nil {
				return redone, err
			}
			if err := r.pageManager.ReplayWrite(page); err != nil {
				return redone, err
			}
			redone++
		case WALFree:
			if err := r.pageManager.ReplayFree(record.PageID); err != nil {
				return redone, err
			}
		}
	}
	return redone, nil
}
