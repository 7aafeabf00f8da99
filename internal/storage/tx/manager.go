package tx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Transaction manager errors.
var (
	ErrTxNotFound     = errors.New("transaction not found")
	ErrTxNotActive    = errors.New("transaction is not active")
	ErrWALWriteFailed = errors.New("failed to write WAL record")
	ErrWALSyncFailed  = errors.New("failed to sync WAL")
	ErrApplyFailed    = errors.New("failed to apply committed pages")
	ErrNilWAL         = errors.New("WAL is nil")
	ErrNilTransaction = errors.New("transaction is nil")
)

// TxManager manages transaction lifecycle: begin, commit, and rollback.
//
// At most one writable transaction exists at a time; Begin blocks until the
// previous writer finishes. Read-only transactions run concurrently with each
// other and with the writer, but never observe a half-applied commit.
// A goroutine holding a read-only transaction must not commit a writable one.
type TxManager struct {
	// nextTxID is the next transaction ID to assign (atomic).
	nextTxID uint64

	// activeTx maps transaction IDs to active transactions.
	activeTx map[uint64]*Transaction

	wal   *storage.WAL
	pages *storage.PageManager

	// mu protects activeTx map.
	mu sync.RWMutex

	// writerMu admits a single writable transaction.
	writerMu sync.Mutex

	// applyMu is held shared by readers and exclusively while a commit
	// writes its pages to the data file.
	applyMu sync.RWMutex
}

// NewTxManager creates a transaction manager. IDs start at nextTxID.
func NewTxManager(pages *storage.PageManager, wal *storage.WAL, nextTxID uint64) *TxManager {
	return &TxManager{
		nextTxID: max(nextTxID, 1),
		activeTx: make(map[uint64]*Transaction),
		wal:      wal,
		pages:    pages,
	}
}

// Begin starts a writable transaction, waiting for any other writer to end.
func (tm *TxManager) Begin() (*Transaction, error) {
	if tm.wal == nil {
		return nil, ErrNilWAL
	}

	tm.writerMu.Lock()

	txID := atomic.AddUint64(&tm.nextTxID, 1) - 1
	tx := NewTransaction(txID, tm.wal.CurrentLSN(), tm.pages, true)
	tx.release = tm.writerMu.Unlock

	if _, err := tm.wal.Append(storage.NewWALRecord(txID, storage.WALBegin)); err != nil {
		tm.writerMu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrWALWriteFailed, err)
	}

	tm.track(tx)
	return tx, nil
}

// BeginReadOnly starts a read-only transaction.
func (tm *TxManager) BeginReadOnly() (*Transaction, error) {
	if tm.wal == nil {
		return nil, ErrNilWAL
	}

	tm.applyMu.RLock()

	txID := atomic.AddUint64(&tm.nextTxID, 1) - 1
	tx := NewTransaction(txID, tm.wal.CurrentLSN(), tm.pages, false)
	tx.release = tm.applyMu.RUnlock

	tm.track(tx)
	return tx, nil
}

func (tm *TxManager) track(tx *Transaction) {
	tm.mu.Lock()
	tm.activeTx[tx.ID] = tx
	tm.mu.Unlock()
}

func (tm *TxManager) untrack(tx *Transaction) {
	tm.mu.Lock()
	delete(tm.activeTx, tx.ID)
	tm.mu.Unlock()
}

func (tm *TxManager) checkActive(tx *Transaction) error {
	if tx == nil {
		return ErrNilTransaction
	}
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	tm.mu.RLock()
	_, exists := tm.activeTx[tx.ID]
	tm.mu.RUnlock()
	if !exists {
		return ErrTxNotFound
	}
	return nil
}

// Commit makes the transaction's changes durable.
// The commit protocol:
// 1. Log allocations, page images and frees
// 2. Write commit record to WAL
// 3. Sync WAL to disk
// 4. Write the page images to the data file and release freed pages
// 5. Mark transaction as committed
//
// If logging fails the transaction stays active and the caller should roll
// it back. A failure after step 3 is reported but the commit stands;
// recovery completes it on the next open.
func (tm *TxManager) Commit(tx *Transaction) error {
	if err := tm.checkActive(tx); err != nil {
		return err
	}

	if !tx.Writable {
		tm.untrack(tx)
		tx.finish(TxCommitted)
		return nil
	}

	dirty := tx.DirtyPages()
	freed := tx.Freed()

	if err := tm.log(tx.ID, tx.Allocated(), dirty, freed); err != nil {
		return err
	}

	applyErr := tm.apply(dirty, freed)

	tm.untrack(tx)
	tx.finish(TxCommitted)

	if applyErr != nil {
		return fmt.Errorf("%w: %w", ErrApplyFailed, applyErr)
	}
	return nil
}

func (tm *TxManager) log(txID uint64, allocated []storage.PageID, dirty []*storage.Page, freed []storage.PageID) error {
	records := make([]*storage.WALRecord, 0, len(allocated)+len(dirty)+len(freed)+1)

	for _, id := range allocated {
		records = append(records, storage.NewWALPageRecord(txID, storage.WALAllocate, id))
	}
	for _, page := range dirty {
		record, err := storage.NewWALUpdateRecord(txID, page)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWALWriteFailed, err)
		}
		records = append(records, record)
	}
	for _, id := range freed {
		records = append(records, storage.NewWALPageRecord(txID, storage.WALFree, id))
	}
	records = append(records, storage.NewWALRecord(txID, storage.WALCommit))

	for _, record := range records {
		if _, err := tm.wal.Append(record); err != nil {
			return fmt.Errorf("%w: %w", ErrWALWriteFailed, err)
		}
	}

	if err := tm.wal.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrWALSyncFailed, err)
	}
	return nil
}

func (tm *TxManager) apply(dirty []*storage.Page, freed []storage.PageID) error {
	tm.applyMu.Lock()
	defer tm.applyMu.Unlock()

	for _, page := range dirty {
		if err := tm.pages.WritePage(page); err != nil {
			return err
		}
	}
	for _, id := range freed {
		if err := tm.pages.FreePage(id); err != nil {
			return err
		}
	}
	return nil
}

// Rollback aborts the transaction. Shadow pages are dropped and pages it
// allocated go back to the pool; the data file is untouched.
func (tm *TxManager) Rollback(tx *Transaction) error {
	if err := tm.checkActive(tx); err != nil {
		return err
	}

	var errs []error
	if tx.Writable {
		if _, err := tm.wal.Append(storage.NewWALRecord(tx.ID, storage.WALAbort)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrWALWriteFailed, err))
		}
		for _, id := range tx.Allocated() {
			if err := tm.pages.FreePage(id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	tm.untrack(tx)
	tx.finish(TxAborted)

	return errors.Join(errs...)
}

// Exclusive runs fn with no writer active and no reader in flight.
// Checkpoints use it to see a quiescent data file.
func (tm *TxManager) Exclusive(fn func() error) error {
	tm.writerMu.Lock()
	defer tm.writerMu.Unlock()

	tm.applyMu.Lock()
	defer tm.applyMu.Unlock()

	return fn()
}

// GetTransaction returns the transaction with the given ID if it's active.
func (tm *TxManager) GetTransaction(txID uint64) *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeTx[txID]
}

// ActiveCount returns the number of active transactions.
func (tm *TxManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeTx)
}

// NextTxID returns the next transaction ID that will be assigned.
func (tm *TxManager) NextTxID() uint64 {
	return atomic.LoadUint64(&tm.nextTxID)
}
