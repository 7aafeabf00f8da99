// Package tx provides transaction management for nestkv.
package tx

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Transaction errors.
var (
	ErrReadOnlyTx       = errors.New("transaction is read-only")
	ErrPageFreed        = errors.New("page was freed in this transaction")
	ErrPageNotAllocated = errors.New("page is not allocated")
)

// TxState represents the state of a transaction.
type TxState int

const (
	// TxActive indicates the transaction is currently active.
	TxActive TxState = iota
	// TxCommitted indicates the transaction has been successfully committed.
	TxCommitted
	// TxAborted indicates the transaction has been rolled back.
	TxAborted
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Transaction represents a database transaction.
//
// A Transaction is a storage.Pager. Pages written through it are shadowed in
// memory until commit, pages it allocates are reserved at once, and pages it
// frees stay readable by the data file until the commit is durable. Nothing
// reaches the data file before the WAL holds the commit record.
//
// A transaction belongs to the goroutine that began it.
type Transaction struct {
	// ID is the unique transaction identifier.
	ID uint64

	// State is the current state of the transaction.
	State TxState

	// StartTime is when the transaction began.
	StartTime time.Time

	// StartLSN is the WAL position at transaction start.
	StartLSN uint64

	// Writable is false for transactions started with BeginReadOnly.
	Writable bool

	// ReadSet contains the pages read during this transaction.
	ReadSet []storage.PageID

	// WriteSet contains the pages modified during this transaction,
	// in order of first modification. Entries of pages freed since are
	// InvalidPageID until the set is compacted.
	WriteSet []storage.PageID

	pages     *storage.PageManager
	dirty     map[storage.PageID]*storage.Page
	readSeen  map[storage.PageID]struct{}
	writeIdx  map[storage.PageID]int // position in WriteSet
	holes     int                    // freed entries left in WriteSet
	allocated map[storage.PageID]struct{}
	freed     []storage.PageID
	freedSeen map[storage.PageID]struct{}
	release   func()

	// mu protects concurrent access to the transaction.
	mu sync.RWMutex
}

var _ storage.Pager = (*Transaction)(nil)

// NewTransaction creates a new transaction with the given ID and start LSN
// on top of the page manager.
func NewTransaction(id, startLSN uint64, pages *storage.PageManager, writable bool) *Transaction {
	return &Transaction{
		ID:        id,
		State:     TxActive,
		StartTime: time.Now(),
		StartLSN:  startLSN,
		Writable:  writable,
		ReadSet:   make([]storage.PageID, 0),
		WriteSet:  make([]storage.PageID, 0),
		pages:     pages,
		dirty:     make(map[storage.PageID]*storage.Page),
		readSeen:  make(map[storage.PageID]struct{}),
		writeIdx:  make(map[storage.PageID]int),
		allocated: make(map[storage.PageID]struct{}),
		freedSeen: make(map[storage.PageID]struct{}),
	}
}

// IsActive returns true if the transaction is still active.
func (tx *Transaction) IsActive() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.State == TxActive
}

// IsCommitted returns true if the transaction has been committed.
func (tx *Transaction) IsCommitted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.State == TxCommitted
}

// IsAborted returns true if the transaction has been aborted.
func (tx *Transaction) IsAborted() bool {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.State == TxAborted
}

// Duration returns the duration since the transaction started.
func (tx *Transaction) Duration() time.Duration {
	return time.Since(tx.StartTime)
}

// ReadPage returns the transaction's view of a page: its own shadow copy if
// it wrote one, the committed page otherwise.
func (tx *Transaction) ReadPage(id storage.PageID) (*storage.Page, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.State != TxActive {
		return nil, ErrTxNotActive
	}
	if _, ok := tx.freedSeen[id]; ok {
		return nil, ErrPageFreed
	}

	if _, ok := tx.readSeen[id]; !ok {
		tx.readSeen[id] = struct{}{}
		tx.ReadSet = append(tx.ReadSet, id)
	}

	if page, ok := tx.dirty[id]; ok {
		return page.Clone(), nil
	}
	return tx.pages.ReadPage(id)
}

// WritePage shadows the page until commit.
func (tx *Transaction) WritePage(page *storage.Page) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkWritableLocked(); err != nil {
		return err
	}

	id := page.Header.PageID
	if id == storage.InvalidPageID {
		return storage.ErrInvalidPageID
	}
	if _, ok := tx.freedSeen[id]; ok {
		return ErrPageFreed
	}
	if _, ok := tx.dirty[id]; !ok {
		if tx.pages.IsFree(id) {
			return ErrPageNotAllocated
		}
		tx.addWriteLocked(id)
	}

	tx.dirty[id] = page.Clone()
	return nil
}

// AllocatePage reserves a page from the page manager. The reservation is
// returned to the pool if the transaction rolls back.
func (tx *Transaction) AllocatePage(pageType storage.PageType) (storage.PageID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkWritableLocked(); err != nil {
		return 0, err
	}

	id, err := tx.pages.AllocatePage(pageType)
	if err != nil {
		return 0, err
	}

	tx.allocated[id] = struct{}{}
	tx.dirty[id] = storage.NewPage(id, pageType)
	tx.addWriteLocked(id)

	return id, nil
}

// FreePage releases a page. A page allocated by this same transaction goes
// straight back to the pool; any other page is released at commit.
func (tx *Transaction) FreePage(id storage.PageID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.checkWritableLocked(); err != nil {
		return err
	}

	switch {
	case id == storage.InvalidPageID:
		return storage.ErrCannotFreeHeader
	case id == storage.CatalogPageID:
		return storage.ErrCannotFreeMeta
	}
	if _, ok := tx.freedSeen[id]; ok {
		return storage.ErrPageAlreadyFree
	}

	delete(tx.dirty, id)
	tx.dropWriteLocked(id)

	if _, ok := tx.allocated[id]; ok {
		delete(tx.allocated, id)
		return tx.pages.FreePage(id)
	}

	if tx.pages.IsFree(id) {
		return storage.ErrPageAlreadyFree
	}
	tx.freed = append(tx.freed, id)
	tx.freedSeen[id] = struct{}{}
	return nil
}

func (tx *Transaction) addWriteLocked(id storage.PageID) {
	tx.writeIdx[id] = len(tx.WriteSet)
	tx.WriteSet = append(tx.WriteSet, id)
}

// dropWriteLocked punches a hole for id in WriteSet, compacting once holes
// make up half of it.
func (tx *Transaction) dropWriteLocked(id storage.PageID) {
	i, ok := tx.writeIdx[id]
	if !ok {
		return
	}
	delete(tx.writeIdx, id)
	tx.WriteSet[i] = storage.InvalidPageID
	tx.holes++

	if tx.holes*2 < len(tx.WriteSet) {
		return
	}
	live := tx.WriteSet[:0]
	for _, p := range tx.WriteSet {
		if p != storage.InvalidPageID {
			tx.writeIdx[p] = len(live)
			live = append(live, p)
		}
	}
	tx.WriteSet = live
	tx.holes = 0
}

// writeSetLocked returns WriteSet without holes.
func (tx *Transaction) writeSetLocked() []storage.PageID {
	ids := make([]storage.PageID, 0, len(tx.WriteSet)-tx.holes)
	for _, id := range tx.WriteSet {
		if id != storage.InvalidPageID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (tx *Transaction) checkWritableLocked() error {
	if tx.State != TxActive {
		return ErrTxNotActive
	}
	if !tx.Writable {
		return ErrReadOnlyTx
	}
	return nil
}

// DirtyPages returns the shadowed pages in write order.
func (tx *Transaction) DirtyPages() []*storage.Page {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	ids := tx.writeSetLocked()
	result := make([]*storage.Page, 0, len(ids))
	for _, id := range ids {
		result = append(result, tx.dirty[id])
	}
	return result
}

// Allocated returns the pages allocated by this transaction, in ID order.
func (tx *Transaction) Allocated() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return slices.Sorted(maps.Keys(tx.allocated))
}

// Freed returns the pages this transaction releases on commit.
func (tx *Transaction) Freed() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return slices.Clone(tx.freed)
}

// GetReadSet returns a copy of the read set.
func (tx *Transaction) GetReadSet() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return slices.Clone(tx.ReadSet)
}

// GetWriteSet returns a copy of the write set.
func (tx *Transaction) GetWriteSet() []storage.PageID {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.writeSetLocked()
}

// finish moves the transaction to its final state and drops its shadows.
func (tx *Transaction) finish(state TxState) {
	tx.mu.Lock()
	tx.State = state
	tx.dirty = nil
	tx.allocated = nil
	tx.freed = nil
	tx.freedSeen = nil
	release := tx.release
	tx.release = nil
	tx.mu.Unlock()

	if release != nil {
		release()
	}
}
