package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Default options for PageManager.
const (
	DefaultInitialPages = 16
	MinGrowthPages      = 8

	// CatalogPageID is the fixed page holding the catalog. It is created
	// together with the file so the catalog never has to be bootstrapped
	// outside a transaction.
	CatalogPageID PageID = 1
)

// Errors for PageManager operations.
var (
	ErrInvalidPageID    = errors.New("invalid page ID")
	ErrPageOutOfRange   = errors.New("page ID out of range")
	ErrPageAlreadyFree  = errors.New("page is already free")
	ErrCannotFreeHeader = errors.New("cannot free header page")
	ErrCannotFreeMeta   = errors.New("cannot free a reserved metadata page")
	ErrFileClosed       = errors.New("page manager is closed")
	ErrFileLocked       = errors.New("data file is locked by another process")
	ErrReadOnly         = errors.New("page manager is read-only")
)

// Options configures the PageManager.
type Options struct {
	InitialPages int  // Initial number of pages to allocate
	CreateIfNew  bool // Create file if it doesn't exist
	ReadOnly     bool // Open in read-only mode
	SyncOnWrite  bool // Sync to disk after each write
	CacheSize    int  // Pages kept in the read cache, 0 disables it
}

// DefaultOptions returns the default PageManager options.
func DefaultOptions() Options {
	return Options{
		InitialPages: DefaultInitialPages,
		CreateIfNew:  true,
		CacheSize:    DefaultCacheSize,
	}
}

// PageManager handles page allocation, deallocation, and I/O operations
// on a single data file. It implements Pager without any transactional
// protection; tx.Transaction layers write-ahead logging on top of it.
type PageManager struct {
	file        *os.File
	header      *FileHeader
	totalPages  uint64
	freeList    *FreeList
	chain       []PageID // pages holding the persisted free list
	cache       *PageCache
	mu          sync.RWMutex
	path        string
	readOnly    bool
	syncOnWrite bool
	closed      bool
}

var _ Pager = (*PageManager)(nil)

// OpenPageManager opens or creates a page manager for the given file path.
// The file is locked for the lifetime of the manager.
func OpenPageManager(path string, opts Options) (*PageManager, error) {
	if opts.InitialPages <= 0 {
		opts.InitialPages = DefaultInitialPages
	}

	pm := &PageManager{
		freeList:    NewFreeList(),
		cache:       NewPageCache(opts.CacheSize),
		path:        path,
		readOnly:    opts.ReadOnly,
		syncOnWrite: opts.SyncOnWrite,
	}

	_, err := os.Stat(path)
	fileExists := err == nil

	if !fileExists && (!opts.CreateIfNew || opts.ReadOnly) {
		return nil, os.ErrNotExist
	}

	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	} else if !fileExists {
		flags |= os.O_CREATE
	}

	pm.file, err = os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if err := lockFile(pm.file, !opts.ReadOnly); err != nil {
		pm.file.Close()
		return nil, err
	}

	if fileExists {
		err = pm.loadExisting()
	} else {
		err = pm.initializeNew(opts.InitialPages)
	}
	if err != nil {
		unlockFile(pm.file)
		pm.file.Close()
		if !fileExists {
			os.Remove(path)
		}
		return nil, err
	}

	return pm, nil
}

// loadExisting loads an existing database file.
func (pm *PageManager) loadExisting() error {
	headerBuf := make([]byte, FileHeaderSize)
	if _, err := pm.file.ReadAt(headerBuf, 0); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	pm.header = &FileHeader{}
	if err := pm.header.DeserializeAndValidate(headerBuf); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}

	pm.totalPages = pm.header.TotalPages

	// Growth that happened after the last checkpoint is not recorded in the
	// free list. Recovery grows the file again for any page it replays.
	if !pm.readOnly {
		info, err := pm.file.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat file: %w", err)
		}
		if want := int64(pm.totalPages) * PageSize; info.Size() > want {
			if err := pm.file.Truncate(want); err != nil {
				return fmt.Errorf("failed to truncate file: %w", err)
			}
		}
	}

	if err := pm.loadFreeList(); err != nil {
		return fmt.Errorf("failed to load free list: %w", err)
	}

	return nil
}

// loadFreeList loads the free list chain from disk.
func (pm *PageManager) loadFreeList() error {
	pm.freeList = NewFreeList()
	pm.chain = nil

	var pages []*Page
	for id := pm.header.FreeListHead; id != 0; {
		page, err := pm.readPageInternal(id)
		if err != nil {
			return err
		}
		pages = append(pages, page)
		pm.chain = append(pm.chain, id)
		id = GetNextPageID(page)
		if len(pm.chain) > int(pm.totalPages) {
			return ErrPageHeaderCorrupted
		}
	}

	return pm.freeList.LoadFromPages(pages)
}

// initializeNew initializes a new database file with a header page and an
// empty catalog page.
func (pm *PageManager) initializeNew(initialPages int) error {
	if initialPages < 2 {
		initialPages = 2
	}

	pm.header = NewFileHeader()
	pm.header.TotalPages = uint64(initialPages)
	pm.header.RootPages.Catalog = CatalogPageID
	pm.totalPages = uint64(initialPages)

	if err := pm.file.Truncate(int64(initialPages) * PageSize); err != nil {
		return fmt.Errorf("failed to extend file: %w", err)
	}

	if err := pm.writePageInternal(NewPage(CatalogPageID, PageTypeCatalog)); err != nil {
		return err
	}

	for i := 2; i < initialPages; i++ {
		pm.freeList.Push(PageID(i))
	}

	return pm.checkpointLocked(0, 1)
}

// Close persists the free list and header, then releases the file.
func (pm *PageManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	pm.closed = true

	var err error
	if !pm.readOnly {
		err = pm.checkpointLocked(pm.header.CheckpointLSN, pm.header.NextTxID)
	}

	unlockFile(pm.file)
	if cerr := pm.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Checkpoint makes the current in-memory state durable: the free list is
// written to a fresh chain, the header is switched over to it and then the
// previous chain pages are released. lsn is the last WAL record whose effects
// are now on disk.
func (pm *PageManager) Checkpoint(lsn, nextTxID uint64) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	if pm.readOnly {
		return ErrReadOnly
	}

	return pm.checkpointLocked(lsn, nextTxID)
}

func (pm *PageManager) checkpointLocked(lsn, nextTxID uint64) error {
	old := pm.chain

	// The new chain never overlaps the old one so a crash before the header
	// switch leaves the old chain readable.
	var chain []PageID
	for {
		total := int(pm.freeList.Count()) + len(old)
		if len(chain) >= freeListPagesNeeded(total) {
			break
		}
		id, ok := pm.freeList.Pop()
		if !ok {
			if err := pm.growFileLocked(MinGrowthPages); err != nil {
				return err
			}
			continue
		}
		chain = append(chain, id)
	}

	entries := append(pm.freeList.PeekAll(), old...)
	for _, page := range buildFreeListChain(chain, entries) {
		if err := pm.writePageInternal(page); err != nil {
			return fmt.Errorf("failed to write free list: %w", err)
		}
	}

	if err := pm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	var head PageID
	if len(chain) > 0 {
		head = chain[0]
	}
	pm.header.FreeListHead = head
	pm.header.TotalPages = pm.totalPages
	pm.header.CheckpointLSN = lsn
	pm.header.NextTxID = nextTxID

	if err := pm.saveHeaderLocked(); err != nil {
		return fmt.Errorf("failed to save header: %w", err)
	}

	if err := pm.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	for _, id := range old {
		pm.freeList.Push(id)
	}
	pm.chain = chain

	return nil
}

// saveHeaderLocked saves the header to disk. Must be called with lock held.
func (pm *PageManager) saveHeaderLocked() error {
	headerBuf, err := pm.header.Serialize()
	if err != nil {
		return err
	}

	_, err = pm.file.WriteAt(headerBuf, 0)
	return err
}

// AllocatePage allocates a new page of the specified type.
func (pm *PageManager) AllocatePage(pageType PageType) (PageID, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return 0, ErrFileClosed
	}
	if pm.readOnly {
		return 0, ErrReadOnly
	}

	pageID, ok := pm.freeList.Pop()
	if !ok {
		if err := pm.growFileLocked(MinGrowthPages); err != nil {
			return 0, err
		}
		pageID, _ = pm.freeList.Pop()
	}

	if err := pm.writePageInternal(NewPage(pageID, pageType)); err != nil {
		pm.freeList.Push(pageID)
		return 0, err
	}

	return pageID, nil
}

// growFileLocked grows the file by numPages and pushes the new pages onto
// the free list. Must be called with lock held.
func (pm *PageManager) growFileLocked(numPages int) error {
	newTotalPages := pm.totalPages + uint64(numPages)

	if err := pm.file.Truncate(int64(newTotalPages) * PageSize); err != nil {
		return fmt.Errorf("failed to grow file: %w", err)
	}

	// Push in reverse so the lowest new page is popped first.
	for i := newTotalPages; i > pm.totalPages; i-- {
		pm.freeList.Push(PageID(i - 1))
	}
	pm.totalPages = newTotalPages

	return nil
}

// FreePage marks a page as free for reuse.
func (pm *PageManager) FreePage(id PageID) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	if pm.readOnly {
		return ErrReadOnly
	}

	return pm.freePageLocked(id)
}

func (pm *PageManager) freePageLocked(id PageID) error {
	if id == 0 {
		return ErrCannotFreeHeader
	}
	if id == CatalogPageID || pm.inChain(id) {
		return ErrCannotFreeMeta
	}
	if uint64(id) >= pm.totalPages {
		return ErrPageOutOfRange
	}
	if pm.freeList.Contains(id) {
		return ErrPageAlreadyFree
	}

	if err := pm.writePageInternal(NewPage(id, PageTypeFree)); err != nil {
		return err
	}

	pm.freeList.Push(id)
	return nil
}

func (pm *PageManager) inChain(id PageID) bool {
	for _, c := range pm.chain {
		if c == id {
			return true
		}
	}
	return false
}

// ReadPage reads a page from disk.
func (pm *PageManager) ReadPage(id PageID) (*Page, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return nil, ErrFileClosed
	}

	return pm.readPageInternal(id)
}

// readPageInternal reads a page without locking.
func (pm *PageManager) readPageInternal(id PageID) (*Page, error) {
	if id == 0 {
		return nil, ErrInvalidPageID
	}
	if uint64(id) >= pm.totalPages {
		return nil, ErrPageOutOfRange
	}

	if page, ok := pm.cache.Get(id); ok {
		return page, nil
	}

	buf := make([]byte, PageSize)
	n, err := pm.file.ReadAt(buf, int64(id)*PageSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read page %d: %w", id, err)
	}
	if n < PageSize {
		return nil, fmt.Errorf("incomplete page read: got %d bytes, expected %d", n, PageSize)
	}

	if isBlank(buf) {
		return NewPage(id, PageTypeFree), nil
	}

	page := &Page{}
	if err := page.DeserializeAndValidate(buf); err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", id, err)
	}
	if page.Header.PageID != id {
		return nil, fmt.Errorf("failed to read page %d: %w", id, ErrPageHeaderCorrupted)
	}

	pm.cache.Put(page)
	return page, nil
}

// WritePage writes a page to disk.
func (pm *PageManager) WritePage(page *Page) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}
	if pm.readOnly {
		return ErrReadOnly
	}

	return pm.writePageInternal(page)
}

// writePageInternal writes a page without locking.
func (pm *PageManager) writePageInternal(page *Page) error {
	if page.Header.PageID == 0 {
		return ErrInvalidPageID
	}
	if uint64(page.Header.PageID) >= pm.totalPages {
		return ErrPageOutOfRange
	}

	buf, err := page.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize page: %w", err)
	}

	if _, err := pm.file.WriteAt(buf, int64(page.Header.PageID)*PageSize); err != nil {
		pm.cache.Remove(page.Header.PageID)
		return fmt.Errorf("failed to write page %d: %w", page.Header.PageID, err)
	}
	pm.cache.Put(page)

	if pm.syncOnWrite {
		if err := pm.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync after write: %w", err)
		}
	}

	return nil
}

// ReplayAllocate re-applies a logged allocation during recovery. The file
// grows if the page lies beyond its current end.
func (pm *PageManager) ReplayAllocate(id PageID) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if id == 0 {
		return ErrInvalidPageID
	}
	if err := pm.ensureRangeLocked(id); err != nil {
		return err
	}
	pm.freeList.Remove(id)
	return nil
}

// ReplayWrite re-applies a logged page image during recovery.
func (pm *PageManager) ReplayWrite(page *Page) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := pm.ensureRangeLocked(page.Header.PageID); err != nil {
		return err
	}
	return pm.writePageInternal(page)
}

// ReplayFree re-applies a logged free during recovery. Pages already free or
// holding the persisted free list are left alone.
func (pm *PageManager) ReplayFree(id PageID) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if err := pm.ensureRangeLocked(id); err != nil {
		return err
	}
	if pm.inChain(id) || id == CatalogPageID || pm.freeList.Contains(id) {
		return nil
	}
	pm.freeList.Push(id)
	return nil
}

func (pm *PageManager) ensureRangeLocked(id PageID) error {
	if uint64(id) < pm.totalPages {
		return nil
	}
	return pm.growFileLocked(int(uint64(id)+1-pm.totalPages))
}

// SnapshotReader returns a reader over the whole data file, header page
// included, and the number of pages it covers. Callers must keep writers
// out until they are done reading.
func (pm *PageManager) SnapshotReader() (*io.SectionReader, uint64) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return io.NewSectionReader(pm.file, 0, int64(pm.totalPages)*PageSize), pm.totalPages
}

// Sync flushes all pending writes to disk.
func (pm *PageManager) Sync() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrFileClosed
	}

	return pm.file.Sync()
}

// IsFree reports whether the page is currently on the free list.
func (pm *PageManager) IsFree(id PageID) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.freeList.Contains(id)
}

// TotalPages returns the total number of pages in the file.
func (pm *PageManager) TotalPages() uint64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.totalPages
}

// Path returns the file path.
func (pm *PageManager) Path() string {
	return pm.path
}

// IsReadOnly returns true if the page manager is in read-only mode.
func (pm *PageManager) IsReadOnly() bool {
	return pm.readOnly
}

// Header returns a copy of the file header as of the last checkpoint.
func (pm *PageManager) Header() FileHeader {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return *pm.header
}

// Stats holds page accounting for the data file.
type Stats struct {
	TotalPages    uint64
	FreePages     uint64
	MetaPages     uint64 // header, catalog and free list chain
	UsedPages     uint64
	FileSizeBytes int64
	Cache         PageCacheStats
}

// Stats returns current statistics.
func (pm *PageManager) Stats() Stats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	free := pm.freeList.Count()
	meta := uint64(2 + len(pm.chain))
	return Stats{
		TotalPages:    pm.totalPages,
		FreePages:     free,
		MetaPages:     meta,
		UsedPages:     pm.totalPages - free - meta,
		FileSizeBytes: int64(pm.totalPages) * PageSize,
		Cache:         pm.cache.Stats(),
	}
}
