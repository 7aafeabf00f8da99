package storage

import (
	"encoding/binary"
	"sort"
	"sync"
)

// FreeListEntrySize is the size of each entry in the free list (8 bytes for PageID).
const FreeListEntrySize = 8

// MaxFreeListEntriesPerPage is the maximum number of free page entries per page.
// Calculated as: (PageSize - PageHeaderSize - 8 bytes for next pointer) / 8 bytes per entry
const MaxFreeListEntriesPerPage = (PageDataSize - 8) / FreeListEntrySize

// FreeList manages free pages in the database.
// On disk it is a linked list of pages, where each page contains an array
// of free page IDs.
// Layout of a free list page:
//   - Bytes 0-15:    PageHeader
//   - Bytes 16-23:   NextPage (PageID of next free list page, 0 if none)
//   - Bytes 24-...:  Array of free PageIDs
type FreeList struct {
	freePages []PageID
	member    map[PageID]struct{}
	mu        sync.RWMutex
}

// NewFreeList creates a new empty FreeList.
func NewFreeList() *FreeList {
	return &FreeList{
		freePages: make([]PageID, 0),
		member:    make(map[PageID]struct{}),
	}
}

// Count returns the total number of free pages.
func (fl *FreeList) Count() uint64 {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return uint64(len(fl.freePages))
}

// IsEmpty returns true if there are no free pages.
func (fl *FreeList) IsEmpty() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return len(fl.freePages) == 0
}

// Push adds a page ID to the free list. Pushing a page that is already
// present is a no-op and returns false.
func (fl *FreeList) Push(pageID PageID) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if _, ok := fl.member[pageID]; ok {
		return false
	}
	fl.freePages = append(fl.freePages, pageID)
	fl.member[pageID] = struct{}{}
	return true
}

// Pop removes and returns a page ID from the free list.
// Returns 0 and false if the free list is empty.
func (fl *FreeList) Pop() (PageID, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if len(fl.freePages) == 0 {
		return 0, false
	}

	// LIFO for locality
	idx := len(fl.freePages) - 1
	pageID := fl.freePages[idx]
	fl.freePages = fl.freePages[:idx]
	delete(fl.member, pageID)

	return pageID, true
}

// PeekAll returns a sorted copy of all free page IDs.
func (fl *FreeList) PeekAll() []PageID {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	result := make([]PageID, len(fl.freePages))
	copy(result, fl.freePages)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// LoadFromPages loads free page IDs from a chain of free list pages.
// This is called during database open to restore the free list state.
func (fl *FreeList) LoadFromPages(pages []*Page) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	fl.freePages = make([]PageID, 0)
	fl.member = make(map[PageID]struct{})

	for _, page := range pages {
		if page == nil {
			continue
		}
		if page.Header.PageType != PageTypeFreeList {
			return ErrInvalidPageType
		}

		numEntries := int(page.Header.ItemCount)
		for i := 0; i < numEntries && i < MaxFreeListEntriesPerPage; i++ {
			offset := 8 + i*FreeListEntrySize
			pageID := PageID(binary.LittleEndian.Uint64(page.Data[offset : offset+FreeListEntrySize]))
			if pageID == 0 {
				continue
			}
			if _, dup := fl.member[pageID]; dup {
				continue
			}
			fl.freePages = append(fl.freePages, pageID)
			fl.member[pageID] = struct{}{}
		}
	}

	return nil
}

// GetNextPageID reads the next page pointer from a free list page.
func GetNextPageID(page *Page) PageID {
	if page == nil || len(page.Data) < 8 {
		return 0
	}
	return PageID(binary.LittleEndian.Uint64(page.Data[0:8]))
}

// SetNextPageID writes the next page pointer to a free list page.
func SetNextPageID(page *Page, nextPageID PageID) {
	if page == nil || len(page.Data) < 8 {
		return
	}
	binary.LittleEndian.PutUint64(page.Data[0:8], uint64(nextPageID))
}

// freeListPagesNeeded returns how many chain pages hold n entries.
func freeListPagesNeeded(n int) int {
	if n == 0 {
		return 0
	}
	return (n + MaxFreeListEntriesPerPage - 1) / MaxFreeListEntriesPerPage
}

// buildFreeListChain lays out entries across the given chain pages, linking
// them in order. len(chain) must equal freeListPagesNeeded(len(entries)).
func buildFreeListChain(chain []PageID, entries []PageID) []*Page {
	pages := make([]*Page, len(chain))
	for i, id := range chain {
		page := NewPage(id, PageTypeFreeList)

		start := i * MaxFreeListEntriesPerPage
		end := min(start+MaxFreeListEntriesPerPage, len(entries))
		for j, entry := range entries[start:end] {
			offset := 8 + j*FreeListEntrySize
			binary.LittleEndian.PutUint64(page.Data[offset:offset+FreeListEntrySize], uint64(entry))
		}
		page.Header.ItemCount = uint16(end - start)

		var next PageID
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		SetNextPageID(page, next)
		pages[i] = page
	}
	return pages
}

// Contains checks if a page ID is in the free list.
func (fl *FreeList) Contains(pageID PageID) bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	_, ok := fl.member[pageID]
	return ok
}

// Remove removes a specific page ID from the free list.
// Returns true if the page was found and removed.
func (fl *FreeList) Remove(pageID PageID) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if _, ok := fl.member[pageID]; !ok {
		return false
	}
	delete(fl.member, pageID)

	for i, id := range fl.freePages {
		if id == pageID {
			last := len(fl.freePages) - 1
			fl.freePages[i] = fl.freePages[last]
			fl.freePages = fl.freePages[:last]
			break
		}
	}
	return true
}
