package storage

import (
	"errors"
	"sync"
	"testing"
)

func TestFreeListPushPop(t *testing.T) {
	fl := NewFreeList()

	if !fl.IsEmpty() {
		t.Error("new free list should be empty")
	}
	if _, ok := fl.Pop(); ok {
		t.Error("Pop() on empty list should fail")
	}

	for _, id := range []PageID{3, 4, 5} {
		if !fl.Push(id) {
			t.Errorf("Push(%d) = false", id)
		}
	}
	if fl.Push(4) {
		t.Error("Push() of a duplicate should return false")
	}
	if fl.Count() != 3 {
		t.Errorf("Count() = %d, want 3", fl.Count())
	}

	// LIFO
	id, ok := fl.Pop()
	if !ok || id != 5 {
		t.Errorf("Pop() = %d, %v; want 5, true", id, ok)
	}
	if fl.Contains(5) {
		t.Error("popped page should no longer be contained")
	}
}

func TestFreeListRemove(t *testing.T) {
	fl := NewFreeList()
	fl.Push(10)
	fl.Push(11)
	fl.Push(12)

	if !fl.Remove(11) {
		t.Error("Remove(11) = false")
	}
	if fl.Remove(11) {
		t.Error("second Remove(11) = true")
	}

	got := fl.PeekAll()
	if len(got) != 2 || got[0] != 10 || got[1] != 12 {
		t.Errorf("PeekAll() = %v, want [10 12]", got)
	}
}

func TestFreeListChainRoundTrip(t *testing.T) {
	entries := make([]PageID, MaxFreeListEntriesPerPage+10)
	for i := range entries {
		entries[i] = PageID(i + 100)
	}

	chain := []PageID{20, 21}
	if n := freeListPagesNeeded(len(entries)); n != len(chain) {
		t.Fatalf("freeListPagesNeeded() = %d, want %d", n, len(chain))
	}

	pages := buildFreeListChain(chain, entries)
	if GetNextPageID(pages[0]) != 21 {
		t.Errorf("first page links to %d, want 21", GetNextPageID(pages[0]))
	}
	if GetNextPageID(pages[1]) != 0 {
		t.Errorf("last page links to %d, want 0", GetNextPageID(pages[1]))
	}

	fl := NewFreeList()
	if err := fl.LoadFromPages(pages); err != nil {
		t.Fatalf("LoadFromPages() error = %v", err)
	}
	if fl.Count() != uint64(len(entries)) {
		t.Errorf("Count() = %d, want %d", fl.Count(), len(entries))
	}
	for _, id := range entries {
		if !fl.Contains(id) {
			t.Fatalf("page %d missing after load", id)
		}
	}
}

func TestFreeListLoadWrongPageType(t *testing.T) {
	fl := NewFreeList()
	err := fl.LoadFromPages([]*Page{NewPage(2, PageTypeBTree)})
	if !errors.Is(err, ErrInvalidPageType) {
		t.Errorf("LoadFromPages() error = %v, want ErrInvalidPageType", err)
	}
}

func TestFreeListPagesNeeded(t *testing.T) {
	tests := []struct {
		entries int
		pages   int
	}{
		{0, 0},
		{1, 1},
		{MaxFreeListEntriesPerPage, 1},
		{MaxFreeListEntriesPerPage + 1, 2},
	}
	for _, tt := range tests {
		if got := freeListPagesNeeded(tt.entries); got != tt.pages {
			t.Errorf("freeListPagesNeeded(%d) = %d, want %d", tt.entries, got, tt.pages)
		}
	}
}

func TestFreeListConcurrency(t *testing.T) {
	fl := NewFreeList()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fl.Push(PageID(base*1000 + i))
			}
		}(g + 1)
	}
	wg.Wait()

	if fl.Count() != 800 {
		t.Errorf("Count() = %d, want 800", fl.Count())
	}
}
