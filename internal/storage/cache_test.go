package storage

import (
	"testing"
)

func TestPageCacheGetPut(t *testing.T) {
	c := NewPageCache(4)

	if _, ok := c.Get(1); ok {
		t.Error("Get() on empty cache should miss")
	}

	page := NewPage(1, PageTypeBTree)
	page.Data[0] = 'a'
	c.Put(page)

	got, ok := c.Get(1)
	if !ok {
		t.Fatal("Get() should hit after Put()")
	}
	if got.Data[0] != 'a' {
		t.Errorf("cached data = %q", got.Data[0])
	}

	// Callers own the returned copy.
	got.Data[0] = 'z'
	again, _ := c.Get(1)
	if again.Data[0] != 'a' {
		t.Error("mutating a returned page changed the cache")
	}

	// And the cache owns its own copy of what was put.
	page.Data[0] = 'q'
	again, _ = c.Get(1)
	if again.Data[0] != 'a' {
		t.Error("mutating the original page changed the cache")
	}
}

func TestPageCacheEvictsLRU(t *testing.T) {
	c := NewPageCache(3)
	for id := PageID(1); id <= 3; id++ {
		c.Put(NewPage(id, PageTypeBTree))
	}

	c.Get(1) // 2 is now least recently used
	c.Put(NewPage(4, PageTypeBTree))

	if c.Contains(2) {
		t.Error("page 2 should have been evicted")
	}
	for _, id := range []PageID{1, 3, 4} {
		if !c.Contains(id) {
			t.Errorf("page %d should still be cached", id)
		}
	}

	stats := c.Stats()
	if stats.Evictions != 1 || stats.Size != 3 {
		t.Errorf("stats = %+v, want 1 eviction and size 3", stats)
	}
}

func TestPageCacheRemoveAndClear(t *testing.T) {
	c := NewPageCache(8)
	c.Put(NewPage(1, PageTypeBTree))
	c.Put(NewPage(2, PageTypeBTree))

	c.Remove(1)
	if c.Contains(1) {
		t.Error("Remove() left the page cached")
	}

	c.Clear()
	if c.Stats().Size != 0 {
		t.Errorf("size after Clear() = %d", c.Stats().Size)
	}
}

func TestPageCacheDisabled(t *testing.T) {
	c := NewPageCache(0)
	if c != nil {
		t.Fatal("NewPageCache(0) should return nil")
	}

	// A nil cache is usable and never hits.
	c.Put(NewPage(1, PageTypeBTree))
	if _, ok := c.Get(1); ok {
		t.Error("nil cache should never hit")
	}
	c.Remove(1)
	c.Clear()
	if c.Stats() != (PageCacheStats{}) {
		t.Error("nil cache should report zero stats")
	}
}

func TestPageCacheHitRate(t *testing.T) {
	tests := []struct {
		stats PageCacheStats
		want  float64
	}{
		{PageCacheStats{}, 0},
		{PageCacheStats{Hits: 3, Misses: 1}, 0.75},
		{PageCacheStats{Misses: 4}, 0},
	}
	for _, tt := range tests {
		if got := tt.stats.HitRate(); got != tt.want {
			t.Errorf("HitRate(%+v) = %v, want %v", tt.stats, got, tt.want)
		}
	}
}
