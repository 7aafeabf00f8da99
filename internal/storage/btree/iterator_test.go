package btree

import (
	"fmt"
	"testing"
)

func collectKeys(t *testing.T, it *Iterator) []string {
	t.Helper()
	defer it.Close()

	var keys []string
	for key, _, ok := it.Next(); ok; key, _, ok = it.Next() {
		keys = append(keys, string(key))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return keys
}

func TestIteratorEmptyTree(t *testing.T) {
	pm, cleanup := createTestPageManager(t)
	defer cleanup()

	tree := mustCreate(t, pm)
	if keys := collectKeys(t, tree.Iterator()); len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestIteratorAcrossLeaves(t *testing.T) {
	pm, cleanup := createTestPageManager(t)
	defer cleanup()

	tree := mustCreate(t, pm)
	for i := 999; i >= 0; i-- {
		tree.Put(longKey(i), testValue("v"))
	}

	keys := collectKeys(t, tree.Iterator())
	if len(keys) != 1000 {
		t.Fatalf("expected 1000 keys, got %d", len(keys))
	}
	for i, k := range keys {
		if k != string(longKey(i)) {
			t.Fatalf("position %d: unexpected key %q", i, k)
		}
	}
}

func TestSeek(t *testing.T) {
	pm, cleanup := createTestPageManager(t)
	defer cleanup()

	tree := mustCreate(t, pm)
	for _, k := range []string{"b", "d", "f"} {
		tree.Put([]byte(k), testValue(k))
	}

	tests := []struct {
		start string
		want  []string
	}{
		{"a", []string{"b", "d", "f"}},
		{"d", []string{"d", "f"}},
		{"e", []string{"f"}},
		{"g", nil},
	}

	for _, tt := range tests {
		got := collectKeys(t, tree.Seek([]byte(tt.start)))
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("Seek(%q) = %v, expected %v", tt.start, got, tt.want)
		}
	}
}

func TestRangeAndPrefix(t *testing.T) {
	pm, cleanup := createTestPageManager(t)
	defer cleanup()

	tree := mustCreate(t, pm)
	for _, k := range []string{"user:1", "user:2", "user:3", "group:1", "zone"} {
		tree.Put([]byte(k), testValue(k))
	}

	got := collectKeys(t, tree.Range([]byte("user:2"), []byte("user:3")))
	if fmt.Sprint(got) != "[user:2 user:3]" {
		t.Errorf("Range = %v", got)
	}

	got = collectKeys(t, tree.Range(nil, []byte("user:1")))
	if fmt.Sprint(got) != "[group:1 user:1]" {
		t.Errorf("Range with open start = %v", got)
	}

	got = collectKeys(t, tree.Prefix([]byte("user:")))
	if fmt.Sprint(got) != "[user:1 user:2 user:3]" {
		t.Errorf("Prefix = %v", got)
	}
}

func TestIteratorCount(t *testing.T) {
	pm, cleanup := createTestPageManager(t)
	defer cleanup()

	tree := mustCreate(t, pm)
	for i := 0; i < 321; i++ {
		tree.Put(longKey(i), testValue("c"))
	}

	n, err := tree.Iterator().Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 321 {
		t.Errorf("expected 321, got %d", n)
	}
}

func TestIteratorClose(t *testing.T) {
	pm, cleanup := createTestPageManager(t)
	defer cleanup()

	tree := mustCreate(t, pm)
	tree.Put([]byte("a"), testValue("a"))

	it := tree.Iterator()
	it.Close()
	if _, _, ok := it.Next(); ok {
		t.Error("Next after Close should return false")
	}
}
