package hash

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/stream"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/tx"
)

func openTestKeyspace(t *testing.T, txn Txn) *Keyspace {
	t.Helper()
	ks, err := OpenKeyspace(txn, DefaultSizer())
	if err != nil {
		t.Fatalf("OpenKeyspace failed: %v", err)
	}
	return ks
}

func mustSet(t *testing.T, ks *Keyspace, key, field, value string) {
	t.Helper()
	if _, err := ks.HSet(key, field, value); err != nil {
		t.Fatalf("HSet(%q, %q) failed: %v", key, field, err)
	}
}

// =============================================================================
// Hash commands
// =============================================================================

func TestKeyspaceBasicCommands(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	if exists, err := ks.Exists("user:1"); err != nil || exists {
		t.Fatalf("Exists on an empty keyspace = %v, %v", exists, err)
	}

	created, err := ks.HSet("user:1", "name", "ada")
	if err != nil || !created {
		t.Fatalf("HSet = %v, %v; want created", created, err)
	}
	created, err = ks.HSet("user:1", "name", "grace")
	if err != nil || created {
		t.Fatalf("overwrite HSet = %v, %v; want not created", created, err)
	}
	mustSet(t, ks, "user:1", "lang", "cobol")

	if exists, _ := ks.Exists("user:1"); !exists {
		t.Error("Exists(user:1) = false")
	}
	if n, _ := ks.HLen("user:1"); n != 2 {
		t.Errorf("HLen = %d, want 2", n)
	}
	if n, _ := ks.HLen("missing"); n != 0 {
		t.Errorf("HLen(missing) = %d, want 0", n)
	}
	if value, ok, _ := ks.HGet("user:1", "name"); !ok || value != "grace" {
		t.Errorf("HGet(name) = %q, %v", value, ok)
	}
	if _, ok, _ := ks.HGet("missing", "name"); ok {
		t.Error("HGet on a missing key found a value")
	}
	if exists, _ := ks.HExists("user:1", "lang"); !exists {
		t.Error("HExists(lang) = false")
	}
	if n, _ := ks.HStrLen("user:1", "lang"); n != 5 {
		t.Errorf("HStrLen(lang) = %d, want 5", n)
	}
	if value, ok, _ := ks.HGetRange("user:1", "lang", 1, 3); !ok || value != "obo" {
		t.Errorf("HGetRange = %q, %v", value, ok)
	}

	store.commit(t, txn)

	// A second transaction sees the committed keyspace through the catalog.
	txn = store.begin(t)
	ks = openTestKeyspace(t, txn)
	if value, ok, _ := ks.HGet("user:1", "lang"); !ok || value != "cobol" {
		t.Errorf("HGet after commit = %q, %v", value, ok)
	}
	if err := ks.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestKeyspaceHSetNXAndHMGet(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	if set, err := ks.HSetNX("k", "f", "first"); err != nil || !set {
		t.Fatalf("HSetNX on a new field = %v, %v", set, err)
	}
	if set, err := ks.HSetNX("k", "f", "second"); err != nil || set {
		t.Fatalf("HSetNX on an existing field = %v, %v", set, err)
	}
	if value, _, _ := ks.HGet("k", "f"); value != "first" {
		t.Errorf("HGet = %q, want first", value)
	}

	mustSet(t, ks, "k", "g", "")
	values, err := ks.HMGet("k", "f", "nope", "g")
	if err != nil {
		t.Fatalf("HMGet failed: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("HMGet returned %d values, want 3", len(values))
	}
	if values[0] == nil || *values[0] != "first" {
		t.Errorf("HMGet[0] = %v", values[0])
	}
	if values[1] != nil {
		t.Errorf("HMGet[1] = %q, want nil", *values[1])
	}
	if values[2] == nil || *values[2] != "" {
		t.Errorf("HMGet[2] = %v, want empty string", values[2])
	}

	values, err = ks.HMGet("missing", "a", "b")
	if err != nil || values[0] != nil || values[1] != nil {
		t.Errorf("HMGet on a missing key = %v, %v", values, err)
	}
}

func TestKeyspaceHKeysHValsHGetAll(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	for i, f := range []string{"c", "a", "b"} {
		mustSet(t, ks, "h", f, fmt.Sprint(i))
	}

	keys, err := ks.HKeys("h")
	if err != nil || strings.Join(keys, "") != "abc" {
		t.Errorf("HKeys = %v, %v", keys, err)
	}
	vals, err := ks.HVals("h")
	if err != nil || strings.Join(vals, "") != "120" {
		t.Errorf("HVals = %v, %v", vals, err)
	}

	it, err := ks.HGetAll("h")
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	all, err := it.Collect()
	if err != nil || len(all) != 3 || all["c"] != "0" {
		t.Errorf("HGetAll = %v, %v", all, err)
	}

	it, err = ks.HGetAll("missing")
	if err != nil || it.Next() {
		t.Errorf("HGetAll(missing) yielded a field or failed: %v", err)
	}
}

func TestKeyspaceHDel(t *testing.T) {
	store := newTestStore(t)
	baseline := store.usedPages()

	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)
	mustSet(t, ks, "h", "a", "1")
	mustSet(t, ks, "h", "b", strings.Repeat("b", 2*blob.ChunkSize))
	mustSet(t, ks, "h", "c", "3")
	store.commit(t, txn)

	txn = store.begin(t)
	ks = openTestKeyspace(t, txn)

	n, err := ks.HDel("h", "a", "zzz", "a")
	if err != nil || n != 1 {
		t.Fatalf("HDel(a, zzz, a) = %d, %v; want 1", n, err)
	}
	if n, _ := ks.HDel("missing", "a"); n != 0 {
		t.Errorf("HDel on a missing key = %d", n)
	}

	n, err = ks.HDel("h", "b", "c")
	if err != nil || n != 2 {
		t.Fatalf("HDel(b, c) = %d, %v; want 2", n, err)
	}
	if exists, _ := ks.Exists("h"); exists {
		t.Error("hash still exists after its last field was deleted")
	}
	store.commit(t, txn)

	if used := store.usedPages(); used != baseline {
		t.Errorf("UsedPages = %d after deleting every field, want %d", used, baseline)
	}

	txn = store.begin(t)
	ks = openTestKeyspace(t, txn)
	if ks.tree != nil {
		t.Error("empty keyspace still has a tree")
	}
}

func TestKeyspaceSizeLimits(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	longKey := strings.Repeat("k", MaxKeySize+1)
	if _, err := ks.HSet(longKey, "f", "v"); !errors.Is(err, ErrKeyTooLarge) {
		t.Errorf("HSet with a long key: %v, want ErrKeyTooLarge", err)
	}
	if exists, err := ks.Exists(longKey); err != nil || exists {
		t.Errorf("Exists(long key) = %v, %v", exists, err)
	}

	longField := strings.Repeat("f", MaxFieldSize+1)
	if _, err := ks.HSet("k", longField, "v"); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("HSet with a long field: %v, want ErrFieldTooLarge", err)
	}
	mustSet(t, ks, "k", "f", "v")
	if _, err := ks.HDel("k", longField); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("HDel with a long field: %v, want ErrFieldTooLarge", err)
	}

	if _, err := ks.HSet(strings.Repeat("k", MaxKeySize), strings.Repeat("f", MaxFieldSize), "v"); err != nil {
		t.Errorf("HSet at the size limits failed: %v", err)
	}
}

// =============================================================================
// Key commands
// =============================================================================

func TestKeyspaceClearAndRemove(t *testing.T) {
	store := newTestStore(t)
	baseline := store.usedPages()

	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)
	for i := 0; i < 200; i++ {
		mustSet(t, ks, "big", fmt.Sprintf("f%03d", i), strings.Repeat("v", i*10))
	}
	mustSet(t, ks, "other", "f", "v")
	store.commit(t, txn)

	txn = store.begin(t)
	ks = openTestKeyspace(t, txn)

	if _, ok, err := ks.Clear("missing"); err != nil || ok {
		t.Errorf("Clear(missing) = %v, %v", ok, err)
	}

	token, ok, err := ks.Clear("big")
	if err != nil || !ok {
		t.Fatalf("Clear(big) = %v, %v", ok, err)
	}
	if token.Key() != "big" {
		t.Errorf("token.Key() = %q", token.Key())
	}
	if exists, _ := ks.Exists("big"); exists {
		t.Error("cleared key still reports as existing")
	}
	if err := ks.Remove(token); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := ks.Remove(token); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}

	if value, _, _ := ks.HGet("other", "f"); value != "v" {
		t.Errorf("unrelated key damaged: %q", value)
	}
	if _, err := ks.Del("other"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	store.commit(t, txn)

	if used := store.usedPages(); used != baseline {
		t.Errorf("UsedPages = %d after removing every key, want %d", used, baseline)
	}
}

func TestKeyspaceRemoveRequiresClear(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)
	mustSet(t, ks, "a", "f", "v")
	mustSet(t, ks, "b", "f", "v")

	t.Run("zero token", func(t *testing.T) {
		if err := ks.Remove(ClearedKey{}); !errors.Is(err, ErrNotCleared) {
			t.Errorf("Remove(zero token) = %v, want ErrNotCleared", err)
		}
	})

	t.Run("refilled after clear", func(t *testing.T) {
		token, _, err := ks.Clear("a")
		if err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		mustSet(t, ks, "a", "again", "v")
		if err := ks.Remove(token); !errors.Is(err, ErrNotCleared) {
			t.Errorf("Remove after refill = %v, want ErrNotCleared", err)
		}
		if n, _ := ks.HLen("a"); n != 1 {
			t.Errorf("HLen(a) = %d, refilled hash must survive", n)
		}
	})

	t.Run("token from another keyspace", func(t *testing.T) {
		token, _, err := ks.Clear("b")
		if err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		other := openTestKeyspace(t, txn)
		if err := other.Remove(token); !errors.Is(err, ErrNotCleared) {
			t.Errorf("Remove with a foreign token = %v, want ErrNotCleared", err)
		}
	})

	store.commit(t, txn)

	t.Run("token after its transaction ended", func(t *testing.T) {
		txn := store.begin(t)
		next := openTestKeyspace(t, txn)
		mustSet(t, next, "c", "f", "v")
		token, _, err := next.Clear("c")
		if err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		store.commit(t, txn)

		if err := next.Remove(token); !errors.Is(err, ErrNotCleared) {
			t.Errorf("Remove after commit = %v, want ErrNotCleared", err)
		}
	})
}

func TestKeyspaceDel(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	for _, key := range []string{"a", "b", "c"} {
		mustSet(t, ks, key, "f", key)
	}

	n, err := ks.Del("a", "missing", "c", "a")
	if err != nil || n != 2 {
		t.Fatalf("Del = %d, %v; want 2", n, err)
	}
	keys, err := mustKeys(t, ks, "*")
	if err != nil || strings.Join(keys, ",") != "b" {
		t.Errorf("remaining keys = %v, %v", keys, err)
	}
}

func TestKeyspaceDelEmptySlot(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)
	mustSet(t, ks, "a", "f", "v")
	mustSet(t, ks, "b", "f", "v")
	if _, _, err := ks.Clear("b"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := ks.Unremoved(); len(got) != 1 || got[0] != "b" {
		t.Errorf("Unremoved() = %v, want [b]", got)
	}
	store.commit(t, txn)

	txn = store.begin(t)
	ks = openTestKeyspace(t, txn)
	if ok, _ := ks.Exists("b"); ok {
		t.Error("Exists(b) = true for a cleared key")
	}

	n, err := ks.Del("a", "b")
	if err != nil || n != 1 {
		t.Fatalf("Del = %d, %v; want 1", n, err)
	}
	if _, found, err := ks.load("b"); err != nil || found {
		t.Errorf("slot for b still present: found=%v err=%v", found, err)
	}
	if got := ks.Unremoved(); len(got) != 0 {
		t.Errorf("Unremoved() = %v after Del", got)
	}

	want := []stream.ChangeEvent{{Operation: stream.OpDel, Key: "a"}}
	got := ks.Changes()
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Changes() = %+v, want %+v", got, want)
	}
	store.commit(t, txn)
}

func TestKeyspaceUnremovedRefill(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)
	mustSet(t, ks, "a", "f", "v")

	if _, _, err := ks.Clear("a"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	mustSet(t, ks, "a", "g", "v")
	if got := ks.Unremoved(); len(got) != 0 {
		t.Errorf("Unremoved() = %v after refill", got)
	}
	store.commit(t, txn)
}

func TestKeyspaceChanges(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	mustSet(t, ks, "h", "a", "1")
	mustSet(t, ks, "h", "b", "2")
	mustSet(t, ks, "h", "a", "3")
	mustSet(t, ks, "x", "f", "v")
	if _, err := ks.HDel("h", "a", "missing"); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.HDel("h", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.HDel("nothing", "f"); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Del("x", "missing"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ks.HGet("x", "f"); err != nil {
		t.Fatal(err)
	}

	want := []stream.ChangeEvent{
		{Operation: stream.OpHSet, Key: "h", Field: "a"},
		{Operation: stream.OpHSet, Key: "h", Field: "b"},
		{Operation: stream.OpHSet, Key: "h", Field: "a"},
		{Operation: stream.OpHSet, Key: "x", Field: "f"},
		{Operation: stream.OpHDel, Key: "h", Field: "a"},
		{Operation: stream.OpHDel, Key: "h", Field: "b"},
		{Operation: stream.OpDel, Key: "h"},
		{Operation: stream.OpDel, Key: "x"},
	}
	got := ks.Changes()
	if len(got) != len(want) {
		t.Fatalf("Changes() = %+v, want %d events", got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Failed writes record nothing.
	before := len(ks.Changes())
	if _, err := ks.HSet(strings.Repeat("k", MaxKeySize+1), "f", "v"); !errors.Is(err, ErrKeyTooLarge) {
		t.Fatalf("HSet with long key = %v", err)
	}
	if len(ks.Changes()) != before {
		t.Error("failed HSet recorded a change")
	}
}

func mustKeys(t *testing.T, ks *Keyspace, pattern string) ([]string, error) {
	t.Helper()
	it, err := ks.Keys(pattern)
	if err != nil {
		return nil, err
	}
	return it.Collect()
}

func TestKeyspaceKeys(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	for _, key := range []string{"user:1", "user:2", "user:10", "session:a", "users", "u*"} {
		mustSet(t, ks, key, "f", "v")
	}
	token, _, err := ks.Clear("user:2")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	tests := []struct {
		pattern string
		want    string
	}{
		{"", "session:a,u*,user:1,user:10,users"},
		{"*", "session:a,u*,user:1,user:10,users"},
		{"user:*", "user:1,user:10"},
		{"user:?", "user:1"},
		{"user*", "user:1,user:10,users"},
		{"session:[a-c]", "session:a"},
		{`u\*`, "u*"},
		{"nothing*", ""},
		{"users", "users"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			keys, err := mustKeys(t, ks, tt.pattern)
			if err != nil {
				t.Fatalf("Keys(%q) failed: %v", tt.pattern, err)
			}
			if got := strings.Join(keys, ","); got != tt.want {
				t.Errorf("Keys(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}

	if _, err := ks.Keys("user:["); !errors.Is(err, ErrBadPattern) {
		t.Errorf("Keys(bad pattern) = %v, want ErrBadPattern", err)
	}

	if err := ks.Remove(token); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
}

func TestKeyIteratorBoundToTransaction(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)
	mustSet(t, ks, "a", "f", "v")
	mustSet(t, ks, "b", "f", "v")

	it, err := ks.Keys("*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if !it.Next() || it.Key() != "a" || it.Value().HLen() != 1 {
		t.Fatalf("first key = %q, err %v", it.Key(), it.Err())
	}

	store.commit(t, txn)
	if it.Next() {
		t.Error("key iterator continued after commit")
	}
	if !errors.Is(it.Err(), ErrTransactionEnded) {
		t.Errorf("Err() = %v, want ErrTransactionEnded", it.Err())
	}
}

func TestLiteralPrefix(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"user:*", "user:"},
		{"*", ""},
		{"abc", "abc"},
		{"a?c", "a"},
		{"[ab]c", ""},
		{`a\*`, "a"},
	}
	for _, tt := range tests {
		if got := literalPrefix(tt.pattern); got != tt.want {
			t.Errorf("literalPrefix(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

// =============================================================================
// Maintenance and catalog
// =============================================================================

func TestKeyspaceStats(t *testing.T) {
	store := newTestStore(t)
	baseline := store.usedPages()

	txn := store.begin(t)
	ks := openTestKeyspace(t, txn)

	stats, err := ks.Stats()
	if err != nil || stats != (KeyspaceStats{}) {
		t.Errorf("Stats on an empty keyspace = %+v, %v", stats, err)
	}

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key:%02d", i)
		for j := 0; j <= i%5; j++ {
			mustSet(t, ks, key, fmt.Sprintf("f%d", j), strings.Repeat("x", 100*j))
		}
	}
	store.commit(t, txn)

	txn = store.begin(t)
	ks = openTestKeyspace(t, txn)
	stats, err = ks.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Keys != 50 {
		t.Errorf("Keys = %d, want 50", stats.Keys)
	}
	if stats.Fields != 150 {
		t.Errorf("Fields = %d, want 150", stats.Fields)
	}
	if stats.Height < 1 {
		t.Errorf("Height = %d", stats.Height)
	}
	if got := uint64(stats.TreePages + stats.NestedPages); got != store.usedPages()-baseline {
		t.Errorf("stats account for %d pages, store uses %d", got, store.usedPages()-baseline)
	}
	if err := ks.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestKeyspaceCorruptCatalog(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)

	page := storage.NewPage(storage.CatalogPageID, storage.PageTypeCatalog)
	copy(page.Data, "junk")
	if err := txn.WritePage(page); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}

	if _, err := OpenKeyspace(txn, DefaultSizer()); !errors.Is(err, ErrCorruptCatalog) {
		t.Errorf("OpenKeyspace = %v, want ErrCorruptCatalog", err)
	}

	page = storage.NewPage(storage.CatalogPageID, storage.PageTypeBTree)
	if err := txn.WritePage(page); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}
	if _, err := OpenKeyspace(txn, DefaultSizer()); !errors.Is(err, ErrCorruptCatalog) {
		t.Errorf("OpenKeyspace with a wrong page type = %v, want ErrCorruptCatalog", err)
	}
}

func TestKeyspaceReadOnlyTransaction(t *testing.T) {
	store := newTestStore(t)

	txn := store.begin(t)
	mustSet(t, openTestKeyspace(t, txn), "k", "f", "v")
	store.commit(t, txn)

	ro, err := store.tm.BeginReadOnly()
	if err != nil {
		t.Fatalf("BeginReadOnly failed: %v", err)
	}
	defer store.tm.Rollback(ro)

	ks := openTestKeyspace(t, ro)
	if value, ok, _ := ks.HGet("k", "f"); !ok || value != "v" {
		t.Errorf("HGet in a read-only transaction = %q, %v", value, ok)
	}
	if _, err := ks.HSet("k", "g", "v"); !errors.Is(err, tx.ErrReadOnlyTx) {
		t.Errorf("HSet in a read-only transaction = %v, want ErrReadOnlyTx", err)
	}
}
