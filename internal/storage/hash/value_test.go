package hash

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/btree"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/tx"
)

// testStore is a data file, its WAL and a transaction manager.
type testStore struct {
	pages *storage.PageManager
	wal   *storage.WAL
	tm    *tx.TxManager
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "hash_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	pages, err := storage.OpenPageManager(filepath.Join(tmpDir, "data.nkv"), storage.DefaultOptions())
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open page manager: %v", err)
	}
	wal, err := storage.OpenWAL(filepath.Join(tmpDir, "wal.log"))
	if err != nil {
		pages.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open WAL: %v", err)
	}

	t.Cleanup(func() {
		wal.Close()
		pages.Close()
		os.RemoveAll(tmpDir)
	})

	return &testStore{pages: pages, wal: wal, tm: tx.NewTxManager(pages, wal, 1)}
}

// begin starts a writable transaction that is rolled back at cleanup if the
// test leaves it open.
func (s *testStore) begin(t *testing.T) *tx.Transaction {
	t.Helper()

	txn, err := s.tm.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	t.Cleanup(func() {
		if txn.IsActive() {
			s.tm.Rollback(txn)
		}
	})
	return txn
}

func (s *testStore) commit(t *testing.T, txn *tx.Transaction) {
	t.Helper()
	if err := s.tm.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// usedPages returns the committed pages in use.
func (s *testStore) usedPages() uint64 {
	return s.pages.Stats().UsedPages
}

func mustHSet(t *testing.T, v *HashValue, s *Sizer, txn Txn, field, value string) bool {
	t.Helper()
	created, err := v.HSet(s, txn, field, value)
	if err != nil {
		t.Fatalf("HSet(%q) failed: %v", field, err)
	}
	return created
}

func mustHGet(t *testing.T, v HashValue, s *Sizer, txn Txn, field string) (string, bool) {
	t.Helper()
	value, ok, err := v.HGet(s, txn, field)
	if err != nil {
		t.Fatalf("HGet(%q) failed: %v", field, err)
	}
	return value, ok
}

// =============================================================================
// Sizers and codecs
// =============================================================================

func TestSizer(t *testing.T) {
	s := DefaultSizer()

	if s.Size(nil) != ValueSize || s.Size(make([]byte, 100)) != ValueSize {
		t.Error("Size() must not depend on the value")
	}
	if s.MaxPossibleSize() != ValueSize {
		t.Errorf("MaxPossibleSize() = %d, want %d", s.MaxPossibleSize(), ValueSize)
	}
	if !s.Fits(nil, ValueSize) || s.Fits(nil, ValueSize-1) {
		t.Error("Fits() must compare against the fixed size")
	}
	if s.LeafMagic() != (btree.BlockMagic{'l', 'r', 'e', 'h'}) {
		t.Errorf("LeafMagic() = %q", s.LeafMagic())
	}
	if s.BlockSize() != storage.PageSize {
		t.Errorf("BlockSize() = %d, want %d", s.BlockSize(), storage.PageSize)
	}

	n := s.Nested()
	if n.Size(nil) != blob.RefSize || n.MaxPossibleSize() != blob.RefSize {
		t.Errorf("nested Size() = %d, want %d", n.Size(nil), blob.RefSize)
	}
	if n.LeafMagic() != (btree.BlockMagic{'l', 'r', 'n', 's'}) {
		t.Errorf("nested LeafMagic() = %q", n.LeafMagic())
	}
	if n.BlockSize() != s.BlockSize() {
		t.Error("nested sizer must share the block size")
	}
	if !n.Fits(nil, blob.RefSize) || n.Fits(nil, blob.RefSize-1) {
		t.Error("nested Fits() must compare against the ref size")
	}

	compressed := s.WithBlobOptions(blob.Options{Compression: blob.CodecZstd, CompressMinSize: 10})
	if compressed.BlobOptions().Compression != blob.CodecZstd {
		t.Error("WithBlobOptions() did not apply")
	}
	if s.BlobOptions().Compression != blob.CodecNone {
		t.Error("WithBlobOptions() modified the original sizer")
	}
}

func TestHashValueEncoding(t *testing.T) {
	v := HashValue{NestedRoot: 1234, Size: 56}
	buf := v.Encode()
	if len(buf) != ValueSize {
		t.Fatalf("len(Encode()) = %d, want %d", len(buf), ValueSize)
	}

	got, err := DecodeHashValue(buf)
	if err != nil {
		t.Fatalf("DecodeHashValue failed: %v", err)
	}
	if got != v {
		t.Errorf("decoded %+v, want %+v", got, v)
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"short", buf[:8]},
		{"root without fields", HashValue{NestedRoot: 9}.Encode()},
		{"fields without root", HashValue{Size: 3}.Encode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeHashValue(tt.buf); !errors.Is(err, ErrInvalidValue) {
				t.Errorf("DecodeHashValue error = %v, want ErrInvalidValue", err)
			}
		})
	}

	empty, err := DecodeHashValue(HashValue{}.Encode())
	if err != nil || !empty.IsEmpty() {
		t.Errorf("empty record decoded as %+v, %v", empty, err)
	}
}

func TestNestedStringValueDecode(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)

	nested, err := writeNestedValue(txn, []byte("hello"), blob.DefaultOptions())
	if err != nil {
		t.Fatalf("writeNestedValue failed: %v", err)
	}

	buf := nested.Encode()
	decoded, err := DecodeNestedStringValue(buf)
	if err != nil {
		t.Fatalf("DecodeNestedStringValue failed: %v", err)
	}

	// The decoded value must not alias the buffer.
	original := bytes.Clone(buf)
	clear(buf)
	if !bytes.Equal(decoded.Encode(), original) {
		t.Error("decoded value changed with its source buffer")
	}
	if decoded.Len() != 5 {
		t.Errorf("Len() = %d, want 5", decoded.Len())
	}

	if _, err := DecodeNestedStringValue(original[:10]); !errors.Is(err, ErrInvalidNestedValue) {
		t.Errorf("short buffer error = %v, want ErrInvalidNestedValue", err)
	}
	bad := bytes.Clone(original)
	bad[0] = 0xFF
	if _, err := DecodeNestedStringValue(bad); !errors.Is(err, ErrInvalidNestedValue) {
		t.Errorf("bad flags error = %v, want ErrInvalidNestedValue", err)
	}
}

func TestDoesFieldFit(t *testing.T) {
	var v HashValue
	tests := []struct {
		length int
		want   bool
	}{
		{0, true},
		{1, true},
		{MaxFieldSize, true},
		{MaxFieldSize + 1, false},
	}
	for _, tt := range tests {
		if got := v.DoesFieldFit(strings.Repeat("f", tt.length)); got != tt.want {
			t.Errorf("DoesFieldFit(len %d) = %v, want %v", tt.length, got, tt.want)
		}
	}
}

// =============================================================================
// Operations
// =============================================================================

func TestHashValueScenario(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	baseline := store.usedPages()

	txn := store.begin(t)
	var h HashValue

	if !mustHSet(t, &h, s, txn, "a", "1") {
		t.Error(`hset a 1 should create the field`)
	}
	if mustHSet(t, &h, s, txn, "a", "2") {
		t.Error(`hset a 2 should overwrite`)
	}
	if h.HLen() != 1 {
		t.Errorf("hlen = %d after overwrite, want 1", h.HLen())
	}
	if got, _ := mustHGet(t, h, s, txn, "a"); got != "2" {
		t.Errorf(`hget a = %q, want "2"`, got)
	}

	long := strings.Repeat("x", 5000)
	if !mustHSet(t, &h, s, txn, "b", long) {
		t.Error(`hset b should create the field`)
	}
	if got, _ := mustHGet(t, h, s, txn, "b"); got != long {
		t.Errorf("hget b returned %d bytes, want 5000", len(got))
	}
	if h.HLen() != 2 {
		t.Errorf("hlen = %d, want 2", h.HLen())
	}

	deleted, err := h.HDel(s, txn, "a")
	if err != nil || !deleted {
		t.Fatalf("hdel a = %v, %v; want true", deleted, err)
	}
	if h.HLen() != 1 {
		t.Errorf("hlen = %d after hdel, want 1", h.HLen())
	}

	store.commit(t, txn)
	if store.usedPages() == baseline {
		t.Fatal("committed hash should own pages")
	}

	txn = store.begin(t)
	if err := h.Clear(s, txn); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if h.HLen() != 0 || !h.IsEmpty() {
		t.Errorf("after clear: %+v, want empty", h)
	}
	store.commit(t, txn)

	if used := store.usedPages(); used != baseline {
		t.Errorf("UsedPages = %d after clear, want %d (leaked %d)", used, baseline, used-baseline)
	}
}

func TestHashValueValueLengths(t *testing.T) {
	lengths := []int{0, 1, blob.InlineCapacity, blob.InlineCapacity + 1, 5000, 3*blob.ChunkSize + 7}

	for _, n := range lengths {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			store := newTestStore(t)
			s := DefaultSizer()
			txn := store.begin(t)

			value := strings.Repeat("v", n)
			var h HashValue
			mustHSet(t, &h, s, txn, "field", value)

			got, ok := mustHGet(t, h, s, txn, "field")
			if !ok || got != value {
				t.Errorf("HGet returned %d bytes (ok=%v), want %d", len(got), ok, n)
			}

			strlen, err := h.HStrLen(s, txn, "field")
			if err != nil || strlen != int64(n) {
				t.Errorf("HStrLen = %d, %v; want %d", strlen, err, n)
			}
		})
	}
}

func TestHashValueMissingFields(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	var h HashValue
	if _, ok := mustHGet(t, h, s, txn, "nope"); ok {
		t.Error("HGet on an empty hash found a field")
	}
	if exists, err := h.HExists(s, txn, "nope"); err != nil || exists {
		t.Errorf("HExists on an empty hash = %v, %v", exists, err)
	}
	if deleted, err := h.HDel(s, txn, "nope"); err != nil || deleted {
		t.Errorf("HDel on an empty hash = %v, %v", deleted, err)
	}

	mustHSet(t, &h, s, txn, "present", "1")
	if deleted, err := h.HDel(s, txn, "absent"); err != nil || deleted {
		t.Errorf("HDel(absent) = %v, %v; want false", deleted, err)
	}
	if h.HLen() != 1 {
		t.Errorf("HLen = %d after deleting an absent field, want 1", h.HLen())
	}
	if n, err := h.HStrLen(s, txn, "absent"); err != nil || n != 0 {
		t.Errorf("HStrLen(absent) = %d, %v", n, err)
	}
	if _, ok, err := h.HGetRange(s, txn, "absent", 0, 10); err != nil || ok {
		t.Errorf("HGetRange(absent) ok = %v, %v", ok, err)
	}

	deleted, err := h.HDel(s, txn, "present")
	if err != nil || !deleted {
		t.Fatalf("HDel(present) = %v, %v", deleted, err)
	}
	if exists, _ := h.HExists(s, txn, "present"); exists {
		t.Error("HExists true after HDel")
	}
	if !h.IsEmpty() {
		t.Errorf("deleting the last field should reset the record, got %+v", h)
	}
}

func TestHashValueRandomOps(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	rng := rand.New(rand.NewSource(7))
	reference := make(map[string]string)
	var h HashValue

	for i := 0; i < 4000; i++ {
		field := fmt.Sprintf("field-%04d-%s", rng.Intn(1500), strings.Repeat("p", rng.Intn(60)))
		if rng.Intn(4) == 0 {
			deleted, err := h.HDel(s, txn, field)
			if err != nil {
				t.Fatalf("HDel failed: %v", err)
			}
			_, had := reference[field]
			if deleted != had {
				t.Fatalf("HDel(%q) = %v, reference has it: %v", field, deleted, had)
			}
			delete(reference, field)
			continue
		}

		value := strings.Repeat(string(rune('a'+rng.Intn(26))), rng.Intn(200))
		created := mustHSet(t, &h, s, txn, field, value)
		_, had := reference[field]
		if created == had {
			t.Fatalf("HSet(%q) created = %v, reference has it: %v", field, created, had)
		}
		reference[field] = value
	}

	if h.HLen() != len(reference) {
		t.Fatalf("HLen = %d, want %d", h.HLen(), len(reference))
	}
	if err := h.Verify(s, txn); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	tree, err := btree.Open(txn, h.NestedRoot, s.Nested())
	if err != nil {
		t.Fatalf("btree.Open failed: %v", err)
	}
	if stats, _ := tree.Stats(); stats.Height < 2 {
		t.Errorf("nested tree height = %d, want a multi-level tree", stats.Height)
	}

	got, err := h.HGetAll(s, txn).Collect()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(got) != len(reference) {
		t.Fatalf("HGetAll yielded %d fields, want %d", len(got), len(reference))
	}
	for field, want := range reference {
		if got[field] != want {
			t.Fatalf("HGetAll[%q] = %q, want %q", field, got[field], want)
		}
	}
}

func TestHashValueOverwriteReleasesBlob(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()

	var h HashValue
	txn := store.begin(t)
	mustHSet(t, &h, s, txn, "f", "small")
	store.commit(t, txn)
	withSmall := store.usedPages()

	txn = store.begin(t)
	mustHSet(t, &h, s, txn, "f", strings.Repeat("L", 3*blob.ChunkSize))
	store.commit(t, txn)
	if store.usedPages() != withSmall+3 {
		t.Errorf("UsedPages = %d, want %d", store.usedPages(), withSmall+3)
	}

	txn = store.begin(t)
	mustHSet(t, &h, s, txn, "f", "small again")
	store.commit(t, txn)
	if store.usedPages() != withSmall {
		t.Errorf("UsedPages = %d after overwrite, want %d", store.usedPages(), withSmall)
	}
}

func TestHashValueGetRange(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	var sb strings.Builder
	for sb.Len() < 2*blob.ChunkSize {
		sb.WriteString("0123456789")
	}
	value := sb.String()

	var h HashValue
	mustHSet(t, &h, s, txn, "big", value)
	mustHSet(t, &h, s, txn, "small", "hello world")

	tests := []struct {
		field  string
		offset int64
		n      int64
		want   string
	}{
		{"small", 0, 5, "hello"},
		{"small", 6, 100, "world"},
		{"small", 50, 5, ""},
		{"big", blob.ChunkSize - 3, 6, value[blob.ChunkSize-3 : blob.ChunkSize+3]},
		{"big", 10, 0, ""},
	}
	for _, tt := range tests {
		got, ok, err := h.HGetRange(s, txn, tt.field, tt.offset, tt.n)
		if err != nil || !ok {
			t.Fatalf("HGetRange(%q, %d, %d) failed: ok=%v err=%v", tt.field, tt.offset, tt.n, ok, err)
		}
		if got != tt.want {
			t.Errorf("HGetRange(%q, %d, %d) = %q, want %q", tt.field, tt.offset, tt.n, got, tt.want)
		}
	}
}

func TestHashValueKeysAndPages(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	var h HashValue
	for _, f := range []string{"c", "a", "b"} {
		mustHSet(t, &h, s, txn, f, f)
	}
	mustHSet(t, &h, s, txn, "z", strings.Repeat("z", blob.ChunkSize+1))

	keys, err := h.HKeys(s, txn)
	if err != nil {
		t.Fatalf("HKeys failed: %v", err)
	}
	if strings.Join(keys, ",") != "a,b,c,z" {
		t.Errorf("HKeys = %v, want [a b c z]", keys)
	}

	pages, err := h.Pages(s, txn)
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if pages != 3 {
		t.Errorf("Pages = %d, want 3 (one leaf and two overflow pages)", pages)
	}
}

// =============================================================================
// Clear protocol
// =============================================================================

func TestHashValueClearIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	var h HashValue
	if err := h.Clear(s, txn); err != nil {
		t.Fatalf("Clear on an empty record failed: %v", err)
	}

	mustHSet(t, &h, s, txn, "x", "1")
	if err := h.Clear(s, txn); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := h.Clear(s, txn); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if !h.IsEmpty() {
		t.Errorf("record not empty after Clear: %+v", h)
	}
}

func TestHashValueClearLargeHashFreesEverything(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	baseline := store.usedPages()

	var h HashValue
	txn := store.begin(t)
	for i := 0; i < 2000; i++ {
		value := "v"
		if i%100 == 0 {
			value = strings.Repeat("o", 2*blob.ChunkSize)
		}
		mustHSet(t, &h, s, txn, fmt.Sprintf("field:%06d", i), value)
	}
	store.commit(t, txn)

	txn = store.begin(t)
	owned, err := h.Pages(s, txn)
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if got := store.usedPages() - baseline; got != uint64(owned) {
		t.Errorf("hash owns %d pages, store grew by %d", owned, got)
	}

	if err := h.Clear(s, txn); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	store.commit(t, txn)

	if used := store.usedPages(); used != baseline {
		t.Errorf("UsedPages = %d after Clear, want %d", used, baseline)
	}
}

func TestHashValueClearRollsBack(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()

	var h HashValue
	txn := store.begin(t)
	for i := 0; i < 300; i++ {
		mustHSet(t, &h, s, txn, fmt.Sprintf("f%03d", i), fmt.Sprintf("value %d", i))
	}
	store.commit(t, txn)
	used := store.usedPages()

	txn = store.begin(t)
	cleared := h
	if err := cleared.Clear(s, txn); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := store.tm.Rollback(txn); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if store.usedPages() != used {
		t.Errorf("UsedPages = %d after rollback, want %d", store.usedPages(), used)
	}

	txn = store.begin(t)
	if err := h.Verify(s, txn); err != nil {
		t.Fatalf("hash damaged by rolled back Clear: %v", err)
	}
	if got, _ := mustHGet(t, h, s, txn, "f123"); got != "value 123" {
		t.Errorf("HGet after rollback = %q", got)
	}
}

// =============================================================================
// Iteration
// =============================================================================

func TestHGetAllEmpty(t *testing.T) {
	store := newTestStore(t)
	txn := store.begin(t)

	it := HashValue{}.HGetAll(DefaultSizer(), txn)
	if it.Next() {
		t.Error("iterator over an empty hash yielded a field")
	}
	if it.Err() != nil {
		t.Errorf("Err() = %v", it.Err())
	}
}

func TestHGetAllOrderAndAbandon(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	var h HashValue
	for _, f := range []string{"delta", "alpha", "charlie", "bravo"} {
		mustHSet(t, &h, s, txn, f, strings.ToUpper(f))
	}

	it := h.HGetAll(s, txn)
	var order []string
	for it.Next() {
		if it.Value() != strings.ToUpper(it.Field()) {
			t.Errorf("value of %q = %q", it.Field(), it.Value())
		}
		order = append(order, it.Field())
	}
	if strings.Join(order, ",") != "alpha,bravo,charlie,delta" {
		t.Errorf("order = %v", order)
	}
	if it.Next() {
		t.Error("exhausted iterator restarted")
	}

	// Abandoning halfway leaves the transaction usable.
	partial := h.HGetAll(s, txn)
	partial.Next()
	partial.Close()
	if partial.Next() {
		t.Error("closed iterator yielded a field")
	}
	mustHSet(t, &h, s, txn, "echo", "ECHO")
}

func TestHGetAllBoundToTransaction(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	var h HashValue
	mustHSet(t, &h, s, txn, "a", "1")
	mustHSet(t, &h, s, txn, "b", "2")

	it := h.HGetAll(s, txn)
	if !it.Next() {
		t.Fatalf("first Next failed: %v", it.Err())
	}

	store.commit(t, txn)

	if it.Next() {
		t.Error("iterator continued after its transaction ended")
	}
	if !errors.Is(it.Err(), ErrTransactionEnded) {
		t.Errorf("Err() = %v, want ErrTransactionEnded", it.Err())
	}
}

func TestNestedTreeMagicIsChecked(t *testing.T) {
	store := newTestStore(t)
	s := DefaultSizer()
	txn := store.begin(t)

	// A record pointing at a tree of another value type must not be misread.
	outer, err := btree.Create(txn, s)
	if err != nil {
		t.Fatalf("btree.Create failed: %v", err)
	}
	bogus := HashValue{NestedRoot: outer.Root(), Size: 1}

	if _, _, err := bogus.HGet(s, txn, "x"); !errors.Is(err, btree.ErrMagicMismatch) {
		t.Errorf("HGet error = %v, want ErrMagicMismatch", err)
	}
}
