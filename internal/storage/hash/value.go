package hash

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/btree"
)

// Hash value errors.
var (
	ErrInvalidValue     = errors.New("invalid hash value")
	ErrSizeMismatch     = errors.New("hash size does not match its fields")
	ErrTransactionEnded = errors.New("transaction has ended")
)

// Txn is the transaction every hash operation runs in. *tx.Transaction
// implements it.
type Txn interface {
	storage.Pager

	// IsActive reports whether the transaction can still be used.
	IsActive() bool
}

// HashValue is the fixed-size record the outer tree stores for a hash key.
// The fields live in a nested tree rooted at NestedRoot; Size caches how
// many there are.
//
// An empty hash owns no pages: Size == 0 exactly when NestedRoot is
// InvalidPageID. The first HSet creates the nested tree and the HDel that
// removes the last field frees it.
//
// HashValue is not safe for concurrent use. Mutating methods must run in the
// writable transaction that owns the record, and a failed mutation leaves
// that transaction in a state that must be rolled back.
type HashValue struct {
	NestedRoot storage.PageID
	Size       uint32
}

// Encode returns the ValueSize-byte encoding.
func (v HashValue) Encode() []byte {
	buf := make([]byte, ValueSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.NestedRoot))
	binary.LittleEndian.PutUint32(buf[8:12], v.Size)
	return buf
}

// DecodeHashValue parses an encoded record.
func DecodeHashValue(buf []byte) (HashValue, error) {
	if len(buf) != ValueSize {
		return HashValue{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidValue, len(buf), ValueSize)
	}

	v := HashValue{
		NestedRoot: storage.PageID(binary.LittleEndian.Uint64(buf[0:8])),
		Size:       binary.LittleEndian.Uint32(buf[8:12]),
	}
	if (v.Size == 0) != (v.NestedRoot == storage.InvalidPageID) {
		return HashValue{}, fmt.Errorf("%w: root %d with %d fields", ErrInvalidValue, v.NestedRoot, v.Size)
	}
	return v, nil
}

// IsEmpty reports whether the hash has no fields and owns no pages.
func (v HashValue) IsEmpty() bool {
	return v.NestedRoot == storage.InvalidPageID
}

// DoesFieldFit reports whether field is short enough to be stored.
// HSet and HDel expect callers to check this first.
func (v HashValue) DoesFieldFit(field string) bool {
	return len(field) <= MaxFieldSize
}

// HLen returns the number of fields without touching the nested tree.
func (v HashValue) HLen() int {
	return int(v.Size)
}

func (v HashValue) open(s *Sizer, txn Txn) (*btree.Tree, error) {
	return btree.Open(txn, v.NestedRoot, s.Nested())
}

// lookup returns the nested entry stored for field.
func (v HashValue) lookup(s *Sizer, txn Txn, field string) (NestedStringValue, bool, error) {
	if v.IsEmpty() {
		return NestedStringValue{}, false, nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return NestedStringValue{}, false, err
	}
	raw, found, err := tree.Get([]byte(field))
	if err != nil || !found {
		return NestedStringValue{}, false, err
	}

	nested, err := DecodeNestedStringValue(raw)
	if err != nil {
		return NestedStringValue{}, false, err
	}
	return nested, true, nil
}

// HGet returns the value of field. A missing field is reported through ok.
func (v HashValue) HGet(s *Sizer, txn Txn, field string) (value string, ok bool, err error) {
	nested, found, err := v.lookup(s, txn, field)
	if err != nil || !found {
		return "", false, err
	}

	raw, err := nested.Read(txn)
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// HExists reports whether field is set without reading its value.
func (v HashValue) HExists(s *Sizer, txn Txn, field string) (bool, error) {
	if v.IsEmpty() {
		return false, nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return false, err
	}
	return tree.Has([]byte(field))
}

// HStrLen returns the length of field's value, 0 if it is not set.
func (v HashValue) HStrLen(s *Sizer, txn Txn, field string) (int64, error) {
	nested, _, err := v.lookup(s, txn, field)
	if err != nil {
		return 0, err
	}
	return nested.Len(), nil
}

// HGetRange returns up to n bytes of field's value starting at offset.
// Long values only read the overflow pages covering the range.
func (v HashValue) HGetRange(s *Sizer, txn Txn, field string, offset, n int64) (string, bool, error) {
	nested, found, err := v.lookup(s, txn, field)
	if err != nil || !found {
		return "", false, err
	}

	raw, err := nested.ReadAt(txn, offset, n)
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// HSet stores value under field and reports whether the field is new.
// Overwriting releases the blob of the previous value.
func (v *HashValue) HSet(s *Sizer, txn Txn, field, value string) (created bool, err error) {
	var tree *btree.Tree
	if v.IsEmpty() {
		tree, err = btree.Create(txn, s.Nested())
	} else {
		tree, err = v.open(s, txn)
	}
	if err != nil {
		return false, err
	}

	nested, err := writeNestedValue(txn, []byte(value), s.blob)
	if err != nil {
		return false, err
	}

	created, old, err := tree.Put([]byte(field), nested.Encode())
	if err != nil {
		return false, err
	}

	if !created {
		prev, err := DecodeNestedStringValue(old)
		if err != nil {
			return false, err
		}
		if err := prev.release(txn); err != nil {
			return false, err
		}
	}

	v.NestedRoot = tree.Root()
	if created {
		v.Size++
	}
	return created, nil
}

// HDel removes field and reports whether it was set. Deleting the last
// field frees the nested tree.
func (v *HashValue) HDel(s *Sizer, txn Txn, field string) (deleted bool, err error) {
	if v.IsEmpty() {
		return false, nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return false, err
	}

	old, found, err := tree.Delete([]byte(field))
	if err != nil || !found {
		return false, err
	}

	nested, err := DecodeNestedStringValue(old)
	if err != nil {
		return false, err
	}
	if err := nested.release(txn); err != nil {
		return false, err
	}

	if v.Size == 1 {
		if err := tree.Destroy(nil); err != nil {
			return false, err
		}
		*v = HashValue{}
		return true, nil
	}

	v.NestedRoot = tree.Root()
	v.Size--
	return true, nil
}

// Clear frees every page of the nested tree and every overflow page its
// values reference, leaving the record empty. Clearing an empty record is
// a no-op.
//
// The frees go through txn, so a transaction that rolls back after Clear
// keeps the hash intact. A record must be cleared before the outer tree
// drops it; Keyspace.Remove only accepts a ClearedKey for that reason.
func (v *HashValue) Clear(s *Sizer, txn Txn) error {
	if v.IsEmpty() {
		return nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return err
	}

	err = tree.Destroy(func(_, raw []byte) error {
		nested, err := DecodeNestedStringValue(raw)
		if err != nil {
			return err
		}
		return nested.release(txn)
	})
	if err != nil {
		return err
	}

	*v = HashValue{}
	return nil
}

// HKeys returns the field names in ascending order.
func (v HashValue) HKeys(s *Sizer, txn Txn) ([]string, error) {
	if v.IsEmpty() {
		return nil, nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, v.Size)
	it := tree.Iterator()
	defer it.Close()
	for {
		key, _, ok := it.Next()
		if !ok {
			break
		}
		fields = append(fields, string(key))
	}
	return fields, it.Err()
}

// Pages returns the number of pages the hash owns: nested-tree nodes plus
// the overflow pages of its values.
func (v HashValue) Pages(s *Sizer, txn Txn) (int, error) {
	if v.IsEmpty() {
		return 0, nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return 0, err
	}
	stats, err := tree.Stats()
	if err != nil {
		return 0, err
	}

	pages := stats.Pages()
	it := tree.Iterator()
	defer it.Close()
	for {
		_, raw, ok := it.Next()
		if !ok {
			break
		}
		nested, err := DecodeNestedStringValue(raw)
		if err != nil {
			return 0, err
		}
		pages += nested.Ref.Pages()
	}
	return pages, it.Err()
}

// Verify checks the nested tree's structure and that Size matches the
// number of fields.
func (v HashValue) Verify(s *Sizer, txn Txn) error {
	if v.IsEmpty() {
		return nil
	}

	tree, err := v.open(s, txn)
	if err != nil {
		return err
	}
	if err := tree.CheckInvariants(); err != nil {
		return err
	}

	n, err := tree.Iterator().Count()
	if err != nil {
		return err
	}
	if n != int(v.Size) {
		return fmt.Errorf("%w: size %d, %d fields", ErrSizeMismatch, v.Size, n)
	}
	return nil
}
