package hash

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
)

// ErrInvalidNestedValue is returned for a nested entry that cannot be decoded.
var ErrInvalidNestedValue = errors.New("invalid nested string value")

// NestedStringValue is the entry stored under each field of a nested tree.
// It holds a blob reference, never the value bytes themselves, so values of
// any length fit the tree's fixed-size slots.
type NestedStringValue struct {
	Ref blob.Ref
}

// writeNestedValue stores value as a blob and returns the entry for it.
func writeNestedValue(p storage.Pager, value []byte, opts blob.Options) (NestedStringValue, error) {
	ref, err := blob.Write(p, value, opts)
	if err != nil {
		return NestedStringValue{}, err
	}
	return NestedStringValue{Ref: ref}, nil
}

// Encode returns the NestedValueSize-byte encoding.
func (v NestedStringValue) Encode() []byte {
	return v.Ref.Encode()
}

// DecodeNestedStringValue parses an encoded entry. The result does not
// alias buf.
func DecodeNestedStringValue(buf []byte) (NestedStringValue, error) {
	if len(buf) != NestedValueSize {
		return NestedStringValue{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidNestedValue, len(buf), NestedValueSize)
	}
	ref, err := blob.DecodeRef(buf)
	if err != nil {
		return NestedStringValue{}, fmt.Errorf("%w: %w", ErrInvalidNestedValue, err)
	}
	return NestedStringValue{Ref: ref}, nil
}

// Len returns the value length in bytes.
func (v NestedStringValue) Len() int64 {
	return v.Ref.ValueSize()
}

// Read resolves the whole value.
func (v NestedStringValue) Read(p storage.Pager) ([]byte, error) {
	return v.Ref.Read(p)
}

// ReadAt resolves n bytes of the value starting at offset.
func (v NestedStringValue) ReadAt(p storage.Pager, offset, n int64) ([]byte, error) {
	return v.Ref.ReadAt(p, offset, n)
}

// release frees the overflow pages behind the value.
func (v NestedStringValue) release(p storage.Pager) error {
	return blob.Clear(p, v.Ref)
}
