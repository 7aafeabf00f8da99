package hash

import (
	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/blob"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/btree"
)

// Encoded sizes.
const (
	// ValueSize is the encoded size of a HashValue: an 8-byte root page ID
	// followed by a 4-byte field count.
	ValueSize = 12

	// NestedValueSize is the encoded size of a NestedStringValue.
	NestedValueSize = blob.RefSize

	// MaxFieldSize is the longest field name a hash accepts.
	MaxFieldSize = btree.MaxKeySize
)

// Leaf tags. Outer-tree leaves holding hash records and nested-tree leaves
// holding field values carry different tags so neither can be opened as
// the other.
var (
	LeafMagic       = btree.BlockMagic{'l', 'r', 'e', 'h'}
	NestedLeafMagic = btree.BlockMagic{'l', 'r', 'n', 's'}
)

// Sizer describes HashValue records to the outer tree. It also carries the
// blob options used when field values are written, so every operation on a
// hash takes one.
type Sizer struct {
	blockSize int
	blob      blob.Options
}

// NewSizer returns a sizer for the given block size with uncompressed blobs.
func NewSizer(blockSize int) *Sizer {
	return &Sizer{blockSize: blockSize, blob: blob.DefaultOptions()}
}

// DefaultSizer returns a sizer for the store's page size.
func DefaultSizer() *Sizer {
	return NewSizer(storage.PageSize)
}

// WithBlobOptions returns a copy of the sizer that writes values with opts.
func (s *Sizer) WithBlobOptions(opts blob.Options) *Sizer {
	c := *s
	c.blob = opts
	return &c
}

// BlobOptions returns the options used for field values.
func (s *Sizer) BlobOptions() blob.Options {
	return s.blob
}

// Size is fixed; the number of fields never changes the record length.
func (s *Sizer) Size(value []byte) int {
	return ValueSize
}

// Fits reports whether a record fits in available bytes.
func (s *Sizer) Fits(value []byte, available int) bool {
	return s.Size(value) <= available
}

// MaxPossibleSize returns ValueSize.
func (s *Sizer) MaxPossibleSize() int {
	return ValueSize
}

// LeafMagic tags leaves of the outer keyspace tree.
func (s *Sizer) LeafMagic() btree.BlockMagic {
	return LeafMagic
}

// BlockSize returns the page size the sizer was built for.
func (s *Sizer) BlockSize() int {
	return s.blockSize
}

// Nested returns the sizer of the nested trees holding the fields.
func (s *Sizer) Nested() NestedSizer {
	return NestedSizer{blockSize: s.blockSize}
}

// NestedSizer describes NestedStringValue entries to a nested tree.
type NestedSizer struct {
	blockSize int
}

// Size returns NestedValueSize for every entry.
func (s NestedSizer) Size(value []byte) int {
	return NestedValueSize
}

// Fits reports whether an entry fits in available bytes.
func (s NestedSizer) Fits(value []byte, available int) bool {
	return NestedValueSize <= available
}

// MaxPossibleSize returns NestedValueSize.
func (s NestedSizer) MaxPossibleSize() int {
	return NestedValueSize
}

// LeafMagic tags leaves of nested field trees.
func (s NestedSizer) LeafMagic() btree.BlockMagic {
	return NestedLeafMagic
}

// BlockSize returns the page size of the nested trees.
func (s NestedSizer) BlockSize() int {
	return s.blockSize
}

var (
	_ btree.ValueSizer = (*Sizer)(nil)
	_ btree.ValueSizer = NestedSizer{}
)
