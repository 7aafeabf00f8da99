// Package btree provides a page-backed B+ tree with pluggable value encoding.
package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// InvalidPageID represents an invalid or null page reference.
const InvalidPageID = storage.InvalidPageID

// BlockMagic is the 4-byte tag written at the start of every node. Leaf
// nodes carry the tag of their ValueSizer so a tree opened with the wrong
// value encoding fails instead of misreading its leaves.
type BlockMagic [4]byte

// String returns the magic as printable text.
func (m BlockMagic) String() string {
	return string(m[:])
}

// InternalMagic tags internal nodes of every tree.
var InternalMagic = BlockMagic{'i', 'n', 't', 'r'}

// ValueSizer describes how leaf values are laid out on disk.
type ValueSizer interface {
	// Size returns the encoded length of the value that starts at value[0].
	// value may extend past the end of the encoded value.
	Size(value []byte) int

	// Fits reports whether the value fits in available bytes.
	Fits(value []byte, available int) bool

	// MaxPossibleSize is an upper bound of Size for any value.
	MaxPossibleSize() int

	// LeafMagic is the tag written into every leaf node.
	LeafMagic() BlockMagic

	// BlockSize is the block size the sizer was configured for. It must
	// match the page size of the store.
	BlockSize() int
}

// Node represents a node in the B+ Tree.
// It can be either an internal node (keys and child pointers)
// or a leaf node (keys and values).
type Node struct {
	// IsLeaf indicates whether this is a leaf node.
	IsLeaf bool

	// Keys are kept in ascending byte order.
	// For internal nodes: Keys[i] is the smallest key reachable through Children[i+1].
	// For leaf nodes: Keys[i] corresponds to Values[i].
	Keys [][]byte

	// Children contains child page IDs (only used in internal nodes).
	// len(Children) = len(Keys) + 1 for internal nodes.
	Children []storage.PageID

	// Values contains encoded values (only used in leaf nodes).
	Values [][]byte

	// Next and Prev link leaves in key order. InvalidPageID at either end.
	Next storage.PageID
	Prev storage.PageID

	// PageID is the page ID where this node is stored.
	PageID storage.PageID
}

// NewInternalNode creates a new internal (non-leaf) node.
func NewInternalNode(pageID storage.PageID) *Node {
	return &Node{
		IsLeaf:   false,
		Keys:     make([][]byte, 0),
		Children: make([]storage.PageID, 0),
		PageID:   pageID,
	}
}

// NewLeafNode creates a new leaf node.
func NewLeafNode(pageID storage.PageID) *Node {
	return &Node{
		IsLeaf: true,
		Keys:   make([][]byte, 0),
		Values: make([][]byte, 0),
		PageID: pageID,
	}
}

// KeyCount returns the number of keys in the node.
func (n *Node) KeyCount() int {
	return len(n.Keys)
}

// InsertEntryAt inserts a key and value into a leaf at the given index.
func (n *Node) InsertEntryAt(index int, key, value []byte) {
	n.Keys = insertAt(n.Keys, index, bytes.Clone(key))
	n.Values = insertAt(n.Values, index, bytes.Clone(value))
}

// InsertChildAt inserts a separator key at index and the child to its right
// into an internal node.
func (n *Node) InsertChildAt(index int, key []byte, child storage.PageID) {
	n.Keys = insertAt(n.Keys, index, bytes.Clone(key))
	n.Children = insertAt(n.Children, index+1, child)
}

// RemoveKeyAt removes the key at index together with its value (leaf) or
// the child to its right (internal).
func (n *Node) RemoveKeyAt(index int) {
	n.Keys = append(n.Keys[:index], n.Keys[index+1:]...)
	if n.IsLeaf {
		n.Values = append(n.Values[:index], n.Values[index+1:]...)
	} else {
		n.Children = append(n.Children[:index+1], n.Children[index+2:]...)
	}
}

func insertAt[T any](s []T, index int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[index+1:], s[index:])
	s[index] = v
	return s
}

// FindKeyIndex returns the index where the key should be inserted
// or the index of the key if it exists.
// Returns (index, found) where found is true if the exact key exists.
func (n *Node) FindKeyIndex(key []byte) (int, bool) {
	low, high := 0, len(n.Keys)

	for low < high {
		mid := (low + high) / 2
		cmp := bytes.Compare(n.Keys[mid], key)
		if cmp < 0 {
			low = mid + 1
		} else if cmp > 0 {
			high = mid
		} else {
			return mid, true
		}
	}

	return low, false
}

// ChildIndexForKey returns the index of the child that covers key.
// Only valid for internal nodes.
func (n *Node) ChildIndexForKey(key []byte) int {
	idx, found := n.FindKeyIndex(key)
	if found {
		idx++
	}
	return idx
}

// ChildIndex returns the position of child in Children, or -1.
func (n *Node) ChildIndex(child storage.PageID) int {
	for i, c := range n.Children {
		if c == child {
			return i
		}
	}
	return -1
}
