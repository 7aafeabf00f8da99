package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Serialization constants.
const (
	// NodeHeaderSize is the size of the node header in bytes.
	// Layout:
	//   - Bytes 0-3:   Magic (leaf: sizer magic, internal: "intr")
	//   - Byte 4:      IsLeaf (uint8, 0 or 1)
	//   - Bytes 5-6:   KeyCount (uint16)
	//   - Bytes 7-14:  NextLeaf (PageID/uint64)
	//   - Bytes 15-22: PrevLeaf (PageID/uint64)
	//   - Byte 23:     Reserved
	NodeHeaderSize = 24

	// MaxKeySize is the maximum size of a single key in bytes.
	MaxKeySize = 250

	// KeyLengthSize is the size of the key length prefix.
	KeyLengthSize = 2

	// PageIDSize is the size of a PageID in bytes.
	PageIDSize = 8

	// NodeCapacity is the number of bytes a serialized node may occupy.
	NodeCapacity = storage.PageDataSize
)

// Serialization errors.
var (
	ErrKeyTooLarge       = errors.New("key exceeds maximum size")
	ErrInvalidValue      = errors.New("value does not match its sizer")
	ErrNodeTooLarge      = errors.New("node data exceeds page size")
	ErrCorruptedNode     = errors.New("corrupted node data")
	ErrMagicMismatch     = errors.New("node magic does not match")
	ErrInvalidChildCount = errors.New("invalid child count for internal node")
)

// SerializedSize calculates the serialized size of the node.
func (n *Node) SerializedSize() int {
	size := NodeHeaderSize

	for _, key := range n.Keys {
		size += KeyLengthSize + len(key)
	}

	if n.IsLeaf {
		for _, v := range n.Values {
			size += len(v)
		}
	} else {
		size += len(n.Children) * PageIDSize
	}

	return size
}

// FitsInPage returns true if the node can be serialized within a page.
func (n *Node) FitsInPage() bool {
	return n.SerializedSize() <= NodeCapacity
}

// Serialize writes the node to buf, tagging leaves with leafMagic.
// Returns the number of bytes written.
func (n *Node) Serialize(buf []byte, leafMagic BlockMagic) (int, error) {
	if len(buf) < n.SerializedSize() {
		return 0, ErrNodeTooLarge
	}

	for _, key := range n.Keys {
		if len(key) > MaxKeySize {
			return 0, ErrKeyTooLarge
		}
	}

	if !n.IsLeaf && len(n.Children) != len(n.Keys)+1 {
		return 0, ErrInvalidChildCount
	}

	if n.IsLeaf && len(n.Values) != len(n.Keys) {
		return 0, ErrCorruptedNode
	}

	magic := InternalMagic
	if n.IsLeaf {
		magic = leafMagic
	}
	copy(buf[0:4], magic[:])

	buf[4] = 0
	if n.IsLeaf {
		buf[4] = 1
	}
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(n.Keys)))
	binary.LittleEndian.PutUint64(buf[7:15], uint64(n.Next))
	binary.LittleEndian.PutUint64(buf[15:23], uint64(n.Prev))
	buf[23] = 0

	offset := NodeHeaderSize
	for i, key := range n.Keys {
		binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(len(key)))
		offset += KeyLengthSize
		offset += copy(buf[offset:], key)

		if n.IsLeaf {
			offset += copy(buf[offset:], n.Values[i])
		}
	}

	if !n.IsLeaf {
		for _, child := range n.Children {
			binary.LittleEndian.PutUint64(buf[offset:offset+8], uint64(child))
			offset += PageIDSize
		}
	}

	return offset, nil
}

// Deserialize reads a node from buf. Leaf values are measured with sizer and
// the leaf magic must match sizer.LeafMagic().
func (n *Node) Deserialize(buf []byte, pageID storage.PageID, sizer ValueSizer) error {
	if len(buf) < NodeHeaderSize {
		return ErrCorruptedNode
	}

	magic := BlockMagic(buf[0:4])
	n.IsLeaf = buf[4] == 1
	keyCount := int(binary.LittleEndian.Uint16(buf[5:7]))
	n.Next = storage.PageID(binary.LittleEndian.Uint64(buf[7:15]))
	n.Prev = storage.PageID(binary.LittleEndian.Uint64(buf[15:23]))
	n.PageID = pageID

	want := InternalMagic
	if n.IsLeaf {
		want = sizer.LeafMagic()
	}
	if magic != want {
		return fmt.Errorf("%w: page %d has %q, want %q", ErrMagicMismatch, pageID, magic, want)
	}

	n.Keys = make([][]byte, keyCount)
	if n.IsLeaf {
		n.Values = make([][]byte, keyCount)
		n.Children = nil
	} else {
		n.Values = nil
	}

	offset := NodeHeaderSize
	for i := 0; i < keyCount; i++ {
		if offset+KeyLengthSize > len(buf) {
			return ErrCorruptedNode
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		offset += KeyLengthSize

		if keyLen > MaxKeySize {
			return ErrKeyTooLarge
		}
		if offset+keyLen > len(buf) {
			return ErrCorruptedNode
		}
		n.Keys[i] = append([]byte{}, buf[offset:offset+keyLen]...)
		offset += keyLen

		if n.IsLeaf {
			size := sizer.Size(buf[offset:])
			if size <= 0 || size > sizer.MaxPossibleSize() || offset+size > len(buf) {
				return ErrCorruptedNode
			}
			n.Values[i] = append([]byte{}, buf[offset:offset+size]...)
			offset += size
		}
	}

	if !n.IsLeaf {
		n.Children = make([]storage.PageID, keyCount+1)
		for i := range n.Children {
			if offset+PageIDSize > len(buf) {
				return ErrCorruptedNode
			}
			n.Children[i] = storage.PageID(binary.LittleEndian.Uint64(buf[offset : offset+8]))
			offset += PageIDSize
		}
	}

	return nil
}

// SerializeToPage serializes the node into a storage page.
func (n *Node) SerializeToPage(page *storage.Page, leafMagic BlockMagic) error {
	if !n.FitsInPage() {
		return ErrNodeTooLarge
	}

	clear(page.Data)

	if _, err := n.Serialize(page.Data, leafMagic); err != nil {
		return err
	}

	page.Header.PageType = storage.PageTypeBTree
	page.Header.ItemCount = uint16(len(n.Keys))
	if n.IsLeaf {
		page.Header.SetLeaf()
	} else {
		page.Header.ClearLeaf()
	}
	page.Header.FreeSpace = uint16(NodeCapacity - n.SerializedSize())

	return nil
}

// NewNodeFromPage decodes a node from a storage page.
func NewNodeFromPage(page *storage.Page, sizer ValueSizer) (*Node, error) {
	if page.Header.PageType != storage.PageTypeBTree {
		return nil, fmt.Errorf("%w: page %d is %s", ErrCorruptedNode, page.Header.PageID, page.Header.PageType)
	}

	node := &Node{}
	if err := node.Deserialize(page.Data, page.Header.PageID, sizer); err != nil {
		return nil, err
	}
	return node, nil
}
