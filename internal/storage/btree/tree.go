package btree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Tree errors.
var (
	ErrTreeNotInitialized = errors.New("b+ tree not initialized")
	ErrInvalidPager       = errors.New("invalid pager")
	ErrInvalidSizer       = errors.New("invalid value sizer")
	ErrBlockSizeMismatch  = errors.New("value sizer block size does not match page size")
	ErrInvalidNode        = errors.New("invalid node")
)

// Tree is a B+ tree of unique byte keys stored in pages obtained from a
// storage.Pager. Values are opaque byte strings whose on-disk length is
// defined by the tree's ValueSizer.
//
// The root page can move when the root splits or collapses; callers that
// persist the tree must store Root() after every mutation.
//
// A Tree is not safe for concurrent use. Inside nestkv it lives for the
// duration of one transaction.
type Tree struct {
	root  storage.PageID
	pager storage.Pager
	sizer ValueSizer
}

// Create allocates an empty leaf root and returns the new tree.
func Create(p storage.Pager, sizer ValueSizer) (*Tree, error) {
	if err := validateSizer(p, sizer); err != nil {
		return nil, err
	}

	t := &Tree{pager: p, sizer: sizer}

	root, err := t.allocateNode(true)
	if err != nil {
		return nil, err
	}
	if err := t.writeNode(root); err != nil {
		return nil, err
	}
	t.root = root.PageID

	return t, nil
}

// Open loads the tree rooted at root.
func Open(p storage.Pager, root storage.PageID, sizer ValueSizer) (*Tree, error) {
	if err := validateSizer(p, sizer); err != nil {
		return nil, err
	}
	if root == InvalidPageID {
		return nil, ErrTreeNotInitialized
	}

	t := &Tree{root: root, pager: p, sizer: sizer}

	if _, err := t.readNode(root); err != nil {
		return nil, err
	}

	return t, nil
}

func validateSizer(p storage.Pager, sizer ValueSizer) error {
	if p == nil {
		return ErrInvalidPager
	}
	if sizer == nil {
		return ErrInvalidSizer
	}
	if sizer.BlockSize() != storage.PageSize {
		return fmt.Errorf("%w: %d != %d", ErrBlockSizeMismatch, sizer.BlockSize(), storage.PageSize)
	}
	// Splits and merges assume any four entries fit in a node.
	if KeyLengthSize+MaxKeySize+sizer.MaxPossibleSize() > (NodeCapacity-NodeHeaderSize)/4 {
		return fmt.Errorf("%w: max value size %d too large", ErrInvalidSizer, sizer.MaxPossibleSize())
	}
	return nil
}

// Root returns the root page ID of the tree.
func (t *Tree) Root() storage.PageID {
	return t.root
}

// Sizer returns the tree's value sizer.
func (t *Tree) Sizer() ValueSizer {
	return t.sizer
}

// IsEmpty returns true if the tree has no keys.
func (t *Tree) IsEmpty() (bool, error) {
	node, err := t.readNode(t.root)
	if err != nil {
		return false, err
	}
	return node.IsLeaf && len(node.Keys) == 0, nil
}

// readNode reads a node through the pager.
func (t *Tree) readNode(pageID storage.PageID) (*Node, error) {
	if pageID == InvalidPageID {
		return nil, ErrTreeNotInitialized
	}

	page, err := t.pager.ReadPage(pageID)
	if err != nil {
		return nil, err
	}

	return NewNodeFromPage(page, t.sizer)
}

// writeNode writes a node through the pager.
func (t *Tree) writeNode(node *Node) error {
	if node == nil || node.PageID == InvalidPageID {
		return ErrInvalidNode
	}

	page := storage.NewPage(node.PageID, storage.PageTypeBTree)
	if err := node.SerializeToPage(page, t.sizer.LeafMagic()); err != nil {
		return err
	}

	return t.pager.WritePage(page)
}

// allocateNode allocates a new page and creates a node.
func (t *Tree) allocateNode(isLeaf bool) (*Node, error) {
	pageID, err := t.pager.AllocatePage(storage.PageTypeBTree)
	if err != nil {
		return nil, err
	}

	if isLeaf {
		return NewLeafNode(pageID), nil
	}
	return NewInternalNode(pageID), nil
}

// findLeafWithPath finds the leaf that covers key and returns the path from
// root to leaf.
func (t *Tree) findLeafWithPath(key []byte) ([]*Node, error) {
	node, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}
	path := []*Node{node}

	for !node.IsLeaf {
		if len(node.Children) == 0 {
			return nil, ErrInvalidNode
		}
		node, err = t.readNode(node.Children[node.ChildIndexForKey(key)])
		if err != nil {
			return nil, err
		}
		path = append(path, node)
	}

	return path, nil
}

// findLeftmostLeaf finds the leftmost leaf node in the tree.
func (t *Tree) findLeftmostLeaf() (*Node, error) {
	node, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}

	for !node.IsLeaf {
		if len(node.Children) == 0 {
			return nil, ErrInvalidNode
		}
		node, err = t.readNode(node.Children[0])
		if err != nil {
			return nil, err
		}
	}

	return node, nil
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	if len(key) > MaxKeySize {
		return nil, false, nil
	}

	path, err := t.findLeafWithPath(key)
	if err != nil {
		return nil, false, err
	}

	leaf := path[len(path)-1]
	idx, found := leaf.FindKeyIndex(key)
	if !found {
		return nil, false, nil
	}
	return leaf.Values[idx], true, nil
}

// Has reports whether key is present.
func (t *Tree) Has(key []byte) (bool, error) {
	_, found, err := t.Get(key)
	return found, err
}

// Destroy frees every node of the tree. onValue, if not nil, is called for
// each entry before the leaf holding it is freed, so callers can release
// whatever the values reference. The tree is unusable afterwards.
func (t *Tree) Destroy(onValue func(key, value []byte) error) error {
	if t.root == InvalidPageID {
		return nil
	}
	if err := t.destroyNode(t.root, onValue); err != nil {
		return err
	}
	t.root = InvalidPageID
	return nil
}

func (t *Tree) destroyNode(pageID storage.PageID, onValue func(key, value []byte) error) error {
	node, err := t.readNode(pageID)
	if err != nil {
		return err
	}

	if node.IsLeaf {
		if onValue != nil {
			for i, key := range node.Keys {
				if err := onValue(key, node.Values[i]); err != nil {
					return err
				}
			}
		}
	} else {
		for _, child := range node.Children {
			if err := t.destroyNode(child, onValue); err != nil {
				return err
			}
		}
	}

	return t.pager.FreePage(pageID)
}

// TreeStats holds statistics about the B+ tree.
type TreeStats struct {
	Height        int
	InternalNodes int
	LeafNodes     int
	TotalKeys     int
	Bytes         int // serialized bytes across all nodes
}

// Pages returns the number of pages the tree occupies.
func (s TreeStats) Pages() int {
	return s.InternalNodes + s.LeafNodes
}

// Stats walks the whole tree and returns its statistics.
func (t *Tree) Stats() (TreeStats, error) {
	var stats TreeStats
	err := t.walk(t.root, 1, func(node *Node, depth int) error {
		stats.Height = max(stats.Height, depth)
		stats.Bytes += node.SerializedSize()
		if node.IsLeaf {
			stats.LeafNodes++
			stats.TotalKeys += len(node.Keys)
		} else {
			stats.InternalNodes++
		}
		return nil
	})
	return stats, err
}

func (t *Tree) walk(pageID storage.PageID, depth int, fn func(*Node, int) error) error {
	node, err := t.readNode(pageID)
	if err != nil {
		return err
	}
	if err := fn(node, depth); err != nil {
		return err
	}
	for _, child := range node.Children {
		if err := t.walk(child, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// CheckInvariants verifies the structure of the whole tree: key order,
// separator bounds, uniform leaf depth, node sizes and the leaf chain.
func (t *Tree) CheckInvariants() error {
	var leaves []*Node
	leafDepth := 0

	var check func(pageID storage.PageID, depth int, lo, hi []byte) error
	check = func(pageID storage.PageID, depth int, lo, hi []byte) error {
		node, err := t.readNode(pageID)
		if err != nil {
			return err
		}
		if !node.FitsInPage() {
			return fmt.Errorf("node %d: %w", pageID, ErrNodeTooLarge)
		}
		for i, key := range node.Keys {
			if i > 0 && bytes.Compare(node.Keys[i-1], key) >= 0 {
				return fmt.Errorf("node %d: keys out of order at %d", pageID, i)
			}
			if lo != nil && bytes.Compare(key, lo) < 0 {
				return fmt.Errorf("node %d: key %q below bound %q", pageID, key, lo)
			}
			if hi != nil && bytes.Compare(key, hi) >= 0 {
				return fmt.Errorf("node %d: key %q not below bound %q", pageID, key, hi)
			}
		}

		if node.IsLeaf {
			if leafDepth == 0 {
				leafDepth = depth
			} else if depth != leafDepth {
				return fmt.Errorf("leaf %d at depth %d, expected %d", pageID, depth, leafDepth)
			}
			leaves = append(leaves, node)
			return nil
		}

		if len(node.Children) != len(node.Keys)+1 {
			return fmt.Errorf("node %d: %w", pageID, ErrInvalidChildCount)
		}
		for i, child := range node.Children {
			clo, chi := lo, hi
			if i > 0 {
				clo = node.Keys[i-1]
			}
			if i < len(node.Keys) {
				chi = node.Keys[i]
			}
			if err := check(child, depth+1, clo, chi); err != nil {
				return err
			}
		}
		return nil
	}

	if err := check(t.root, 1, nil, nil); err != nil {
		return err
	}

	for i, leaf := range leaves {
		var prev, next storage.PageID
		if i > 0 {
			prev = leaves[i-1].PageID
		}
		if i+1 < len(leaves) {
			next = leaves[i+1].PageID
		}
		if leaf.Prev != prev || leaf.Next != next {
			return fmt.Errorf("leaf %d: links (%d, %d), expected (%d, %d)", leaf.PageID, leaf.Prev, leaf.Next, prev, next)
		}
	}
	return nil
}
