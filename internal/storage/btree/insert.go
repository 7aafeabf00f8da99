package btree

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Put stores value under key, replacing any previous value.
// It reports whether the key is new and returns the replaced value.
//
// Algorithm:
// 1. Find the leaf node for the key
// 2. Insert or replace the entry in sorted order
// 3. If the leaf no longer fits its page, split it by bytes
// 4. Propagate the split up to the parent
// 5. If the root splits, create a new root
func (t *Tree) Put(key, value []byte) (bool, []byte, error) {
	if len(key) > MaxKeySize {
		return false, nil, ErrKeyTooLarge
	}
	if len(value) == 0 || t.sizer.Size(value) != len(value) || len(value) > t.sizer.MaxPossibleSize() {
		return false, nil, fmt.Errorf("%w: %d bytes", ErrInvalidValue, len(value))
	}

	path, err := t.findLeafWithPath(key)
	if err != nil {
		return false, nil, err
	}

	leaf := path[len(path)-1]
	idx, found := leaf.FindKeyIndex(key)

	if found {
		old := leaf.Values[idx]
		if bytes.Equal(old, value) {
			return false, old, nil
		}
		leaf.Values[idx] = bytes.Clone(value)
		return false, old, t.settle(path, len(path)-1)
	}

	leaf.InsertEntryAt(idx, key, value)
	return true, nil, t.settle(path, len(path)-1)
}

// splitNode splits an oversized node at its byte midpoint.
// Returns the new right node and the key to promote to the parent.
func (t *Tree) splitNode(node *Node) (*Node, []byte, error) {
	right, err := t.allocateNode(node.IsLeaf)
	if err != nil {
		return nil, nil, err
	}

	if node.IsLeaf {
		at := splitPoint(node)
		right.Keys = append(right.Keys, node.Keys[at:]...)
		right.Values = append(right.Values, node.Values[at:]...)
		node.Keys = node.Keys[:at:at]
		node.Values = node.Values[:at:at]

		right.Next = node.Next
		right.Prev = node.PageID
		node.Next = right.PageID

		if right.Next != InvalidPageID {
			next, err := t.readNode(right.Next)
			if err != nil {
				return nil, nil, err
			}
			next.Prev = right.PageID
			if err := t.writeNode(next); err != nil {
				return nil, nil, err
			}
		}

		return right, bytes.Clone(right.Keys[0]), nil
	}

	// The middle key moves up; it stays in neither half.
	at := splitPoint(node)
	promoted := node.Keys[at]
	right.Keys = append(right.Keys, node.Keys[at+1:]...)
	right.Children = append(right.Children, node.Children[at+1:]...)
	node.Keys = node.Keys[:at:at]
	node.Children = node.Children[: at+1 : at+1]

	return right, promoted, nil
}

// splitPoint returns the first key index of the right half so both halves
// carry roughly the same number of bytes. Both halves are non-empty, and an
// internal node keeps at least one key on each side of the promoted key.
func splitPoint(node *Node) int {
	total := node.SerializedSize() - NodeHeaderSize
	acc := 0
	for i, key := range node.Keys {
		acc += KeyLengthSize + len(key)
		if node.IsLeaf {
			acc += len(node.Values[i])
		} else {
			acc += PageIDSize
		}
		if acc*2 >= total {
			at := i + 1
			if !node.IsLeaf {
				at = i
			}
			return clampSplit(at, node)
		}
	}
	return clampSplit(len(node.Keys)/2, node)
}

func clampSplit(at int, node *Node) int {
	lo, hi := 1, len(node.Keys)-1
	if !node.IsLeaf {
		hi = len(node.Keys) - 2
	}
	return max(lo, min(at, hi))
}

// createNewRoot creates a new root node with two children.
func (t *Tree) createNewRoot(left storage.PageID, key []byte, right storage.PageID) error {
	root, err := t.allocateNode(false)
	if err != nil {
		return err
	}

	root.Keys = [][]byte{key}
	root.Children = []storage.PageID{left, right}

	if err := t.writeNode(root); err != nil {
		return err
	}

	t.root = root.PageID
	return nil
}
