package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// minFill is the serialized size below which a non-root node is rebalanced.
const minFill = NodeCapacity / 4

// Delete removes key from the tree and returns the removed value.
// A missing key is not an error.
//
// Algorithm:
// 1. Find the leaf node containing the key
// 2. Remove the entry
// 3. If the leaf underflows (< 25% of the page):
//    a. Merge with a sibling if the result fits a page
//    b. Otherwise redistribute entries with the sibling
// 4. Propagate changes up to the parent, collapsing the root if it empties
func (t *Tree) Delete(key []byte) ([]byte, bool, error) {
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

	old := leaf.Values[idx]
	leaf.RemoveKeyAt(idx)

	return old, true, t.settle(path, len(path)-1)
}

// settle writes path[level] after it was modified in memory, splitting or
// rebalancing it as needed, and continues with the parent when that changes.
func (t *Tree) settle(path []*Node, level int) error {
	node := path[level]

	switch {
	case !node.FitsInPage():
		right, sep, err := t.splitNode(node)
		if err != nil {
			return err
		}
		if err := t.writeNode(node); err != nil {
			return err
		}
		if err := t.writeNode(right); err != nil {
			return err
		}
		if level == 0 {
			return t.createNewRoot(node.PageID, sep, right.PageID)
		}
		parent := path[level-1]
		parent.InsertChildAt(parent.ChildIndex(node.PageID), sep, right.PageID)
		return t.settle(path, level-1)

	case level == 0:
		if !node.IsLeaf && len(node.Keys) == 0 {
			// Root with a single child: the child becomes the root.
			t.root = node.Children[0]
			return t.pager.FreePage(node.PageID)
		}
		return t.writeNode(node)

	case node.SerializedSize() < minFill:
		if err := t.rebalance(path[level-1], node); err != nil {
			return err
		}
		return t.settle(path, level-1)

	default:
		return t.writeNode(node)
	}
}

// rebalance merges node with an adjacent sibling or, when the merged node
// would not fit a page, redistributes entries between the two. parent is
// updated in memory only.
func (t *Tree) rebalance(parent, node *Node) error {
	idx := parent.ChildIndex(node.PageID)
	if idx < 0 {
		return ErrInvalidNode
	}

	var left, right *Node
	var sepIdx int
	if idx > 0 {
		sibling, err := t.readNode(parent.Children[idx-1])
		if err != nil {
			return err
		}
		left, right, sepIdx = sibling, node, idx-1
	} else {
		sibling, err := t.readNode(parent.Children[idx+1])
		if err != nil {
			return err
		}
		left, right, sepIdx = node, sibling, idx
	}

	merged := combine(left, right, parent.Keys[sepIdx])

	if merged.FitsInPage() {
		left.Keys, left.Values, left.Children = merged.Keys, merged.Values, merged.Children
		if left.IsLeaf {
			left.Next = right.Next
			if right.Next != InvalidPageID {
				next, err := t.readNode(right.Next)
				if err != nil {
					return err
				}
				next.Prev = left.PageID
				if err := t.writeNode(next); err != nil {
					return err
				}
			}
		}
		if err := t.writeNode(left); err != nil {
			return err
		}
		if err := t.pager.FreePage(right.PageID); err != nil {
			return err
		}
		parent.RemoveKeyAt(sepIdx)
		return nil
	}

	at := splitPoint(merged)
	if left.IsLeaf {
		left.Keys, right.Keys = merged.Keys[:at:at], merged.Keys[at:]
		left.Values, right.Values = merged.Values[:at:at], merged.Values[at:]
		parent.Keys[sepIdx] = bytes.Clone(right.Keys[0])
	} else {
		parent.Keys[sepIdx] = merged.Keys[at]
		left.Keys, right.Keys = merged.Keys[:at:at], merged.Keys[at+1:]
		left.Children, right.Children = merged.Children[:at+1:at+1], merged.Children[at+1:]
	}

	if err := t.writeNode(left); err != nil {
		return err
	}
	return t.writeNode(right)
}

// combine returns a detached node holding the entries of left followed by
// those of right. Internal nodes pull the parent separator down between them.
func combine(left, right *Node, sep []byte) *Node {
	out := &Node{IsLeaf: left.IsLeaf, PageID: left.PageID, Next: left.Next, Prev: left.Prev}

	out.Keys = make([][]byte, 0, len(left.Keys)+len(right.Keys)+1)
	out.Keys = append(out.Keys, left.Keys...)
	if left.IsLeaf {
		out.Keys = append(out.Keys, right.Keys...)
		out.Values = make([][]byte, 0, len(left.Values)+len(right.Values))
		out.Values = append(out.Values, left.Values...)
		out.Values = append(out.Values, right.Values...)
		return out
	}

	out.Keys = append(out.Keys, bytes.Clone(sep))
	out.Keys = append(out.Keys, right.Keys...)
	out.Children = make([]storage.PageID, 0, len(left.Children)+len(right.Children))
	out.Children = append(out.Children, left.Children...)
	out.Children = append(out.Children, right.Children...)
	return out
}
