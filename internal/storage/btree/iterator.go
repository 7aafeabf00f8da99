package btree

import (
	"bytes"
)

// Iterator provides sequential access to tree entries in ascending key order.
// It reads leaves lazily through the pager and follows the leaf chain, so it
// holds at most one leaf in memory. An iterator can be bounded by an end key
// or a key prefix.
//
// Mutating the tree while an iterator is open leaves the iterator's results
// undefined.
type Iterator struct {
	tree     *Tree
	current  *Node
	position int
	endKey   []byte
	prefix   []byte
	err      error
	closed   bool
}

// Iterator returns an iterator over every entry of the tree.
func (t *Tree) Iterator() *Iterator {
	leaf, err := t.findLeftmostLeaf()
	if err != nil {
		return &Iterator{err: err, closed: true}
	}
	return &Iterator{tree: t, current: leaf}
}

// Seek returns an iterator positioned at the first key >= start.
func (t *Tree) Seek(start []byte) *Iterator {
	path, err := t.findLeafWithPath(start)
	if err != nil {
		return &Iterator{err: err, closed: true}
	}
	leaf := path[len(path)-1]
	pos, _ := leaf.FindKeyIndex(start)
	return &Iterator{tree: t, current: leaf, position: pos}
}

// Range returns an iterator over keys in [start, end]. A nil start begins at
// the first key and a nil end runs to the last one.
func (t *Tree) Range(start, end []byte) *Iterator {
	var it *Iterator
	if start == nil {
		it = t.Iterator()
	} else {
		it = t.Seek(start)
	}
	it.endKey = end
	return it
}

// Prefix returns an iterator over keys that start with prefix.
func (t *Tree) Prefix(prefix []byte) *Iterator {
	it := t.Seek(prefix)
	it.prefix = prefix
	return it
}

// Next returns the next entry. ok is false once the iterator is exhausted,
// closed or failed; check Err to tell them apart.
func (it *Iterator) Next() (key, value []byte, ok bool) {
	if it.closed || it.current == nil {
		return nil, nil, false
	}

	// Empty leaves only occur as a lone root, but skip them anyway.
	for it.position >= len(it.current.Keys) {
		if it.current.Next == InvalidPageID {
			it.Close()
			return nil, nil, false
		}

		next, err := it.tree.readNode(it.current.Next)
		if err != nil {
			it.err = err
			it.Close()
			return nil, nil, false
		}

		it.current = next
		it.position = 0
	}

	key = it.current.Keys[it.position]

	if it.endKey != nil && bytes.Compare(key, it.endKey) > 0 {
		it.Close()
		return nil, nil, false
	}
	if it.prefix != nil && !bytes.HasPrefix(key, it.prefix) {
		it.Close()
		return nil, nil, false
	}

	value = it.current.Values[it.position]
	it.position++

	return key, value, true
}

// Err returns the first error the iterator ran into.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the current leaf. After Close, Next always returns false.
func (it *Iterator) Close() {
	it.closed = true
	it.current = nil
}

// Count returns the number of remaining entries. This exhausts the iterator.
func (it *Iterator) Count() (int, error) {
	n := 0
	for {
		if _, _, ok := it.Next(); !ok {
			break
		}
		n++
	}
	return n, it.err
}
