// Package btree implements a page-backed B+ tree for the nestkv storage
// engine.
//
// # Overview
//
// Every tree stores unique byte keys in ascending order. Leaf values are
// opaque byte strings whose on-disk length is described by a ValueSizer, so
// the same code serves the outer keyspace tree (fixed-size hash records) and
// the nested per-hash trees (fixed-size blob references):
//
//   - O(log n) lookup, insertion, and deletion
//   - Efficient ordered scans via leaf node linking
//   - Page-aligned nodes read and written through a storage.Pager
//
// # Node Structure
//
// Nodes occupy the data area of a 4KB page:
//
//   - Internal nodes: magic "intr", keys, then child page pointers
//   - Leaf nodes: the sizer's magic, key/value entries, and sibling pointers
//
// Nodes split when they no longer fit their page and are merged or
// rebalanced with a sibling when they fall below a quarter of it.
//
// # Usage
//
//	tree, err := btree.Create(txn, sizer)
//
//	// Insert or replace
//	inserted, old, err := tree.Put([]byte("field"), encoded)
//
//	// Lookup
//	value, found, err := tree.Get([]byte("field"))
//
//	// Ordered scan
//	it := tree.Iterator()
//	for key, value, ok := it.Next(); ok; key, value, ok = it.Next() {
//	    ...
//	}
//	if err := it.Err(); err != nil {
//	    ...
//	}
//
// The root page can change on any mutation; persist tree.Root() afterwards.
package btree
