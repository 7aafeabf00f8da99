// Package hash implements Redis-style hashes on top of nested B+ trees.
//
// Every hash key maps to a HashValue: a fixed 12-byte record holding the
// root page of a nested tree and a cached field count. The nested tree maps
// field names to NestedStringValue entries, which are blob references, so a
// hash can grow to any number of fields and values can be of any length
// while the record in the keyspace never changes size.
//
// # Layout
//
//	catalog page ──► keyspace tree (leaf tag "lreh")
//	                   key ──► HashValue{NestedRoot, Size}
//	                                        │
//	                                        ▼
//	                          nested tree (leaf tag "lrns")
//	                            field ──► blob.Ref ──► overflow pages
//
// # Ownership
//
// A nested tree belongs to exactly one HashValue. Before a key is dropped
// its hash must be cleared, otherwise the nested tree and the overflow pages
// of its values stay allocated with nothing pointing at them. Keyspace
// enforces this: Clear returns a ClearedKey and Remove only accepts one.
//
//	token, ok, err := ks.Clear("user:1")
//	if err == nil && ok {
//	    err = ks.Remove(token)
//	}
//
// Del does both steps for callers that do not need the token. Unremoved
// lists keys cleared but neither removed nor refilled; the engine refuses
// to commit while it is non-empty.
//
// # Transactions
//
// All operations run in a caller-supplied transaction (Txn). Frees are
// deferred to commit, so rolling back a Clear restores the hash in full.
// Iterators returned by HGetAll and Keys stop with ErrTransactionEnded once
// their transaction has ended.
package hash
