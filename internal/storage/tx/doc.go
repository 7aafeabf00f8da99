// Package tx implements transactions for the nestkv storage engine.
//
// # Overview
//
// The tx package provides ACID transactions over a storage.PageManager:
//
//   - Atomicity: page images are shadowed until commit
//   - Consistency: a single writer at a time
//   - Isolation: readers never observe a half-applied commit
//   - Durability: WAL fsync before the data file is written
//
// # Transaction Lifecycle
//
//	tx, err := manager.Begin()
//	if err != nil {
//	    return err
//	}
//
//	page, err := tx.ReadPage(id)
//	...
//	if err := tx.WritePage(page); err != nil {
//	    manager.Rollback(tx)
//	    return err
//	}
//
//	err = manager.Commit(tx)
//
// # Transaction States
//
//   - Active: Transaction is in progress
//   - Committed: Changes are durable
//   - Aborted: Changes are discarded
//
// # Page Accounting
//
// Pages allocated inside a transaction are reserved immediately and
// returned on rollback. Pages freed inside a transaction are released at
// commit, so an aborted transaction never loses a page it only meant to
// free.
package tx
