// Package storage provides the page-level storage substrate of nestkv, an
// embedded store for string-keyed hashes.
//
// # Overview
//
// A nestkv database is a single data file of fixed 4KB pages plus a
// write-ahead log. This package provides:
//
//   - Page: 16-byte header, xxhash checksum, typed payload
//   - FileHeader: page 0, holding the magic, the free list head, the
//     checkpoint LSN and the next transaction ID
//   - PageManager: allocation, free list, page I/O and file locking
//   - PageCache: write-through LRU cache of decoded pages
//   - WAL: length-prefixed, checksummed log of full page images
//   - Recovery: redo of committed transactions logged after the checkpoint
//   - Checkpointer: moves logged work into the data file and empties the log
//
// # File Layout
//
//	page 0       file header
//	page 1       catalog (root of the keyspace tree)
//	page 2..N-1  B+ tree nodes, blob overflow pages, free list chain, free
//
// # Durability
//
// Transactions (package tx) never write to the data file before their
// commit record is synced to the WAL. On open, Recovery replays every
// committed transaction whose records follow the checkpoint LSN, then
// checkpoints and resets the log:
//
//	pm, err := storage.OpenPageManager(path, storage.DefaultOptions())
//	wal, err := storage.OpenWAL(walPath)
//	stats, err := storage.NewRecovery(wal, pm).Recover()
//
// The free list is persisted only at checkpoints. Each checkpoint writes it
// to pages taken from the free list itself, switches the header over and
// only then releases the previous chain, so a crash at any point leaves a
// readable free list behind.
package storage
