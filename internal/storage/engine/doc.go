// Package engine implements the nestkv database: a page file, a write-ahead
// log and a transaction manager combined behind a hash keyspace.
//
// # Opening a Database
//
//	db, err := engine.Open("/var/lib/nestkv", engine.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Open creates the directory and files if needed and replays committed
// transactions found in the WAL.
//
// # Transactions
//
// Update and View run a closure inside a transaction. Update commits when
// the closure returns nil and rolls back otherwise:
//
//	err := db.Update(ctx, func(tx *engine.Tx) error {
//	    _, err := tx.Keyspace().HSet("user:1", "name", "ada")
//	    return err
//	})
//
//	err = db.View(ctx, func(tx *engine.Tx) error {
//	    name, ok, err := tx.Keyspace().HGet("user:1", "name")
//	    ...
//	})
//
// Begin, Commit and Rollback are available for callers that manage the
// transaction lifetime themselves. One writable transaction runs at a time;
// readers run concurrently and see only committed state.
//
// # Checkpoints
//
// The WAL is checkpointed on Close, on demand through Checkpoint, and in the
// background when CheckpointInterval elapses or the WAL grows past
// CheckpointWALBytes.
//
// Snapshot checkpoints with all transactions held out and hands a callback a
// reader over the whole data file. Package backup builds on it.
//
// # Watching Changes
//
// Committed writes are published as change events. Rolled back transactions
// publish nothing:
//
//	sub, err := db.Watch(stream.MatchPattern("user:*"))
//	for ev := range sub.Events() {
//	    fmt.Println(ev.Operation, ev.Key, ev.Field)
//	}
//
// A subscriber that falls WatchBufferSize events behind loses events rather
// than slowing down commits; Subscriber.Dropped counts them.
package engine
