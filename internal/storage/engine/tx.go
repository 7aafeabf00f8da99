package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/KilimcininKorOglu/nestkv/internal/logging"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/hash"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/tx"
)

// Tx is a transaction on a DB. It is not safe for concurrent use; the
// goroutine that began it owns it until Commit or Rollback.
type Tx struct {
	db    *DB
	txn   *tx.Transaction
	ks    *hash.Keyspace
	ctx   context.Context
	span  trace.Span
	log   logging.Logger
	start time.Time
	done  bool
}

// ID returns the transaction ID.
func (t *Tx) ID() uint64 {
	return t.txn.ID
}

// Writable reports whether the transaction may modify the database.
func (t *Tx) Writable() bool {
	return t.txn.Writable
}

// Active reports whether the transaction is still open.
func (t *Tx) Active() bool {
	return !t.done && t.txn.IsActive()
}

// Keyspace returns the keyspace as seen by this transaction.
func (t *Tx) Keyspace() *hash.Keyspace {
	return t.ks
}

// Context returns the context carrying the transaction's span.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Logger returns a logger tagged with the transaction's request ID.
func (t *Tx) Logger() logging.Logger {
	return t.log
}
