// Package stream publishes keyspace change events to in-process
// subscribers. Events of a committed transaction are published together
// after the commit is durable; rolled back transactions publish nothing.
//
// Each event carries a token. Tokens increase by one per event, and a
// subscriber can resume from the last token it saw as long as the event
// after it is still in the replay buffer.
package stream

import "time"

// Operation is the kind of change an event reports.
type Operation uint8

const (
	// OpHSet reports a field that was set.
	OpHSet Operation = iota + 1
	// OpHDel reports a field that was deleted.
	OpHDel
	// OpDel reports a hash that was removed, by Del or by deleting its
	// last field.
	OpDel
)

// String returns the command name of the operation.
func (op Operation) String() string {
	switch op {
	case OpHSet:
		return "hset"
	case OpHDel:
		return "hdel"
	case OpDel:
		return "del"
	default:
		return "unknown"
	}
}

// ChangeEvent is one change to the keyspace.
type ChangeEvent struct {
	Token     uint64 // assigned on publish
	TxID      uint64
	Operation Operation
	Key       string
	Field     string // empty for OpDel
	Timestamp time.Time
}
