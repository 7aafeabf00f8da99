package hash

import (
	"github.com/KilimcininKorOglu/nestkv/internal/storage/btree"
)

// FieldIterator yields the fields of a hash with their values in ascending
// field order. Values are read lazily, one field per Next.
//
// The iterator is bound to the transaction it was created in: once that
// transaction ends, Next returns false and Err reports ErrTransactionEnded.
// It cannot be restarted; call HGetAll again to iterate a second time.
// Abandoning an iterator without exhausting it is fine.
type FieldIterator struct {
	txn   Txn
	it    *btree.Iterator
	field string
	value string
	err   error
	done  bool
}

// HGetAll returns an iterator over the hash's fields and values.
func (v HashValue) HGetAll(s *Sizer, txn Txn) *FieldIterator {
	fi := &FieldIterator{txn: txn}
	if v.IsEmpty() {
		fi.done = true
		return fi
	}

	tree, err := v.open(s, txn)
	if err != nil {
		fi.fail(err)
		return fi
	}
	fi.it = tree.Iterator()
	return fi
}

// Next advances to the next field. It returns false when the fields are
// exhausted or an error occurred.
func (fi *FieldIterator) Next() bool {
	if fi.done {
		return false
	}
	if !fi.txn.IsActive() {
		fi.fail(ErrTransactionEnded)
		return false
	}

	key, raw, ok := fi.it.Next()
	if !ok {
		fi.fail(fi.it.Err())
		return false
	}

	nested, err := DecodeNestedStringValue(raw)
	if err != nil {
		fi.fail(err)
		return false
	}
	value, err := nested.Read(fi.txn)
	if err != nil {
		fi.fail(err)
		return false
	}

	fi.field = string(key)
	fi.value = string(value)
	return true
}

// Field returns the current field name.
func (fi *FieldIterator) Field() string {
	return fi.field
}

// Value returns the current field's value.
func (fi *FieldIterator) Value() string {
	return fi.value
}

// Err returns the error that stopped the iteration, if any.
func (fi *FieldIterator) Err() error {
	return fi.err
}

// Close stops the iteration and drops the current leaf.
func (fi *FieldIterator) Close() {
	fi.done = true
	fi.field, fi.value = "", ""
	if fi.it != nil {
		fi.it.Close()
		fi.it = nil
	}
}

func (fi *FieldIterator) fail(err error) {
	fi.Close()
	fi.err = err
}

// Collect drains the iterator into a map.
func (fi *FieldIterator) Collect() (map[string]string, error) {
	out := make(map[string]string)
	for fi.Next() {
		out[fi.Field()] = fi.Value()
	}
	return out, fi.Err()
}
