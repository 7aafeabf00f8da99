package hash

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/btree"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/stream"
)

// Keyspace errors.
var (
	ErrKeyTooLarge   = errors.New("key exceeds maximum size")
	ErrFieldTooLarge = errors.New("field exceeds maximum size")
	ErrNotCleared    = errors.New("key was not cleared in this transaction")
	ErrBadPattern    = errors.New("invalid key pattern")
)

// MaxKeySize is the longest hash key the keyspace accepts.
const MaxKeySize = btree.MaxKeySize

// Keyspace maps hash keys to HashValue records. Its tree is rooted through
// the catalog page. A Keyspace belongs to one transaction and must not be
// used after that transaction ends.
//
// Hashes never exist empty: the HDel that removes the last field also
// removes the key.
type Keyspace struct {
	txn   Txn
	sizer *Sizer
	tree  *btree.Tree // nil while no key exists
	root  storage.PageID

	changes []stream.ChangeEvent
	cleared map[string]struct{} // cleared but not yet removed
}

// OpenKeyspace opens the keyspace as seen by txn.
func OpenKeyspace(txn Txn, sizer *Sizer) (*Keyspace, error) {
	root, err := readCatalog(txn)
	if err != nil {
		return nil, err
	}

	k := &Keyspace{txn: txn, sizer: sizer, root: root, cleared: make(map[string]struct{})}
	if root != storage.InvalidPageID {
		k.tree, err = btree.Open(txn, root, sizer)
		if err != nil {
			return nil, fmt.Errorf("failed to open keyspace tree: %w", err)
		}
	}
	return k, nil
}

// Sizer returns the sizer the keyspace was opened with.
func (k *Keyspace) Sizer() *Sizer {
	return k.sizer
}

// Changes returns the changes made through the keyspace so far, in order.
func (k *Keyspace) Changes() []stream.ChangeEvent {
	return k.changes
}

func (k *Keyspace) record(op stream.Operation, key, field string) {
	k.changes = append(k.changes, stream.ChangeEvent{Operation: op, Key: key, Field: field})
}

// load returns the record stored under key.
func (k *Keyspace) load(key string) (HashValue, bool, error) {
	if k.tree == nil || len(key) > MaxKeySize {
		return HashValue{}, false, nil
	}

	raw, found, err := k.tree.Get([]byte(key))
	if err != nil || !found {
		return HashValue{}, false, err
	}

	v, err := DecodeHashValue(raw)
	if err != nil {
		return HashValue{}, false, fmt.Errorf("key %q: %w", key, err)
	}
	return v, true, nil
}

// store writes the record for key, creating the tree on first use.
func (k *Keyspace) store(key string, v HashValue) error {
	if k.tree == nil {
		tree, err := btree.Create(k.txn, k.sizer)
		if err != nil {
			return err
		}
		k.tree = tree
	}

	if _, _, err := k.tree.Put([]byte(key), v.Encode()); err != nil {
		return err
	}
	return k.sync()
}

// drop deletes the slot for key. The record must own no pages.
func (k *Keyspace) drop(key string) error {
	if _, _, err := k.tree.Delete([]byte(key)); err != nil {
		return err
	}

	empty, err := k.tree.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		if err := k.tree.Destroy(nil); err != nil {
			return err
		}
		k.tree = nil
	}
	return k.sync()
}

// sync records a moved tree root in the catalog.
func (k *Keyspace) sync() error {
	root := storage.InvalidPageID
	if k.tree != nil {
		root = k.tree.Root()
	}
	if root == k.root {
		return nil
	}
	if err := writeCatalog(k.txn, root); err != nil {
		return err
	}
	k.root = root
	return nil
}

func checkKey(key string) error {
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	return nil
}

func checkFields(v HashValue, fields ...string) error {
	for _, field := range fields {
		if !v.DoesFieldFit(field) {
			return fmt.Errorf("%w: %d bytes", ErrFieldTooLarge, len(field))
		}
	}
	return nil
}

// =============================================================================
// Hash commands
// =============================================================================

// HSet sets field in the hash at key, creating the hash if needed. It
// reports whether the field is new.
func (k *Keyspace) HSet(key, field, value string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	v, _, err := k.load(key)
	if err != nil {
		return false, err
	}
	if err := checkFields(v, field); err != nil {
		return false, err
	}

	created, err := v.HSet(k.sizer, k.txn, field, value)
	if err != nil {
		return false, err
	}
	if err := k.store(key, v); err != nil {
		return false, err
	}
	delete(k.cleared, key)
	k.record(stream.OpHSet, key, field)
	return created, nil
}

// HSetNX sets field only if it is not set yet and reports whether it did.
func (k *Keyspace) HSetNX(key, field, value string) (bool, error) {
	exists, err := k.HExists(key, field)
	if err != nil || exists {
		return false, err
	}
	return k.HSet(key, field, value)
}

// HGet returns the value of field in the hash at key.
func (k *Keyspace) HGet(key, field string) (string, bool, error) {
	v, found, err := k.load(key)
	if err != nil || !found {
		return "", false, err
	}
	return v.HGet(k.sizer, k.txn, field)
}

// HMGet returns the values of fields; missing fields are nil.
func (k *Keyspace) HMGet(key string, fields ...string) ([]*string, error) {
	v, _, err := k.load(key)
	if err != nil {
		return nil, err
	}

	values := make([]*string, len(fields))
	for i, field := range fields {
		value, ok, err := v.HGet(k.sizer, k.txn, field)
		if err != nil {
			return nil, err
		}
		if ok {
			values[i] = &value
		}
	}
	return values, nil
}

// HExists reports whether field is set in the hash at key.
func (k *Keyspace) HExists(key, field string) (bool, error) {
	v, _, err := k.load(key)
	if err != nil {
		return false, err
	}
	return v.HExists(k.sizer, k.txn, field)
}

// HDel removes fields from the hash at key and returns how many were set.
// Removing the last field removes the key.
func (k *Keyspace) HDel(key string, fields ...string) (int, error) {
	v, found, err := k.load(key)
	if err != nil || !found {
		return 0, err
	}
	if err := checkFields(v, fields...); err != nil {
		return 0, err
	}

	var deleted []string
	for _, field := range fields {
		ok, err := v.HDel(k.sizer, k.txn, field)
		if err != nil {
			return len(deleted), err
		}
		if ok {
			deleted = append(deleted, field)
		}
	}

	if len(deleted) == 0 {
		return 0, nil
	}
	if v.IsEmpty() {
		err = k.drop(key)
	} else {
		err = k.store(key, v)
	}
	if err != nil {
		return len(deleted), err
	}

	for _, field := range deleted {
		k.record(stream.OpHDel, key, field)
	}
	if v.IsEmpty() {
		k.record(stream.OpDel, key, "")
	}
	return len(deleted), nil
}

// HLen returns the number of fields in the hash at key.
func (k *Keyspace) HLen(key string) (int, error) {
	v, _, err := k.load(key)
	if err != nil {
		return 0, err
	}
	return v.HLen(), nil
}

// HStrLen returns the length of field's value, 0 if it is not set.
func (k *Keyspace) HStrLen(key, field string) (int64, error) {
	v, _, err := k.load(key)
	if err != nil {
		return 0, err
	}
	return v.HStrLen(k.sizer, k.txn, field)
}

// HGetRange returns up to n bytes of field's value starting at offset.
func (k *Keyspace) HGetRange(key, field string, offset, n int64) (string, bool, error) {
	v, _, err := k.load(key)
	if err != nil {
		return "", false, err
	}
	return v.HGetRange(k.sizer, k.txn, field, offset, n)
}

// HGetAll returns a lazy iterator over the fields of the hash at key.
// A missing key yields an empty iterator.
func (k *Keyspace) HGetAll(key string) (*FieldIterator, error) {
	v, _, err := k.load(key)
	if err != nil {
		return nil, err
	}
	return v.HGetAll(k.sizer, k.txn), nil
}

// HKeys returns the field names of the hash at key.
func (k *Keyspace) HKeys(key string) ([]string, error) {
	v, _, err := k.load(key)
	if err != nil {
		return nil, err
	}
	return v.HKeys(k.sizer, k.txn)
}

// HVals returns the values of the hash at key in field order.
func (k *Keyspace) HVals(key string) ([]string, error) {
	it, err := k.HGetAll(key)
	if err != nil {
		return nil, err
	}

	var values []string
	for it.Next() {
		values = append(values, it.Value())
	}
	return values, it.Err()
}

// =============================================================================
// Key commands
// =============================================================================

// Exists reports whether a hash is stored under key.
func (k *Keyspace) Exists(key string) (bool, error) {
	v, found, err := k.load(key)
	return found && !v.IsEmpty(), err
}

// ClearedKey is proof that the hash under a key was cleared. Only
// Keyspace.Clear creates one, and Keyspace.Remove requires it, so a hash
// cannot be removed while it still owns pages.
type ClearedKey struct {
	key string
	ks  *Keyspace
}

// Key returns the cleared key.
func (c ClearedKey) Key() string {
	return c.key
}

// Clear frees every page owned by the hash at key and leaves an empty
// record in its slot. The returned token allows Remove to drop the slot.
// ok is false if the key has no slot. A slot left empty by an earlier
// Clear yields a token but no change event.
func (k *Keyspace) Clear(key string) (token ClearedKey, ok bool, err error) {
	token, found, _, err := k.clear(key)
	return token, found, err
}

// clear is Clear that also reports whether the slot held a non-empty hash.
func (k *Keyspace) clear(key string) (token ClearedKey, found, live bool, err error) {
	v, found, err := k.load(key)
	if err != nil || !found {
		return ClearedKey{}, false, false, err
	}

	live = !v.IsEmpty()
	if err := v.Clear(k.sizer, k.txn); err != nil {
		return ClearedKey{}, false, false, err
	}
	if err := k.store(key, v); err != nil {
		return ClearedKey{}, false, false, err
	}
	k.cleared[key] = struct{}{}
	if live {
		k.record(stream.OpDel, key, "")
	}
	return ClearedKey{key: key, ks: k}, true, live, nil
}

// Remove drops the slot of a cleared key. It fails with ErrNotCleared if
// the token was issued by another keyspace or transaction, or if the hash
// was written to after it was cleared.
func (k *Keyspace) Remove(token ClearedKey) error {
	if token.ks != k || !k.txn.IsActive() {
		return ErrNotCleared
	}

	v, found, err := k.load(token.key)
	if err != nil {
		return err
	}
	if !found {
		delete(k.cleared, token.key)
		return nil
	}
	if !v.IsEmpty() {
		return fmt.Errorf("%w: %q was written after Clear", ErrNotCleared, token.key)
	}
	if err := k.drop(token.key); err != nil {
		return err
	}
	delete(k.cleared, token.key)
	return nil
}

// Unremoved returns the keys cleared through this keyspace whose slots
// were neither removed nor refilled, in key order.
func (k *Keyspace) Unremoved() []string {
	return slices.Sorted(maps.Keys(k.cleared))
}

// Del clears and removes keys and returns how many held a hash. Empty
// slots left behind by Clear are dropped without being counted.
func (k *Keyspace) Del(keys ...string) (int, error) {
	removed := 0
	for _, key := range keys {
		token, found, live, err := k.clear(key)
		if err != nil {
			return removed, err
		}
		if !found {
			continue
		}
		if err := k.Remove(token); err != nil {
			return removed, err
		}
		if live {
			removed++
		}
	}
	return removed, nil
}

// Keys returns a lazy iterator over the keys matching a glob pattern
// (path.Match syntax). An empty pattern matches every key.
func (k *Keyspace) Keys(pattern string) (*KeyIterator, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	ki := &KeyIterator{txn: k.txn, pattern: pattern}
	if k.tree == nil {
		ki.done = true
		return ki, nil
	}

	if prefix := literalPrefix(pattern); prefix != "" {
		ki.it = k.tree.Prefix([]byte(prefix))
	} else {
		ki.it = k.tree.Iterator()
	}
	return ki, nil
}

// literalPrefix returns the part of pattern before its first meta character.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// KeyIterator yields hash keys in ascending order. Like FieldIterator it is
// bound to its transaction.
type KeyIterator struct {
	txn     Txn
	it      *btree.Iterator
	pattern string
	key     string
	value   HashValue
	err     error
	done    bool
}

// Next advances to the next matching key.
func (ki *KeyIterator) Next() bool {
	for !ki.done {
		if !ki.txn.IsActive() {
			ki.fail(ErrTransactionEnded)
			return false
		}

		key, raw, ok := ki.it.Next()
		if !ok {
			ki.fail(ki.it.Err())
			return false
		}

		v, err := DecodeHashValue(raw)
		if err != nil {
			ki.fail(fmt.Errorf("key %q: %w", key, err))
			return false
		}
		if v.IsEmpty() {
			continue
		}
		if matched, _ := path.Match(ki.pattern, string(key)); !matched {
			continue
		}

		ki.key = string(key)
		ki.value = v
		return true
	}
	return false
}

// Key returns the current key.
func (ki *KeyIterator) Key() string {
	return ki.key
}

// Value returns the record of the current key.
func (ki *KeyIterator) Value() HashValue {
	return ki.value
}

// Err returns the error that stopped the iteration, if any.
func (ki *KeyIterator) Err() error {
	return ki.err
}

// Close stops the iteration.
func (ki *KeyIterator) Close() {
	ki.done = true
	if ki.it != nil {
		ki.it.Close()
		ki.it = nil
	}
}

func (ki *KeyIterator) fail(err error) {
	ki.Close()
	ki.err = err
}

// Collect drains the iterator into a slice of keys.
func (ki *KeyIterator) Collect() ([]string, error) {
	var keys []string
	for ki.Next() {
		keys = append(keys, ki.Key())
	}
	return keys, ki.Err()
}

// =============================================================================
// Maintenance
// =============================================================================

// KeyspaceStats describes the keyspace and the pages it owns.
type KeyspaceStats struct {
	Keys        int
	Fields      int
	TreePages   int // pages of the keyspace tree itself
	NestedPages int // nested-tree and overflow pages of all hashes
	Height      int
}

// Stats walks every hash and returns page accounting for the keyspace.
func (k *Keyspace) Stats() (KeyspaceStats, error) {
	var stats KeyspaceStats
	if k.tree == nil {
		return stats, nil
	}

	tree, err := k.tree.Stats()
	if err != nil {
		return stats, err
	}
	stats.TreePages = tree.Pages()
	stats.Height = tree.Height

	it, err := k.Keys("*")
	if err != nil {
		return stats, err
	}
	for it.Next() {
		v := it.Value()
		pages, err := v.Pages(k.sizer, k.txn)
		if err != nil {
			return stats, err
		}
		stats.Keys++
		stats.Fields += v.HLen()
		stats.NestedPages += pages
	}
	return stats, it.Err()
}

// Verify checks the structure of the keyspace tree and of every hash.
func (k *Keyspace) Verify() error {
	if k.tree == nil {
		return nil
	}
	if err := k.tree.CheckInvariants(); err != nil {
		return fmt.Errorf("keyspace tree: %w", err)
	}

	it, err := k.Keys("*")
	if err != nil {
		return err
	}
	for it.Next() {
		if err := it.Value().Verify(k.sizer, k.txn); err != nil {
			return fmt.Errorf("key %q: %w", it.Key(), err)
		}
	}
	return it.Err()
}
