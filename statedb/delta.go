package statedb

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/koinos/koinos-state-db/core/common"
	"github.com/koinos/koinos-state-db/core/encryption"
	"github.com/koinos/koinos-state-db/merkle"
)

// DeltaEntry is one change a delta carries, decoded back into its façade
// coordinates. A nil Value marks a tombstone.
type DeltaEntry struct {
	Space ObjectSpace `msgpack:"space"`
	Key   []byte      `msgpack:"key"`
	Value []byte      `msgpack:"value,omitempty"`
}

// EncodeDeltaEntries serializes entries into the msgpack wire form a node
// propagates to peers.
func EncodeDeltaEntries(entries []DeltaEntry) ([]byte, error) {
	buf, err := common.ToMsgpack(entries)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDeltaEntries reverses EncodeDeltaEntries.
func DecodeDeltaEntries(data []byte) ([]DeltaEntry, error) {
	var entries []DeltaEntry
	if err := common.FromMsgpack(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Delta is one node of the version tree: the writes and tombstones one
// block (or anonymous transaction attempt) produced on top of its
// parent's state. A delta shared-owns its parent through a plain Go
// pointer - an ancestor stays alive for as long as any reachable child
// references it, there is no explicit refcounting to manage.
type Delta struct {
	mu sync.RWMutex

	parent  *Delta
	own     Backend
	removed map[string]struct{}

	id       NodeID
	revision uint64
	header   []byte

	merkleMu   sync.Mutex
	merkleRoot string

	finalizeMu sync.Mutex
	finalized  bool
	finalizeCV *sync.Cond
}

// newRootDelta wraps an already-open backend (whose metadata names its
// revision/id/header) as the root of a version tree.
func newRootDelta(backend Backend) *Delta {
	meta := backend.Metadata()
	d := &Delta{
		own:       backend,
		removed:   make(map[string]struct{}),
		id:        meta.ID,
		revision:  meta.Revision,
		header:    meta.BlockHeader,
		finalized: true,
	}
	d.finalizeCV = sync.NewCond(&d.finalizeMu)
	return d
}

// ID returns the delta's node id.
func (d *Delta) ID() NodeID { return d.id }

// Revision returns the delta's revision number.
func (d *Delta) Revision() uint64 { return d.revision }

// ParentID returns the parent's node id, or false if this is the root.
func (d *Delta) ParentID() (NodeID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.parent == nil {
		return NodeID{}, false
	}
	return d.parent.id, true
}

// Header returns the block-header bytes this delta was created with.
func (d *Delta) Header() []byte { return d.header }

// IsFinalized reports whether writes against this delta are rejected.
func (d *Delta) IsFinalized() bool {
	d.finalizeMu.Lock()
	defer d.finalizeMu.Unlock()
	return d.finalized
}

// Root returns the root of this delta's ancestor chain - itself, if this
// delta already is the root. The contract is total so callers never need
// to special-case "am I the root" before calling Root().
func (d *Delta) Root() *Delta {
	cur := d
	for {
		cur.mu.RLock()
		p := cur.parent
		cur.mu.RUnlock()
		if p == nil {
			return cur
		}
		cur = p
	}
}

// Find returns the logical value for key, walking up the ancestor chain
// until a hit, a tombstone, or the root is reached.
func (d *Delta) Find(key []byte) ([]byte, bool) {
	d.mu.RLock()
	own := d.own
	if own == nil {
		d.mu.RUnlock()
		return nil, false
	}
	if v, ok := own.Get(key); ok {
		d.mu.RUnlock()
		return v, true
	}
	if _, tomb := d.removed[string(key)]; tomb {
		d.mu.RUnlock()
		return nil, false
	}
	parent := d.parent
	d.mu.RUnlock()
	if parent == nil {
		return nil, false
	}
	return parent.Find(key)
}

// IsModified reports whether key was written or tombstoned on this delta
// specifically (not an ancestor).
func (d *Delta) IsModified(key []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.own.Get(key); ok {
		return true
	}
	_, tomb := d.removed[string(key)]
	return tomb
}

// Put writes key/value into this delta's own backend. A write supersedes
// any tombstone for the same key.
func (d *Delta) Put(key, value []byte) error {
	if d.IsFinalized() {
		return ErrNodeFinalized
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.own == nil {
		return ErrInternal
	}
	if err := d.own.Put(key, value); err != nil {
		return err
	}
	delete(d.removed, string(key))
	return nil
}

// Erase removes key from the logical view. If key is visible only
// through this delta's own backend, it is simply dropped; if it remains
// visible through an ancestor, a tombstone is recorded. Erasing an absent
// key is a no-op.
func (d *Delta) Erase(key []byte) error {
	if d.IsFinalized() {
		return ErrNodeFinalized
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.own == nil {
		return ErrInternal
	}

	_, hasOwn := d.own.Get(key)
	_, tombstoned := d.removed[string(key)]
	visibleInParent := false
	if d.parent != nil {
		_, visibleInParent = d.parent.Find(key)
	}
	if !hasOwn && !tombstoned && !visibleInParent {
		return nil
	}

	if hasOwn {
		if err := d.own.Erase(key); err != nil {
			return err
		}
	}
	if visibleInParent {
		d.removed[string(key)] = struct{}{}
	} else {
		delete(d.removed, string(key))
	}
	return nil
}

// MakeChild creates a writable child of d: revision+1, a fresh in-memory
// backend, and the given id/header.
func (d *Delta) MakeChild(id NodeID, header []byte) *Delta {
	child := &Delta{
		parent:   d,
		own:      NewMemoryBackend(),
		removed:  make(map[string]struct{}),
		id:       id,
		revision: d.revision + 1,
		header:   header,
	}
	child.finalizeCV = sync.NewCond(&child.finalizeMu)
	return child
}

// MakeAnonymousChild creates a transaction-scoped speculative child that
// shares d's id and revision rather than advancing them - an anonymous
// node is not a new block, just a scratch layer meant to be squashed back
// into d (or discarded) rather than committed.
func (d *Delta) MakeAnonymousChild() *Delta {
	child := &Delta{
		parent:   d,
		own:      NewMemoryBackend(),
		removed:  make(map[string]struct{}),
		id:       d.id,
		revision: d.revision,
		header:   d.header,
	}
	child.finalizeCV = sync.NewCond(&child.finalizeMu)
	return child
}

// Clone creates a sibling of d - same parent, an independent copy of d's
// own backend and tombstone set, the given new id/header. Permitted here
// unconditionally; Database.CloneNode enforces the finalized-source
// restriction at the database boundary.
func (d *Delta) Clone(id NodeID, header []byte) (*Delta, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ownClone, err := d.own.Clone()
	if err != nil {
		return nil, err
	}
	removedClone := make(map[string]struct{}, len(d.removed))
	for k := range d.removed {
		removedClone[k] = struct{}{}
	}
	clone := &Delta{
		parent:     d.parent,
		own:        ownClone,
		removed:    removedClone,
		id:         id,
		revision:   d.revision,
		header:     header,
		finalized:  d.finalized,
		merkleRoot: d.merkleRoot,
	}
	clone.finalizeCV = sync.NewCond(&clone.finalizeMu)
	return clone, nil
}

// Squash merges d's writes and tombstones into its parent, then empties
// d. It is a no-op on the root. This is how an anonymous node publishes
// its speculative effects into the block delta that spawned it.
func (d *Delta) Squash() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := d.parent
	if parent == nil {
		return nil
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	for k := range d.removed {
		kb := []byte(k)
		if err := parent.own.Erase(kb); err != nil {
			return err
		}
		if parent.parent != nil {
			if _, ok := parent.parent.Find(kb); ok {
				parent.removed[k] = struct{}{}
			}
		}
	}

	it := d.own.Begin()
	for it.Valid() {
		k, _ := it.Key()
		v, _ := it.Value()
		if err := parent.own.Put(k, v); err != nil {
			return err
		}
		if parent.parent != nil {
			delete(parent.removed, string(k))
		}
		if err := it.Next(); err != nil {
			break
		}
	}

	d.own.Clear()
	d.removed = make(map[string]struct{})
	return nil
}

// Commit collapses the ancestor chain from d down to (but not including)
// the prior root into the durable backend in a single atomic write
// batch, then re-parents d as the new root. Commit on the root itself is
// an internal invariant violation, never a user-recoverable condition.
func (d *Delta) Commit() error {
	d.mu.RLock()
	parent0 := d.parent
	d.mu.RUnlock()
	if parent0 == nil {
		return ErrInternal
	}

	// Collect the chain leaf->...->child-of-root, then reverse so we
	// flatten oldest write first, newest (d's own) last - later writes
	// must be able to overwrite earlier ones at the same key.
	chain := []*Delta{d}
	cur := parent0
	var root *Delta
	for {
		cur.mu.RLock()
		p := cur.parent
		cur.mu.RUnlock()
		if p == nil {
			root = cur
			break
		}
		chain = append(chain, cur)
		cur = p
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	root.mu.Lock()
	backend := root.own
	root.own = nil
	root.mu.Unlock()

	if backend == nil {
		return ErrInternal
	}

	if err := backend.StartWriteBatch(); err != nil {
		return err
	}
	for _, node := range chain {
		node.mu.RLock()
		for k := range node.removed {
			if err := backend.Erase([]byte(k)); err != nil {
				node.mu.RUnlock()
				return err
			}
		}
		it := node.own.Begin()
		for it.Valid() {
			k, _ := it.Key()
			v, _ := it.Value()
			if err := backend.Put(k, v); err != nil {
				node.mu.RUnlock()
				return err
			}
			if err := it.Next(); err != nil {
				break
			}
		}
		node.mu.RUnlock()
	}

	if err := backend.StoreMetadata(Metadata{
		Revision:    d.revision,
		ID:          d.id,
		MerkleRoot:  d.merkleRoot,
		BlockHeader: d.header,
	}); err != nil {
		return err
	}
	if err := backend.EndWriteBatch(); err != nil {
		return err
	}

	d.mu.Lock()
	d.own = backend
	d.removed = make(map[string]struct{})
	d.parent = nil
	d.mu.Unlock()
	return nil
}

// Finalize marks d immutable and wakes every goroutine blocked in
// WaitFinalized.
func (d *Delta) Finalize() {
	d.finalizeMu.Lock()
	d.finalized = true
	d.finalizeCV.Broadcast()
	d.finalizeMu.Unlock()
}

// WaitFinalized blocks until d is finalized or timeout elapses (<=0 means
// wait indefinitely). It returns whether d is finalized on return;
// spurious wakeups are tolerated by the surrounding loop.
func (d *Delta) WaitFinalized(timeout time.Duration) bool {
	d.finalizeMu.Lock()
	defer d.finalizeMu.Unlock()
	if d.finalized {
		return true
	}
	if timeout <= 0 {
		for !d.finalized {
			d.finalizeCV.Wait()
		}
		return true
	}
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		d.finalizeMu.Lock()
		d.finalizeCV.Broadcast()
		d.finalizeMu.Unlock()
	})
	defer timer.Stop()
	for !d.finalized && time.Now().Before(deadline) {
		d.finalizeCV.Wait()
	}
	return d.finalized
}

// MerkleRoot computes (and caches) the merkle root over d's own contents:
// the union of its written keys and tombstones, sorted lexicographically,
// each contributing hash(key) and hash(value-or-empty) as two leaves. It
// fails on a non-finalized delta - merkle root is a property of a sealed
// block's state delta.
func (d *Delta) MerkleRoot() (string, error) {
	if !d.IsFinalized() {
		return "", ErrNotFinalized
	}
	d.merkleMu.Lock()
	defer d.merkleMu.Unlock()
	if d.merkleRoot != "" {
		return d.merkleRoot, nil
	}

	d.mu.RLock()
	keys := make([]string, 0, d.own.Size()+len(d.removed))
	seen := make(map[string]struct{})
	it := d.own.Begin()
	for it.Valid() {
		k, _ := it.Key()
		keys = append(keys, string(k))
		seen[string(k)] = struct{}{}
		if err := it.Next(); err != nil {
			break
		}
	}
	for k := range d.removed {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	leaves := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		leaves = append(leaves, encryption.Hash([]byte(k)))
		if v, ok := d.own.Get([]byte(k)); ok {
			leaves = append(leaves, encryption.Hash(v))
		} else {
			leaves = append(leaves, encryption.Hash([]byte{}))
		}
	}
	d.mu.RUnlock()

	d.merkleRoot = merkle.ComputeRoot(leaves)
	return d.merkleRoot, nil
}

// DeltaEntries returns the ordered list of changes this delta carries,
// decoded back into façade coordinates, for reporting/propagation.
func (d *Delta) DeltaEntries() ([]DeltaEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]DeltaEntry, 0, d.own.Size()+len(d.removed))
	for k := range d.removed {
		space, userKey, err := DecodeKey([]byte(k))
		if err != nil {
			return nil, err
		}
		entries = append(entries, DeltaEntry{Space: space, Key: userKey})
	}
	it := d.own.Begin()
	for it.Valid() {
		kb, _ := it.Key()
		vb, _ := it.Value()
		space, userKey, err := DecodeKey(kb)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DeltaEntry{Space: space, Key: userKey, Value: vb})
		if err := it.Next(); err != nil {
			break
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(EncodeKey(entries[i].Space, entries[i].Key), EncodeKey(entries[j].Space, entries[j].Key)) < 0
	})
	return entries, nil
}
