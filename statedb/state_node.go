package statedb

import "bytes"

// StateNode is the typed, user-facing wrapper around a delta: it encodes
// (object_space, key) into the canonical backend key, enforces the
// finalized/writable state machine, and exposes the get/put/remove/scan
// operations callers actually use instead of poking at raw bytes.
type StateNode struct {
	delta *Delta
}

// NewStateNode wraps d in a façade.
func NewStateNode(d *Delta) *StateNode {
	return &StateNode{delta: d}
}

// Delta returns the underlying delta - used by the database layer, which
// needs the raw node to finalize, clone, or commit it.
func (n *StateNode) Delta() *Delta { return n.delta }

// ID returns the node id.
func (n *StateNode) ID() NodeID { return n.delta.ID() }

// Revision returns the node's revision number.
func (n *StateNode) Revision() uint64 { return n.delta.Revision() }

// IsFinalized reports whether this node accepts further writes.
func (n *StateNode) IsFinalized() bool { return n.delta.IsFinalized() }

// GetObject returns the current value for (space, key), or false if
// absent.
func (n *StateNode) GetObject(space ObjectSpace, key []byte) ([]byte, bool) {
	return n.delta.Find(EncodeKey(space, key))
}

// PutObject writes value at (space, key) and returns the net byte delta:
// for a brand new key this is the full encoded size (key + value); for
// an overwrite it is just the value size delta, since the key's own
// storage cost doesn't change.
func (n *StateNode) PutObject(space ObjectSpace, key, value []byte) (int64, error) {
	if n.delta.IsFinalized() {
		return 0, ErrNodeFinalized
	}
	enc := EncodeKey(space, key)
	old, hadOld := n.delta.Find(enc)
	if err := n.delta.Put(enc, value); err != nil {
		return 0, err
	}
	if !hadOld {
		return int64(len(enc)) + int64(len(value)), nil
	}
	return int64(len(value)) - int64(len(old)), nil
}

// RemoveObject erases (space, key). No-op if already absent.
func (n *StateNode) RemoveObject(space ObjectSpace, key []byte) error {
	return n.delta.Erase(EncodeKey(space, key))
}

// GetNextObject returns the first entry with an encoded key strictly
// greater than (space, key) whose object space is still space, or
// (nil, nil, false) if none.
func (n *StateNode) GetNextObject(space ObjectSpace, key []byte) ([]byte, []byte, bool) {
	enc := EncodeKey(space, key)
	ms := NewMergeState(n.delta)
	cur := ms.LowerBound(enc)
	if cur.Valid() {
		if k, _ := cur.Key(); bytes.Equal(k, enc) {
			if err := cur.Next(); err != nil {
				return nil, nil, false
			}
		}
	}
	if !cur.Valid() {
		return nil, nil, false
	}
	k, _ := cur.Key()
	decSpace, userKey, err := DecodeKey(k)
	if err != nil || !decSpace.Equal(space) {
		return nil, nil, false
	}
	v, _ := cur.Value()
	return v, userKey, true
}

// GetPrevObject is GetNextObject's mirror: the last entry strictly less
// than (space, key) whose object space is still space.
func (n *StateNode) GetPrevObject(space ObjectSpace, key []byte) ([]byte, []byte, bool) {
	enc := EncodeKey(space, key)
	ms := NewMergeState(n.delta)
	cur := ms.LowerBound(enc)
	var err error
	if cur.Valid() {
		err = cur.Prev()
	} else {
		cur = ms.End()
		err = cur.Prev()
	}
	if err != nil || !cur.Valid() {
		return nil, nil, false
	}
	k, _ := cur.Key()
	decSpace, userKey, derr := DecodeKey(k)
	if derr != nil || !decSpace.Equal(space) {
		return nil, nil, false
	}
	v, _ := cur.Value()
	return v, userKey, true
}

// CreateAnonymousNode returns a fresh speculative child sharing this
// node's id/revision, meant for transaction-scoped writes that are
// published with Commit (which squashes into this node) rather than
// promoted to durable storage.
func (n *StateNode) CreateAnonymousNode() *StateNode {
	return NewStateNode(n.delta.MakeAnonymousChild())
}

// Commit publishes an anonymous node's writes into the delta that spawned
// it. Only meaningful on a node obtained from CreateAnonymousNode - it is
// a thin name for Delta.Squash, which the database-level block commit
// path (Database.CommitNode) does not use.
func (n *StateNode) Commit() error {
	return n.delta.Squash()
}

// MerkleRoot returns the node's merkle root, failing unless it has been
// finalized.
func (n *StateNode) MerkleRoot() (string, error) {
	return n.delta.MerkleRoot()
}

// DeltaEntries returns this node's changes, decoded back into façade
// coordinates.
func (n *StateNode) DeltaEntries() ([]DeltaEntry, error) {
	return n.delta.DeltaEntries()
}
