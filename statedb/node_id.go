package statedb

import (
	"encoding/hex"

	"github.com/koinos/koinos-state-db/core/encryption"
)

// NodeID identifies a delta in the version tree - a content hash produced
// by the embedder (block hash, transaction id, or similar). It is fixed
// width, matching encryption.HASH_LENGTH, so it is a comparable Go value
// usable directly as a map key.
type NodeID [encryption.HASH_LENGTH]byte

// ZeroNodeID is the sentinel "genesis" id: an empty store's root carries
// this id until the first commit.
var ZeroNodeID NodeID

// NodeIDFromBytes copies b into a NodeID. b must be exactly HASH_LENGTH
// bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != len(id) {
		return id, ErrIllegalArgument
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw id bytes.
func (id NodeID) Bytes() []byte {
	return id[:]
}

// String hex-encodes the id.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the genesis sentinel.
func (id NodeID) IsZero() bool {
	return id == ZeroNodeID
}
