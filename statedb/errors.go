package statedb

import "github.com/koinos/koinos-state-db/core/common"

// Error codes from the taxonomy: user errors are recoverable, internal
// errors indicate a programming mistake by the caller or this library.
var (
	// ErrNodeFinalized is returned when a write is attempted against a
	// finalized delta.
	ErrNodeFinalized = common.NewError("node_finalized", "state node is finalized and cannot be written to")

	// ErrCannotDiscard is returned by DiscardNode when asked to discard
	// the current head.
	ErrCannotDiscard = common.NewError("cannot_discard", "cannot discard the current head node")

	// ErrIllegalArgument covers cloning a finalized node, an unknown
	// source node, and similar caller mistakes that are not lookup
	// misses.
	ErrIllegalArgument = common.NewError("illegal_argument", "illegal argument")

	// ErrStateDBClosed is returned by Close, Reset, CreateWritableNode,
	// FinalizeNode, DiscardNode, CommitNode and CloneNode when the
	// database has not been opened, or has been closed. The lookup
	// methods (GetNode, GetHead, GetRoot, GetForkHeads, GetAllNodes,
	// GetNodeAtRevision, Stats) do not check this and return no error;
	// on a closed database they report a miss or an empty result.
	ErrStateDBClosed = common.NewError("state_db_closed", "state database is not open")

	// ErrInternal covers invariant violations: commit on the root delta,
	// malformed metadata on open, and similar conditions a caller cannot
	// recover from.
	ErrInternal = common.NewError("internal_error", "internal state database error")

	// ErrIteratorOutOfRange is returned by iterator misuse: dereferencing
	// end, advancing past end, or decrementing begin.
	ErrIteratorOutOfRange = common.NewError("iterator_out_of_range", "iterator out of range")

	// ErrNotFinalized is returned by MerkleRoot on a non-finalized delta.
	ErrNotFinalized = common.NewError("not_finalized", "merkle root requested on a non-finalized state node")
)
