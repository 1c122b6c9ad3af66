package merkle

import "github.com/koinos/koinos-state-db/core/common"

// ErrInvalidTree indicates a tree passed to SetTree does not have the
// length computeSize expects for the stated leaf count.
var ErrInvalidTree = common.NewError("invalid_tree", "merkle tree length does not match leaf count")
