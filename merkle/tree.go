// Package merkle builds binary merkle trees over ordered leaf hashes and
// verifies inclusion paths against a computed root, the way a delta's
// content-addressed root hash is derived from its own writes and
// tombstones.
package merkle

import "github.com/koinos/koinos-state-db/core/encryption"

// Hashable is anything that can contribute a leaf hash to a MerkleTree.
type Hashable interface {
	GetHash() string
}

// MTPathNode is one sibling hash on the route from a leaf up to the root.
type MTPathNode struct {
	Hash   string
	IsLeft bool // true if Hash is the left sibling of the node on the path
}

// MTPath is the ordered list of sibling hashes needed to recompute the
// root from a single leaf hash.
type MTPath struct {
	Nodes []MTPathNode
}

// MerkleTreeI is the contract implemented by MerkleTree.
type MerkleTreeI interface {
	ComputeTree(hashes []Hashable)
	GetTree() []string
	SetTree(leavesCount int, tree []string) error
	GetRoot() string
	GetPath(h Hashable) *MTPath
	VerifyPath(h Hashable, path *MTPath) bool
	GetLeafIndex(h Hashable) int
}

// MerkleTree is a binary hash tree flattened into a single slice, level by
// level, leaves first. A level with an odd number of nodes pairs its last
// node with itself, matching MHash(x, x) rather than promoting it unpaired.
type MerkleTree struct {
	tree        []string
	leavesCount int
	levels      int
}

// MHash combines two hex-encoded hashes into their parent hash.
func MHash(h1, h2 string) string {
	return encryption.Hash(h1 + h2)
}

// computeSize returns the total number of nodes and the number of levels
// (leaf level included) of the flattened tree for a given leaf count. A
// lone leaf still costs one level, since it is hashed with itself to form
// the root.
func computeSize(leaves int) (int, int) {
	if leaves == 0 {
		return 0, 0
	}
	size := leaves
	levels := 1
	n := leaves
	for n > 1 || levels == 1 {
		n = (n + 1) / 2
		size += n
		levels++
		if n == 1 {
			break
		}
	}
	return size, levels
}

// ComputeTree rebuilds the tree from scratch over hashes, in the order
// given.
func (mt *MerkleTree) ComputeTree(hashes []Hashable) {
	mt.leavesCount = len(hashes)
	if mt.leavesCount == 0 {
		mt.tree = nil
		mt.levels = 0
		return
	}
	size, levels := computeSize(mt.leavesCount)
	mt.levels = levels
	mt.tree = make([]string, 0, size)

	level := make([]string, mt.leavesCount)
	for i, h := range hashes {
		level[i] = h.GetHash()
	}
	mt.tree = append(mt.tree, level...)

	for len(level) > 1 || len(mt.tree) < size {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, MHash(level[i], level[i+1]))
			} else {
				next = append(next, MHash(level[i], level[i]))
			}
		}
		mt.tree = append(mt.tree, next...)
		level = next
		if len(level) == 1 && len(mt.tree) >= size {
			break
		}
	}
}

// GetTree returns the flattened tree, leaves first.
func (mt *MerkleTree) GetTree() []string {
	return mt.tree
}

// SetTree restores a tree previously obtained from GetTree together with
// the leaf count it was built over, validating that tree's length matches
// what leavesCount implies.
func (mt *MerkleTree) SetTree(leavesCount int, tree []string) error {
	size, levels := computeSize(leavesCount)
	if len(tree) != size {
		return ErrInvalidTree
	}
	mt.leavesCount = leavesCount
	mt.levels = levels
	mt.tree = tree
	return nil
}

// GetRoot returns the last entry of the tree, or the empty hash for an
// empty tree.
func (mt *MerkleTree) GetRoot() string {
	if len(mt.tree) == 0 {
		return encryption.EmptyHash
	}
	return mt.tree[len(mt.tree)-1]
}

// GetLeafIndex returns the position of h's hash among the leaves, or -1 if
// absent.
func (mt *MerkleTree) GetLeafIndex(h Hashable) int {
	hash := h.GetHash()
	for i := 0; i < mt.leavesCount; i++ {
		if mt.tree[i] == hash {
			return i
		}
	}
	return -1
}

// GetPath returns the sibling hashes needed to walk h up to the root. It
// returns an empty, non-nil path if h is not a leaf of this tree.
func (mt *MerkleTree) GetPath(h Hashable) *MTPath {
	idx := mt.GetLeafIndex(h)
	if idx < 0 {
		return &MTPath{}
	}

	path := &MTPath{}
	levelStart := 0
	levelSize := mt.leavesCount
	pos := idx
	// Walk every level below the root; a lone leaf still has one level
	// above it, where it is paired with itself.
	for levelStart+levelSize < len(mt.tree) {
		siblingPos := pos ^ 1
		if siblingPos >= levelSize {
			siblingPos = pos
		}
		path.Nodes = append(path.Nodes, MTPathNode{
			Hash:   mt.tree[levelStart+siblingPos],
			IsLeft: siblingPos < pos,
		})
		levelStart += levelSize
		levelSize = (levelSize + 1) / 2
		pos = pos / 2
	}
	return path
}

// VerifyPath recomputes the root from h and path and compares it against
// this tree's current root.
func (mt *MerkleTree) VerifyPath(h Hashable, path *MTPath) bool {
	cur := h.GetHash()
	for _, node := range path.Nodes {
		if node.IsLeft {
			cur = MHash(node.Hash, cur)
		} else {
			cur = MHash(cur, node.Hash)
		}
	}
	return cur == mt.GetRoot()
}

// ComputeRoot hashes a flat, already-ordered list of leaf hashes into a
// root without retaining the intermediate tree. It is used by delta
// merkle-root computation, which has no need to keep a path index around.
func ComputeRoot(leaves []string) string {
	if len(leaves) == 0 {
		return encryption.EmptyHash
	}
	level := leaves
	first := true
	for len(level) > 1 || first {
		first = false
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, MHash(level[i], level[i+1]))
			} else {
				next = append(next, MHash(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
