package statedb

import (
	"bytes"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/koinos/koinos-state-db/core/logging"
)

// SharedLock and UniqueLock are opaque proof tokens: every public
// database method takes either a shared or a unique lock token as an
// argument, so the compiler - not a runtime assertion - forces the
// caller to already be holding the right mode.
type SharedLock struct{ db *Database }

// UniqueLock is the write-mode counterpart of SharedLock.
type UniqueLock struct{ db *Database }

// RLock acquires the database-wide shared lock and returns the proof
// token every SHARED method requires.
func (db *Database) RLock() SharedLock {
	db.mu.RLock()
	return SharedLock{db: db}
}

// Unlock releases the shared lock l was obtained from.
func (l SharedLock) Unlock() { l.db.mu.RUnlock() }

// Lock acquires the database-wide unique lock and returns the proof token
// every UNIQUE method requires.
func (db *Database) Lock() UniqueLock {
	db.mu.Lock()
	return UniqueLock{db: db}
}

// Unlock releases the unique lock l was obtained from.
func (l UniqueLock) Unlock() { l.db.mu.Unlock() }

// GenesisInit seeds a freshly created (empty) root. It runs once, during
// Open, only when the backend had no prior state.
type GenesisInit func(root *StateNode) error

// Stats is a snapshot of database-wide counters, exposed for operators
// and tests rather than consumed internally.
type Stats struct {
	NodeCount     int
	ForkHeadCount int
	HeadRevision  uint64
	RootRevision  uint64
	Comparator    string
}

// Database owns the root delta, the index of every live delta by id, the
// fork-head set, the fork-choice comparator, and the database-wide
// shared/unique lock. Index and fork-head mutation is internally
// synchronized by idxMu so methods holding db.mu only in read mode may
// still safely mutate them.
type Database struct {
	mu sync.RWMutex

	idxMu         sync.Mutex
	index         map[NodeID]*Delta
	forkHeads     map[NodeID]*Delta
	finalizeOrder map[NodeID]int64
	seq           atomic.Int64

	root *Delta
	head *Delta

	comparator Comparator
	opened     bool
}

// NewDatabase constructs an unopened database using comparator for head
// selection.
func NewDatabase(comparator Comparator) *Database {
	return &Database{comparator: comparator}
}

// Open constructs (or loads) the root backend: a persistent store rooted
// at path, or a transient in-memory map if path is empty. If the backend
// turns out to be freshly created (root id is the zero sentinel and it
// holds no data), genesisInit runs against the root so the embedder can
// seed system state before the database is used.
func (db *Database) Open(path string, opts Options, genesisInit GenesisInit, lock UniqueLock) error {
	if db.opened {
		return ErrInternal
	}

	var backend Backend
	var err error
	if path == "" {
		backend = NewMemoryBackend()
		if err := backend.StoreMetadata(Metadata{ID: ZeroNodeID}); err != nil {
			return err
		}
	} else {
		backend, err = OpenPersistentBackend(path, opts)
		if err != nil {
			return err
		}
	}

	root := newRootDelta(backend)
	fresh := root.id.IsZero() && backend.Size() == 0

	db.index = map[NodeID]*Delta{root.id: root}
	db.forkHeads = map[NodeID]*Delta{root.id: root}
	db.finalizeOrder = map[NodeID]int64{root.id: 0}
	db.root = root
	db.head = root
	db.opened = true

	if fresh && genesisInit != nil {
		// The root is writable only for the duration of genesis seeding;
		// it re-seals before the database is handed back.
		root.finalizeMu.Lock()
		root.finalized = false
		root.finalizeMu.Unlock()
		err := genesisInit(NewStateNode(root))
		root.Finalize()
		if err != nil {
			db.opened = false
			return err
		}
	}

	logging.Logger.Info("state database opened", zap.String("path", path), zap.Bool("fresh", fresh))
	return nil
}

// Close drops the index, fork-head set, and root delta, closing the
// underlying backend. Further operations fail until reopened.
func (db *Database) Close(lock UniqueLock) error {
	if !db.opened {
		return ErrStateDBClosed
	}
	var err error
	if db.root != nil {
		err = db.root.own.Close()
	}
	db.index = nil
	db.forkHeads = nil
	db.finalizeOrder = nil
	db.root = nil
	db.head = nil
	db.opened = false
	logging.Logger.Info("state database closed")
	return err
}

// Reset wipes the root backend and reinitializes root to the zero-id,
// revision-0 state. Every other live node becomes unreachable.
func (db *Database) Reset(lock UniqueLock) error {
	if !db.opened {
		return ErrStateDBClosed
	}
	if err := db.root.own.Clear(); err != nil {
		return err
	}
	db.root.mu.Lock()
	db.root.id = ZeroNodeID
	db.root.revision = 0
	db.root.header = nil
	db.root.merkleRoot = ""
	db.root.mu.Unlock()
	if err := db.root.own.StoreMetadata(Metadata{ID: ZeroNodeID}); err != nil {
		return err
	}

	db.idxMu.Lock()
	db.index = map[NodeID]*Delta{ZeroNodeID: db.root}
	db.forkHeads = map[NodeID]*Delta{ZeroNodeID: db.root}
	db.finalizeOrder = map[NodeID]int64{ZeroNodeID: 0}
	db.head = db.root
	db.idxMu.Unlock()
	return nil
}

// CreateWritableNode creates a writable child of parentID. Returns
// (nil, nil) - not an error - if parentID is unknown or newID already
// exists: the test suite relies on duplicate creation reporting a lookup
// miss rather than throwing.
func (db *Database) CreateWritableNode(parentID, newID NodeID, header []byte, lock SharedLock) (*StateNode, error) {
	if !db.opened {
		return nil, ErrStateDBClosed
	}
	db.idxMu.Lock()
	parent, ok := db.index[parentID]
	if !ok {
		db.idxMu.Unlock()
		return nil, nil
	}
	if _, exists := db.index[newID]; exists {
		db.idxMu.Unlock()
		return nil, nil
	}
	db.idxMu.Unlock()

	child := parent.MakeChild(newID, header)

	db.idxMu.Lock()
	db.index[newID] = child
	db.idxMu.Unlock()
	return NewStateNode(child), nil
}

// FinalizeNode finalizes id, moves it from its parent into the fork-head
// set, recomputes head under the active comparator, and wakes any
// goroutine blocked in the node's WaitFinalized.
func (db *Database) FinalizeNode(id NodeID, lock SharedLock) error {
	if !db.opened {
		return ErrStateDBClosed
	}
	db.idxMu.Lock()
	node, ok := db.index[id]
	if !ok {
		db.idxMu.Unlock()
		return ErrIllegalArgument
	}
	db.idxMu.Unlock()

	node.Finalize()

	db.idxMu.Lock()
	defer db.idxMu.Unlock()
	if parentID, ok := node.ParentID(); ok {
		delete(db.forkHeads, parentID)
	}
	db.forkHeads[id] = node
	db.finalizeOrder[id] = db.seq.Add(1)
	db.recomputeHeadLocked()
	return nil
}

// DiscardNode removes id from the index and fork-head set. Outstanding
// handles remain valid until dropped, but the node becomes unreachable
// via GetNode. Discarding the current head fails with ErrCannotDiscard.
// If id's parent is left with no other children in the index, the parent
// rejoins the fork-head set.
func (db *Database) DiscardNode(id NodeID, lock SharedLock) error {
	if !db.opened {
		return ErrStateDBClosed
	}
	db.idxMu.Lock()
	defer db.idxMu.Unlock()

	node, ok := db.index[id]
	if !ok {
		return ErrIllegalArgument
	}
	if db.head != nil && db.head.ID() == id {
		return ErrCannotDiscard
	}

	delete(db.index, id)
	delete(db.forkHeads, id)
	delete(db.finalizeOrder, id)

	if parentID, ok := node.ParentID(); ok {
		hasOtherChild := false
		for _, cand := range db.index {
			if pid, ok2 := cand.ParentID(); ok2 && pid == parentID {
				hasOtherChild = true
				break
			}
		}
		if !hasOtherChild {
			if parent, ok2 := db.index[parentID]; ok2 {
				db.forkHeads[parentID] = parent
			}
		}
	}

	db.recomputeHeadLocked()
	return nil
}

// CommitNode flattens id's ancestor chain into the root backend, then
// prunes the index down to only descendants of the new root - every
// other fork becomes unreachable.
func (db *Database) CommitNode(id NodeID, lock UniqueLock) error {
	if !db.opened {
		return ErrStateDBClosed
	}
	db.idxMu.Lock()
	node, ok := db.index[id]
	db.idxMu.Unlock()
	if !ok {
		return ErrIllegalArgument
	}

	if err := node.Commit(); err != nil {
		return err
	}

	db.idxMu.Lock()
	defer db.idxMu.Unlock()

	newIndex := make(map[NodeID]*Delta, len(db.index))
	newForkHeads := make(map[NodeID]*Delta, len(db.forkHeads))
	newOrder := make(map[NodeID]int64, len(db.finalizeOrder))
	for nid, d := range db.index {
		if !isDescendantOrSelf(d, node) {
			continue
		}
		newIndex[nid] = d
		if _, ok := db.forkHeads[nid]; ok {
			newForkHeads[nid] = d
		}
		if ord, ok := db.finalizeOrder[nid]; ok {
			newOrder[nid] = ord
		}
	}
	db.index = newIndex
	db.forkHeads = newForkHeads
	db.finalizeOrder = newOrder
	db.root = node
	db.recomputeHeadLocked()
	return nil
}

func isDescendantOrSelf(d, ancestor *Delta) bool {
	for cur := d; cur != nil; {
		if cur == ancestor {
			return true
		}
		cur.mu.RLock()
		p := cur.parent
		cur.mu.RUnlock()
		cur = p
	}
	return false
}

// CloneNode clones srcID as newID. Fails with ErrIllegalArgument if srcID
// is unknown or already finalized.
func (db *Database) CloneNode(srcID, newID NodeID, header []byte, lock SharedLock) (*StateNode, error) {
	if !db.opened {
		return nil, ErrStateDBClosed
	}
	db.idxMu.Lock()
	src, ok := db.index[srcID]
	db.idxMu.Unlock()
	if !ok {
		return nil, ErrIllegalArgument
	}
	if src.IsFinalized() {
		return nil, ErrIllegalArgument
	}

	clone, err := src.Clone(newID, header)
	if err != nil {
		return nil, err
	}

	db.idxMu.Lock()
	db.index[newID] = clone
	db.idxMu.Unlock()
	return NewStateNode(clone), nil
}

// GetNode looks up id in the index.
func (db *Database) GetNode(id NodeID, lock SharedLock) (*StateNode, bool) {
	db.idxMu.Lock()
	defer db.idxMu.Unlock()
	d, ok := db.index[id]
	if !ok {
		return nil, false
	}
	return NewStateNode(d), true
}

// GetHead returns the current chain head, or nil if the fork-head set is
// empty.
func (db *Database) GetHead(lock SharedLock) *StateNode {
	db.idxMu.Lock()
	defer db.idxMu.Unlock()
	if db.head == nil {
		return nil
	}
	return NewStateNode(db.head)
}

// GetRoot returns the current root.
func (db *Database) GetRoot(lock SharedLock) *StateNode {
	db.idxMu.Lock()
	defer db.idxMu.Unlock()
	if db.root == nil {
		return nil
	}
	return NewStateNode(db.root)
}

// GetForkHeads returns the current fork-head set, ordered by id for a
// deterministic result.
func (db *Database) GetForkHeads(lock SharedLock) []*StateNode {
	db.idxMu.Lock()
	defer db.idxMu.Unlock()
	ids := make([]NodeID, 0, len(db.forkHeads))
	for id := range db.forkHeads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i].Bytes(), ids[j].Bytes()) < 0 })
	out := make([]*StateNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, NewStateNode(db.forkHeads[id]))
	}
	return out
}

// GetAllNodes returns every live node in a deterministic depth-first
// order rooted at the current root, children ordered by id.
func (db *Database) GetAllNodes(lock SharedLock) []*StateNode {
	db.idxMu.Lock()
	defer db.idxMu.Unlock()

	children := make(map[NodeID][]*Delta)
	for _, d := range db.index {
		if pid, ok := d.ParentID(); ok {
			children[pid] = append(children[pid], d)
		}
	}
	for pid := range children {
		kids := children[pid]
		sort.Slice(kids, func(i, j int) bool {
			return bytes.Compare(kids[i].ID().Bytes(), kids[j].ID().Bytes()) < 0
		})
	}

	var out []*StateNode
	var walk func(d *Delta)
	walk = func(d *Delta) {
		out = append(out, NewStateNode(d))
		for _, c := range children[d.ID()] {
			walk(c)
		}
	}
	if db.root != nil {
		walk(db.root)
	}
	return out
}

// GetNodeAtRevision walks an ancestor chain looking for the node at
// revision: descendant's chain when one is given, the current head's
// otherwise. An unknown descendant is a lookup miss.
func (db *Database) GetNodeAtRevision(revision uint64, descendant *NodeID, lock SharedLock) (*StateNode, bool) {
	db.idxMu.Lock()
	cur := db.head
	if descendant != nil {
		cur = db.index[*descendant]
	}
	db.idxMu.Unlock()

	for cur != nil {
		if cur.Revision() == revision {
			return NewStateNode(cur), true
		}
		pid, ok := cur.ParentID()
		if !ok {
			return nil, false
		}
		db.idxMu.Lock()
		cur = db.index[pid]
		db.idxMu.Unlock()
	}
	return nil, false
}

// Stats reports database-wide counters for operators and tests.
func (db *Database) Stats(lock SharedLock) Stats {
	db.idxMu.Lock()
	defer db.idxMu.Unlock()
	s := Stats{NodeCount: len(db.index), ForkHeadCount: len(db.forkHeads)}
	if db.head != nil {
		s.HeadRevision = db.head.Revision()
	}
	if db.root != nil {
		s.RootRevision = db.root.Revision()
	}
	if db.comparator != nil {
		s.Comparator = db.comparator.Name()
	}
	return s
}

// recomputeHeadLocked re-evaluates head over the full fork-head set under
// the active comparator. Callers must hold idxMu.
func (db *Database) recomputeHeadLocked() {
	if len(db.forkHeads) == 0 {
		return
	}
	candidates := make([]*Delta, 0, len(db.forkHeads))
	for _, d := range db.forkHeads {
		candidates = append(candidates, d)
	}
	head, err := db.comparator.Head(candidates, db.finalizeOrder)
	if err != nil {
		return
	}
	db.head = head
}
