package statedb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koinos/koinos-state-db/core/encryption"
	"github.com/koinos/koinos-state-db/merkle"
)

func mkID(b byte) NodeID {
	var id NodeID
	id[0] = b
	return id
}

func TestDeltaPutFindErase(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	child := root.MakeChild(mkID(1), []byte("h1"))

	_, ok := child.Find([]byte("a"))
	require.False(t, ok)

	require.NoError(t, child.Put([]byte("a"), []byte("1")))
	v, ok := child.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
	require.True(t, child.IsModified([]byte("a")))

	require.NoError(t, child.Erase([]byte("a")))
	_, ok = child.Find([]byte("a"))
	require.False(t, ok)
}

func TestDeltaFindWalksAncestorChain(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("from-root")))

	child := root.MakeChild(mkID(1), nil)
	v, ok := child.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("from-root"), v)

	grandchild := child.MakeChild(mkID(2), nil)
	v, ok = grandchild.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("from-root"), v)
}

func TestDeltaChildShadowsParent(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("old")))
	child := root.MakeChild(mkID(1), nil)

	require.NoError(t, child.Put([]byte("a"), []byte("new")))
	v, ok := child.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("new"), v)

	v, ok = root.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("old"), v, "parent's own view must be unaffected by the child's write")
}

func TestDeltaTombstoneHidesAncestorValue(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("old")))
	child := root.MakeChild(mkID(1), nil)

	require.NoError(t, child.Erase([]byte("a")))
	_, ok := child.Find([]byte("a"))
	require.False(t, ok)
	require.True(t, child.IsModified([]byte("a")), "a tombstone counts as modified")

	v, ok := root.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("old"), v)
}

func TestDeltaEraseOwnWriteWithoutAncestorValueIsNotTombstoned(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	child := root.MakeChild(mkID(1), nil)

	require.NoError(t, child.Put([]byte("a"), []byte("1")))
	require.NoError(t, child.Erase([]byte("a")))

	require.False(t, child.IsModified([]byte("a")), "erasing a key only ever written on this delta leaves no trace")
}

func TestMakeAnonymousChildSharesIdentity(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	block := root.MakeChild(mkID(1), []byte("h"))
	anon := block.MakeAnonymousChild()

	require.Equal(t, block.ID(), anon.ID())
	require.Equal(t, block.Revision(), anon.Revision())
}

func TestDeltaSquashPublishesIntoParent(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("keep"), []byte("v0")))
	block := root.MakeChild(mkID(1), nil)
	require.NoError(t, block.Put([]byte("keep"), []byte("v1")))

	anon := block.MakeAnonymousChild()
	require.NoError(t, anon.Put([]byte("a"), []byte("1")))
	require.NoError(t, anon.Erase([]byte("keep")))

	require.NoError(t, anon.Squash())

	_, ok := block.Find([]byte("keep"))
	require.False(t, ok, "squash must propagate the anonymous node's tombstone")
	v, ok := block.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestDeltaCommitFlattensChainIntoRoot(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("from-root")))

	c1 := root.MakeChild(mkID(1), nil)
	require.NoError(t, c1.Put([]byte("b"), []byte("from-c1")))
	c2 := c1.MakeChild(mkID(2), []byte("h2"))
	require.NoError(t, c2.Put([]byte("a"), []byte("overwritten")))
	require.NoError(t, c2.Erase([]byte("b")))

	require.NoError(t, c2.Commit())

	_, hasParent := c2.ParentID()
	require.False(t, hasParent)
	v, ok := c2.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("overwritten"), v)
	_, ok = c2.Find([]byte("b"))
	require.False(t, ok)
}

func TestDeltaCommitOnRootFails(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.Error(t, root.Commit())
}

func TestDeltaWriteAgainstFinalizedFails(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	child := root.MakeChild(mkID(1), nil)
	child.Finalize()

	require.ErrorIs(t, child.Put([]byte("a"), []byte("1")), ErrNodeFinalized)
	require.ErrorIs(t, child.Erase([]byte("a")), ErrNodeFinalized)
}

func TestDeltaWaitFinalized(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	child := root.MakeChild(mkID(1), nil)

	require.False(t, child.WaitFinalized(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		child.Finalize()
		close(done)
	}()
	require.True(t, child.WaitFinalized(0))
	<-done
}

func TestDeltaMerkleRootRequiresFinalized(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	child := root.MakeChild(mkID(1), nil)

	_, err := child.MerkleRoot()
	require.ErrorIs(t, err, ErrNotFinalized)
}

func TestDeltaMerkleRootDeterministic(t *testing.T) {
	values := map[string]string{"a": "1", "b": "2"}
	newDelta := func(first, second string) *Delta {
		root := newRootDelta(NewMemoryBackend())
		child := root.MakeChild(mkID(1), nil)
		require.NoError(t, child.Put([]byte(first), []byte(values[first])))
		require.NoError(t, child.Put([]byte(second), []byte(values[second])))
		child.Finalize()
		return child
	}

	d1 := newDelta("b", "a")
	d2 := newDelta("a", "b")
	root1, err := d1.MerkleRoot()
	require.NoError(t, err)
	root2, err := d2.MerkleRoot()
	require.NoError(t, err)
	require.Equal(t, root1, root2, "key insertion order must not affect the merkle root")
	require.NotEmpty(t, root1)
}

func TestDeltaCloneIsIndependent(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	block := root.MakeChild(mkID(1), []byte("h"))
	require.NoError(t, block.Put([]byte("a"), []byte("1")))

	clone, err := block.Clone(mkID(2), []byte("h2"))
	require.NoError(t, err)

	require.NoError(t, clone.Put([]byte("a"), []byte("2")))
	v, ok := block.Find([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v, "cloning must not let later writes on the clone leak back into the source")
}

func TestDeltaDeltaEntries(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put(EncodeKey(ObjectSpace{ID: 1}, []byte("x")), []byte("old")))
	block := root.MakeChild(mkID(1), nil)

	space := ObjectSpace{ID: 1}
	require.NoError(t, block.Put(EncodeKey(space, []byte("y")), []byte("new")))
	require.NoError(t, block.Erase(EncodeKey(space, []byte("x"))))

	entries, err := block.DeltaEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byKey := map[string]DeltaEntry{}
	for _, e := range entries {
		byKey[string(e.Key)] = e
	}
	require.Equal(t, []byte("new"), byKey["y"].Value)
	require.Nil(t, byKey["x"].Value)
}

func TestDeltaMerkleRootMatchesLeafHashTree(t *testing.T) {
	space := ObjectSpace{}
	root := newRootDelta(NewMemoryBackend())

	b1 := NewStateNode(root.MakeChild(mkID(1), nil))
	for k, v := range map[string]string{"a": "alice", "b": "bob", "c": "charlie"} {
		_, err := b1.PutObject(space, []byte(k), []byte(v))
		require.NoError(t, err)
	}
	b1.Delta().Finalize()

	got, err := b1.MerkleRoot()
	require.NoError(t, err)
	want := merkle.ComputeRoot([]string{
		encryption.Hash(EncodeKey(space, []byte("a"))), encryption.Hash("alice"),
		encryption.Hash(EncodeKey(space, []byte("b"))), encryption.Hash("bob"),
		encryption.Hash(EncodeKey(space, []byte("c"))), encryption.Hash("charlie"),
	})
	require.Equal(t, want, got)

	// A second delta that overwrites a, adds d, and tombstones b hashes
	// the tombstone as an empty-byte value leaf.
	b2 := NewStateNode(b1.Delta().MakeChild(mkID(2), nil))
	_, err = b2.PutObject(space, []byte("a"), []byte("alicia"))
	require.NoError(t, err)
	_, err = b2.PutObject(space, []byte("d"), []byte("dave"))
	require.NoError(t, err)
	require.NoError(t, b2.RemoveObject(space, []byte("b")))
	b2.Delta().Finalize()

	got, err = b2.MerkleRoot()
	require.NoError(t, err)
	want = merkle.ComputeRoot([]string{
		encryption.Hash(EncodeKey(space, []byte("a"))), encryption.Hash("alicia"),
		encryption.Hash(EncodeKey(space, []byte("b"))), encryption.Hash(""),
		encryption.Hash(EncodeKey(space, []byte("d"))), encryption.Hash("dave"),
	})
	require.Equal(t, want, got)
}

func TestDeltaEntriesWireRoundTrip(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	space := ObjectSpace{Zone: []byte("zone"), ID: 7}
	require.NoError(t, root.own.Put(EncodeKey(space, []byte("gone")), []byte("old")))

	block := root.MakeChild(mkID(1), nil)
	require.NoError(t, block.Put(EncodeKey(space, []byte("kept")), []byte("new")))
	require.NoError(t, block.Erase(EncodeKey(space, []byte("gone"))))

	entries, err := block.DeltaEntries()
	require.NoError(t, err)

	wire, err := EncodeDeltaEntries(entries)
	require.NoError(t, err)
	decoded, err := DecodeDeltaEntries(wire)
	require.NoError(t, err)
	require.Equal(t, entries, decoded)
}
