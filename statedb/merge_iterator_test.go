package statedb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func collectForward(mc *MergeCursor) []string {
	var out []string
	for mc.Valid() {
		k, _ := mc.Key()
		out = append(out, string(k))
		if err := mc.Next(); err != nil {
			break
		}
	}
	return out
}

func TestMergeIteratorSingleLayer(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("1")))
	require.NoError(t, root.own.Put([]byte("b"), []byte("2")))

	ms := NewMergeState(root)
	require.Equal(t, []string{"a", "b"}, collectForward(ms.Begin()))
}

func TestMergeIteratorSkipsShadowedAndTombstoned(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("old")))
	require.NoError(t, root.own.Put([]byte("b"), []byte("old")))
	require.NoError(t, root.own.Put([]byte("c"), []byte("old")))

	child := root.MakeChild(mkID(1), nil)
	require.NoError(t, child.Put([]byte("b"), []byte("new")))
	require.NoError(t, child.Erase([]byte("c")))
	require.NoError(t, child.Put([]byte("d"), []byte("new")))

	ms := NewMergeState(child)
	cur := ms.Begin()
	require.Equal(t, []string{"a", "b", "d"}, collectForward(cur))

	v, err := ms.Find([]byte("b")).Value()
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)
}

func TestMergeIteratorBackward(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, root.own.Put([]byte(k), []byte(k)))
	}

	ms := NewMergeState(root)
	cur := ms.End()
	var got []string
	for cur.Prev() == nil {
		k, _ := cur.Key()
		got = append(got, string(k))
	}
	require.Equal(t, []string{"c", "b", "a"}, got)
}

func TestMergeIteratorZigZag(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, root.own.Put([]byte(k), []byte(k)))
	}
	child := root.MakeChild(mkID(1), nil)

	ms := NewMergeState(child)
	cur := ms.Begin()

	k, _ := cur.Key()
	require.Equal(t, "a", string(k))

	require.NoError(t, cur.Next())
	k, _ = cur.Key()
	require.Equal(t, "b", string(k))

	require.NoError(t, cur.Next())
	k, _ = cur.Key()
	require.Equal(t, "c", string(k))

	require.NoError(t, cur.Prev())
	k, _ = cur.Key()
	require.Equal(t, "b", string(k), "stepping back after forward-forward must land on the key just left, not skip past it")

	require.NoError(t, cur.Prev())
	k, _ = cur.Key()
	require.Equal(t, "a", string(k))

	require.NoError(t, cur.Next())
	k, _ = cur.Key()
	require.Equal(t, "b", string(k))
}

func TestMergeIteratorLowerBoundAcrossLayers(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	require.NoError(t, root.own.Put([]byte("a"), []byte("1")))
	require.NoError(t, root.own.Put([]byte("e"), []byte("5")))
	child := root.MakeChild(mkID(1), nil)
	require.NoError(t, child.Put([]byte("c"), []byte("3")))

	ms := NewMergeState(child)
	cur := ms.LowerBound([]byte("b"))
	k, _ := cur.Key()
	require.Equal(t, "c", string(k))

	cur = ms.LowerBound([]byte("f"))
	require.False(t, cur.Valid())
}

func TestMergeIteratorEmptyIsEnd(t *testing.T) {
	root := newRootDelta(NewMemoryBackend())
	ms := NewMergeState(root)
	require.False(t, ms.Begin().Valid())
}

// buildFiveDeltaStack layers five deltas over keys a-o so the effective
// view exercises every interaction: overwrites across layers, tombstones
// over ancestor writes, writes superseding earlier writes of other layers,
// and keys written then removed entirely.
func buildFiveDeltaStack(t *testing.T) *Delta {
	root := newRootDelta(NewMemoryBackend())

	d1 := root.MakeChild(mkID(1), nil)
	for _, k := range []string{"a", "c", "e", "g", "i", "k", "l", "m"} {
		require.NoError(t, d1.Put([]byte(k), []byte(k+"1")))
	}

	d2 := d1.MakeChild(mkID(2), nil)
	for _, k := range []string{"b", "f", "h", "n"} {
		require.NoError(t, d2.Put([]byte(k), []byte(k+"2")))
	}
	require.NoError(t, d2.Erase([]byte("c")))

	d3 := d2.MakeChild(mkID(3), nil)
	for _, k := range []string{"e", "k", "o"} {
		require.NoError(t, d3.Put([]byte(k), []byte(k+"3")))
	}
	require.NoError(t, d3.Erase([]byte("g")))

	d4 := d3.MakeChild(mkID(4), nil)
	for _, k := range []string{"a", "f"} {
		require.NoError(t, d4.Put([]byte(k), []byte(k+"4")))
	}
	require.NoError(t, d4.Erase([]byte("m")))

	d5 := d4.MakeChild(mkID(5), nil)
	for _, k := range []string{"b", "d", "i"} {
		require.NoError(t, d5.Put([]byte(k), []byte(k+"5")))
	}
	require.NoError(t, d5.Erase([]byte("o")))

	return d5
}

func TestMergeIteratorFiveDeltaStack(t *testing.T) {
	leaf := buildFiveDeltaStack(t)
	ms := NewMergeState(leaf)

	wantKeys := []string{"a", "b", "d", "e", "f", "h", "i", "k", "l", "n"}
	wantValues := []string{"a4", "b5", "d5", "e3", "f4", "h2", "i5", "k3", "l1", "n2"}

	cur := ms.Begin()
	var gotKeys, gotValues []string
	for cur.Valid() {
		k, err := cur.Key()
		require.NoError(t, err)
		v, err := cur.Value()
		require.NoError(t, err)
		gotKeys = append(gotKeys, string(k))
		gotValues = append(gotValues, string(v))
		require.NoError(t, cur.Next())
	}
	require.Equal(t, wantKeys, gotKeys)
	require.Equal(t, wantValues, gotValues)

	// Backward from End yields the exact reverse.
	cur = ms.End()
	var backward []string
	for cur.Prev() == nil {
		k, err := cur.Key()
		require.NoError(t, err)
		backward = append(backward, string(k))
	}
	for i, j := 0, len(backward)-1; i < j; i, j = i+1, j-1 {
		backward[i], backward[j] = backward[j], backward[i]
	}
	require.Equal(t, wantKeys, backward)

	// Zig-zag across a shadowed gap: forward, forward, back.
	cur = ms.Begin()
	require.NoError(t, cur.Next())
	require.NoError(t, cur.Next())
	k, _ := cur.Key()
	require.Equal(t, "d", string(k))
	require.NoError(t, cur.Prev())
	k, _ = cur.Key()
	require.Equal(t, "b", string(k))
	require.NoError(t, cur.Prev())
	k, _ = cur.Key()
	require.Equal(t, "a", string(k))
	require.NoError(t, cur.Next())
	k, _ = cur.Key()
	require.Equal(t, "b", string(k))

	// LowerBound lands on the next unshadowed key, skipping tombstoned g.
	cur = ms.LowerBound([]byte("g"))
	k, _ = cur.Key()
	require.Equal(t, "h", string(k))

	// Find on a tombstoned key is End.
	require.False(t, ms.Find([]byte("c")).Valid())
	require.False(t, ms.Find([]byte("o")).Valid())

	v, err := ms.Find([]byte("e")).Value()
	require.NoError(t, err)
	require.Equal(t, []byte("e3"), v)
}
