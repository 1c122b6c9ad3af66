package statedb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	space := ObjectSpace{System: true, Zone: []byte("zone-1"), ID: 42}
	key := []byte("user-key")

	encoded := EncodeKey(space, key)
	decSpace, decKey, err := DecodeKey(encoded)
	require.NoError(t, err)
	require.True(t, decSpace.Equal(space))
	require.Equal(t, key, decKey)
}

func TestEncodeKeyOrderingGroupsBySpace(t *testing.T) {
	s1 := ObjectSpace{Zone: []byte("a"), ID: 1}
	s2 := ObjectSpace{Zone: []byte("a"), ID: 2}

	k1 := EncodeKey(s1, []byte("z"))
	k2 := EncodeKey(s2, []byte("a"))
	require.Less(t, string(k1), string(k2), "a lower id must sort before a higher id regardless of user key")
}

func TestEncodeSpacePrefixIsPrefixOfEveryKeyInSpace(t *testing.T) {
	space := ObjectSpace{Zone: []byte("ab"), ID: 9}
	prefix := EncodeSpacePrefix(space)

	for _, key := range [][]byte{nil, []byte("x"), []byte("yyyyy")} {
		encoded := EncodeKey(space, key)
		require.True(t, len(encoded) >= len(prefix))
		require.Equal(t, prefix, encoded[:len(prefix)])
	}
}

func TestEncodeKeyDistinctZonesNeverShareAPrefixRelationship(t *testing.T) {
	// The zone length prefix must keep zone "a" and zone "ab" from being
	// confusable with each other despite one being a textual prefix of
	// the other.
	short := EncodeSpacePrefix(ObjectSpace{Zone: []byte("a"), ID: 0})
	long := EncodeSpacePrefix(ObjectSpace{Zone: []byte("ab"), ID: 0})
	require.NotEqual(t, short, long[:len(short)])
}

func TestDecodeKeyRejectsTruncated(t *testing.T) {
	_, _, err := DecodeKey([]byte{0, 0})
	require.Error(t, err)

	_, _, err = DecodeKey([]byte{0, 0, 5, 1, 2})
	require.Error(t, err)
}

func TestObjectSpaceEqual(t *testing.T) {
	a := ObjectSpace{System: false, Zone: []byte("z"), ID: 7}
	b := ObjectSpace{System: false, Zone: []byte("z"), ID: 7}
	c := ObjectSpace{System: false, Zone: []byte("z"), ID: 8}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
