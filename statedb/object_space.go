package statedb

import "encoding/binary"

// ObjectSpace is a namespace identifying a logical collection within the
// key space: a system flag, an arbitrary-length zone identifier (e.g. a
// contract id), and a numeric id. It is the unit the façade groups keys
// by for get_next_object/get_prev_object scans.
type ObjectSpace struct {
	System bool   `msgpack:"system"`
	Zone   []byte `msgpack:"zone"`
	ID     uint64 `msgpack:"id"`
}

// Equal reports whether two object spaces name the same namespace.
func (s ObjectSpace) Equal(o ObjectSpace) bool {
	if s.System != o.System || s.ID != o.ID || len(s.Zone) != len(o.Zone) {
		return false
	}
	for i := range s.Zone {
		if s.Zone[i] != o.Zone[i] {
			return false
		}
	}
	return true
}

// EncodeKey canonically serializes (space, userKey) into the byte string
// used as the delta/backend key. Every field but the trailing userKey is
// fixed-width or length-prefixed, so byte-lexicographic order over the
// encoding matches "grouped by object_space, ordered by userKey within":
// zone is length-prefixed because it is the only variable-width field
// ahead of userKey, and without that prefix two zones where one is a
// prefix of the other could interleave their entries.
func EncodeKey(space ObjectSpace, userKey []byte) []byte {
	out := make([]byte, 0, 1+2+len(space.Zone)+8+len(userKey))
	if space.System {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var zoneLen [2]byte
	binary.BigEndian.PutUint16(zoneLen[:], uint16(len(space.Zone)))
	out = append(out, zoneLen[:]...)
	out = append(out, space.Zone...)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], space.ID)
	out = append(out, idBuf[:]...)
	out = append(out, userKey...)
	return out
}

// EncodeSpacePrefix encodes just the (system, zone, id) portion of a key,
// the common prefix shared by every entry of space - used to bound scans
// to a single object space.
func EncodeSpacePrefix(space ObjectSpace) []byte {
	return EncodeKey(space, nil)
}

// DecodeKey reverses EncodeKey, splitting an encoded key back into its
// object space and user key.
func DecodeKey(encoded []byte) (ObjectSpace, []byte, error) {
	if len(encoded) < 1+2+8 {
		return ObjectSpace{}, nil, ErrIllegalArgument
	}
	system := encoded[0] == 1
	zoneLen := int(binary.BigEndian.Uint16(encoded[1:3]))
	offset := 3
	if len(encoded) < offset+zoneLen+8 {
		return ObjectSpace{}, nil, ErrIllegalArgument
	}
	zone := append([]byte{}, encoded[offset:offset+zoneLen]...)
	offset += zoneLen
	id := binary.BigEndian.Uint64(encoded[offset : offset+8])
	offset += 8
	userKey := append([]byte{}, encoded[offset:]...)
	return ObjectSpace{System: system, Zone: zone, ID: id}, userKey, nil
}
