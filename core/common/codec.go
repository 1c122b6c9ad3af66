package common

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrInvalidData = NewError("invalid_data", "Invalid data")

// WriteMsgpack msgpack-encodes entity onto w.
func WriteMsgpack(w io.Writer, entity interface{}) error {
	return msgpack.NewEncoder(w).Encode(entity)
}

// ToMsgpack msgpack-encodes entity into a fresh buffer.
func ToMsgpack(entity interface{}) (*bytes.Buffer, error) {
	buffer := bytes.NewBuffer(make([]byte, 0, 256))
	if err := msgpack.NewEncoder(buffer).Encode(entity); err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadMsgpack decodes a msgpack entity from r.
func ReadMsgpack(r io.Reader, entity interface{}) error {
	return msgpack.NewDecoder(r).Decode(entity)
}

// FromMsgpack decodes a msgpack entity from bytes, a string, or a reader.
func FromMsgpack(data interface{}, entity interface{}) error {
	switch v := data.(type) {
	case []byte:
		return msgpack.NewDecoder(bytes.NewReader(v)).Decode(entity)
	case string:
		return msgpack.NewDecoder(bytes.NewReader([]byte(v))).Decode(entity)
	case io.Reader:
		return msgpack.NewDecoder(v).Decode(entity)
	default:
		return NewErrorf("unknown_data_type", "unknown data type for reading entity: %T", data)
	}
}
