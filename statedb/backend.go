package statedb

// Metadata is the set of well-known slots a backend stores alongside user
// data: the delta identity it currently represents. On a durable backend
// these are written in the same write batch as the user mutations so a
// crash never leaves data and metadata disagreeing.
type Metadata struct {
	Revision    uint64
	ID          NodeID
	MerkleRoot  string
	BlockHeader []byte
}

// Iterator walks a Backend's entries in ascending byte-lexicographic key
// order. It is bidirectional: Next/Prev move one entry, End is a
// one-past-the-end sentinel, and decrementing End lands on the last entry
// of a non-empty backend. Dereferencing or advancing End, and
// decrementing Begin, return ErrIteratorOutOfRange.
type Iterator interface {
	// Valid reports whether Key/Value may be called.
	Valid() bool
	// Key returns the current key. Fails if !Valid().
	Key() ([]byte, error)
	// Value returns the current value. Fails if !Valid().
	Value() ([]byte, error)
	// Next moves to the following entry. Fails if already at End.
	Next() error
	// Prev moves to the preceding entry. Fails if already at Begin.
	Prev() error
}

// Backend is the ordered key-value contract every delta's own storage
// implements: an in-memory map for non-root deltas, a durable store for
// the root. Keys and values are opaque bytes.
type Backend interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte) error
	Erase(key []byte) error
	Clear() error
	Size() int

	Begin() Iterator
	End() Iterator
	Find(key []byte) Iterator
	LowerBound(key []byte) Iterator

	// StartWriteBatch begins buffering mutations; EndWriteBatch applies
	// them atomically. Nesting is not supported.
	StartWriteBatch() error
	EndWriteBatch() error
	StoreMetadata(meta Metadata) error
	Metadata() Metadata

	// Clone produces an independent backend with the same contents and
	// metadata. Required for in-memory fork clones; the durable root
	// backend is never cloned.
	Clone() (Backend, error)

	Close() error
}

// Options configures backend construction, threaded through
// Database.Open.
type Options struct {
	// CreateIfMissing creates the durable store on first Open.
	CreateIfMissing bool
	// CacheSize bounds the persistent backend's point-read object cache
	// by the total byte cost of the cached values.
	CacheSize int64
	// MetadataColumnFamily names the column family the persistent
	// backend stores metadata slots in, separate from user data.
	MetadataColumnFamily string
}

// DefaultOptions returns the options most embedders want.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing:      true,
		CacheSize:            64 << 20,
		MetadataColumnFamily: "metadata",
	}
}
