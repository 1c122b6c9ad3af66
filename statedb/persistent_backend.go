package statedb

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/linxGnu/grocksdb"

	"github.com/koinos/koinos-state-db/core/cache"
	"github.com/koinos/koinos-state-db/core/logging"
	"go.uber.org/zap"
)

// metadata slot keys, stored in the metadata column family.
var (
	metaRevisionKey    = []byte("revision")
	metaIDKey          = []byte("id")
	metaMerkleRootKey  = []byte("merkle_root")
	metaBlockHeaderKey = []byte("block_header")
)

// cacheEntry is cached for a key: either a present value, or an explicit
// known-absent marker (a negative cache hit).
type cacheEntry struct {
	value  []byte
	absent bool
}

// PersistentBackend is the durable Backend implementation, backed by
// RocksDB via grocksdb. An LRU object cache sits in front of point reads;
// put/erase invalidate the cached entry for that key, and the cache is
// drained before a write batch is finalized so commits can never be
// observed half-applied through a stale cache line.
type PersistentBackend struct {
	mu sync.Mutex

	db     *grocksdb.DB
	dataCF *grocksdb.ColumnFamilyHandle
	metaCF *grocksdb.ColumnFamilyHandle

	ro *grocksdb.ReadOptions
	wo *grocksdb.WriteOptions

	objCache *cache.WeightedLRU[string, cacheEntry]
	cacheCap int64

	batch *grocksdb.WriteBatch
}

// cacheEntryCost charges a cached value by its byte size; a known-absent
// marker carries no bytes and falls back to the cache's per-entry minimum.
func cacheEntryCost(e cacheEntry) int64 {
	return int64(len(e.value))
}

func newBackendOptions(createIfMissing bool) *grocksdb.Options {
	opts := grocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(createIfMissing)
	opts.SetCreateIfMissingColumnFamilies(createIfMissing)
	opts.SetCompression(grocksdb.LZ4Compression)
	opts.OptimizeForPointLookup(64)
	opts.IncreaseParallelism(2)
	return opts
}

// OpenPersistentBackend opens (or, per opts.CreateIfMissing, creates) the
// RocksDB store rooted at path.
func OpenPersistentBackend(path string, opts Options) (*PersistentBackend, error) {
	dbOpts := newBackendOptions(opts.CreateIfMissing)
	defer dbOpts.Destroy()

	cfNames := []string{"default", opts.MetadataColumnFamily}
	cfOpts := []*grocksdb.Options{dbOpts, dbOpts}

	db, cfhs, err := grocksdb.OpenDbColumnFamilies(dbOpts, path, cfNames, cfOpts)
	if err != nil {
		if !strings.Contains(err.Error(), "Column family not found") {
			return nil, err
		}
		db, err = grocksdb.OpenDb(dbOpts, path)
		if err != nil {
			return nil, err
		}
		cfh, cerr := db.CreateColumnFamily(dbOpts, opts.MetadataColumnFamily)
		if cerr != nil {
			return nil, cerr
		}
		cfhs = []*grocksdb.ColumnFamilyHandle{db.GetDefaultColumnFamily(), cfh}
	}

	wo := grocksdb.NewDefaultWriteOptions()
	wo.SetSync(false)

	pb := &PersistentBackend{
		db:       db,
		dataCF:   cfhs[0],
		metaCF:   cfhs[1],
		ro:       grocksdb.NewDefaultReadOptions(),
		wo:       wo,
		objCache: cache.NewWeightedLRU[string, cacheEntry](opts.CacheSize, cacheEntryCost),
		cacheCap: opts.CacheSize,
	}

	if err := pb.loadOrInitMetadata(); err != nil {
		db.Close()
		return nil, err
	}

	return pb, nil
}

func (pb *PersistentBackend) loadOrInitMetadata() error {
	idSlice, err := pb.db.GetCF(pb.ro, pb.metaCF, metaIDKey)
	if err != nil {
		return err
	}
	defer idSlice.Free()
	if !idSlice.Exists() {
		return pb.StoreMetadata(Metadata{Revision: 0, ID: ZeroNodeID, MerkleRoot: "", BlockHeader: nil})
	}
	if _, ierr := NodeIDFromBytes(idSlice.Data()); ierr != nil {
		return ErrInternal
	}
	revSlice, err := pb.db.GetCF(pb.ro, pb.metaCF, metaRevisionKey)
	if err != nil {
		return err
	}
	defer revSlice.Free()
	if !revSlice.Exists() || len(revSlice.Data()) != 8 {
		return ErrInternal
	}
	return nil
}

func (pb *PersistentBackend) Get(key []byte) ([]byte, bool) {
	if pb.db == nil {
		return nil, false
	}
	k := string(key)
	if entry, err := pb.objCache.Get(k); err == nil {
		if entry.absent {
			return nil, false
		}
		return entry.value, true
	}
	slice, err := pb.db.GetCF(pb.ro, pb.dataCF, key)
	if err != nil {
		logging.Logger.Error("persistent backend get failed", zap.Error(err))
		return nil, false
	}
	defer slice.Free()
	if !slice.Exists() {
		pb.objCache.Add(k, cacheEntry{absent: true})
		return nil, false
	}
	value := append([]byte{}, slice.Data()...)
	pb.objCache.Add(k, cacheEntry{value: value})
	return value, true
}

func (pb *PersistentBackend) Put(key, value []byte) error {
	if pb.db == nil {
		return ErrInternal
	}
	pb.objCache.Remove(string(key))
	if pb.batch != nil {
		pb.batch.PutCF(pb.dataCF, key, value)
		return nil
	}
	return pb.db.PutCF(pb.wo, pb.dataCF, key, value)
}

func (pb *PersistentBackend) Erase(key []byte) error {
	if pb.db == nil {
		return ErrInternal
	}
	pb.objCache.Remove(string(key))
	if pb.batch != nil {
		pb.batch.DeleteCF(pb.dataCF, key)
		return nil
	}
	return pb.db.DeleteCF(pb.wo, pb.dataCF, key)
}

func (pb *PersistentBackend) Clear() error {
	if pb.db == nil {
		return ErrInternal
	}
	it := pb.db.NewIteratorCF(pb.ro, pb.dataCF)
	defer it.Close()
	wb := grocksdb.NewWriteBatch()
	defer wb.Destroy()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		k := it.Key()
		wb.DeleteCF(pb.dataCF, append([]byte{}, k.Data()...))
		k.Free()
	}
	if err := pb.db.Write(pb.wo, wb); err != nil {
		return err
	}
	pb.objCache = cache.NewWeightedLRU[string, cacheEntry](pb.cacheCap, cacheEntryCost)
	return pb.StoreMetadata(Metadata{})
}

func (pb *PersistentBackend) Size() int {
	if pb.db == nil {
		return 0
	}
	it := pb.db.NewIteratorCF(pb.ro, pb.dataCF)
	defer it.Close()
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	return count
}

func (pb *PersistentBackend) StartWriteBatch() error {
	if pb.batch != nil {
		return ErrInternal
	}
	pb.batch = grocksdb.NewWriteBatch()
	return nil
}

func (pb *PersistentBackend) EndWriteBatch() error {
	if pb.batch == nil {
		return ErrInternal
	}
	batch := pb.batch
	pb.batch = nil
	defer batch.Destroy()
	// Invalidate before applying so no reader can observe a cache line
	// that predates keys the batch is about to touch.
	pb.objCache = cache.NewWeightedLRU[string, cacheEntry](pb.cacheCap, cacheEntryCost)
	return pb.db.Write(pb.wo, batch)
}

func (pb *PersistentBackend) StoreMetadata(meta Metadata) error {
	if pb.db == nil {
		return ErrInternal
	}
	idBytes := meta.ID.Bytes()
	revBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(revBytes, meta.Revision)

	if pb.batch != nil {
		pb.batch.PutCF(pb.metaCF, metaRevisionKey, revBytes)
		pb.batch.PutCF(pb.metaCF, metaIDKey, idBytes)
		pb.batch.PutCF(pb.metaCF, metaMerkleRootKey, []byte(meta.MerkleRoot))
		pb.batch.PutCF(pb.metaCF, metaBlockHeaderKey, meta.BlockHeader)
		return nil
	}

	wb := grocksdb.NewWriteBatch()
	defer wb.Destroy()
	wb.PutCF(pb.metaCF, metaRevisionKey, revBytes)
	wb.PutCF(pb.metaCF, metaIDKey, idBytes)
	wb.PutCF(pb.metaCF, metaMerkleRootKey, []byte(meta.MerkleRoot))
	wb.PutCF(pb.metaCF, metaBlockHeaderKey, meta.BlockHeader)
	return pb.db.Write(pb.wo, wb)
}

func (pb *PersistentBackend) Metadata() Metadata {
	meta := Metadata{}
	if pb.db == nil {
		return meta
	}

	if s, err := pb.db.GetCF(pb.ro, pb.metaCF, metaRevisionKey); err == nil {
		if s.Exists() && len(s.Data()) == 8 {
			meta.Revision = binary.BigEndian.Uint64(s.Data())
		}
		s.Free()
	}
	if s, err := pb.db.GetCF(pb.ro, pb.metaCF, metaIDKey); err == nil {
		if s.Exists() {
			if id, ierr := NodeIDFromBytes(s.Data()); ierr == nil {
				meta.ID = id
			}
		}
		s.Free()
	}
	if s, err := pb.db.GetCF(pb.ro, pb.metaCF, metaMerkleRootKey); err == nil {
		if s.Exists() {
			meta.MerkleRoot = string(s.Data())
		}
		s.Free()
	}
	if s, err := pb.db.GetCF(pb.ro, pb.metaCF, metaBlockHeaderKey); err == nil {
		if s.Exists() {
			meta.BlockHeader = append([]byte{}, s.Data()...)
		}
		s.Free()
	}
	return meta
}

// Clone is not supported: only in-memory fork deltas are ever cloned,
// and the durable root backend is not one of them.
func (pb *PersistentBackend) Clone() (Backend, error) {
	return nil, ErrInternal
}

func (pb *PersistentBackend) Close() error {
	if pb.db == nil {
		return nil
	}
	pb.ro.Destroy()
	pb.wo.Destroy()
	pb.db.Close()
	pb.db = nil
	return nil
}

func (pb *PersistentBackend) Begin() Iterator      { return pb.iterAt(iterBegin, nil) }
func (pb *PersistentBackend) End() Iterator        { return pb.iterAt(iterEnd, nil) }
func (pb *PersistentBackend) Find(key []byte) Iterator       { return pb.iterAt(iterFind, key) }
func (pb *PersistentBackend) LowerBound(key []byte) Iterator { return pb.iterAt(iterLowerBound, key) }

type iterMode int

const (
	iterBegin iterMode = iota
	iterEnd
	iterFind
	iterLowerBound
)

func (pb *PersistentBackend) iterAt(mode iterMode, key []byte) Iterator {
	if pb.db == nil {
		return &rocksIterator{end: true}
	}
	ro := grocksdb.NewDefaultReadOptions()
	native := pb.db.NewIteratorCF(ro, pb.dataCF)
	it := &rocksIterator{native: native, ro: ro}
	switch mode {
	case iterBegin:
		native.SeekToFirst()
		it.end = !native.Valid()
	case iterEnd:
		native.SeekToLast()
		it.end = true
	case iterFind:
		native.Seek(key)
		if native.Valid() && sliceEqual(native.Key(), key) {
			it.end = false
		} else {
			native.SeekToLast()
			it.end = true
		}
	case iterLowerBound:
		native.Seek(key)
		it.end = !native.Valid()
	}
	return it
}

func sliceEqual(s *grocksdb.Slice, key []byte) bool {
	defer s.Free()
	return string(s.Data()) == string(key)
}

// rocksIterator adapts a grocksdb.Iterator to the Iterator contract,
// adding an explicit one-past-the-end sentinel state: grocksdb itself has
// no way to distinguish "ran off the end" from "ran off the beginning",
// both of which just report Valid()==false.
type rocksIterator struct {
	native *grocksdb.Iterator
	ro     *grocksdb.ReadOptions
	end    bool
}

func (it *rocksIterator) Valid() bool {
	return !it.end && it.native.Valid()
}

func (it *rocksIterator) Key() ([]byte, error) {
	if !it.Valid() {
		return nil, ErrIteratorOutOfRange
	}
	s := it.native.Key()
	defer s.Free()
	return append([]byte{}, s.Data()...), nil
}

func (it *rocksIterator) Value() ([]byte, error) {
	if !it.Valid() {
		return nil, ErrIteratorOutOfRange
	}
	s := it.native.Value()
	defer s.Free()
	return append([]byte{}, s.Data()...), nil
}

func (it *rocksIterator) Next() error {
	if it.end {
		return ErrIteratorOutOfRange
	}
	it.native.Next()
	if !it.native.Valid() {
		it.end = true
	}
	return nil
}

func (it *rocksIterator) Prev() error {
	if it.end {
		// Decrementing End lands on the last element of a non-empty
		// backend. End() and a Find miss leave the native cursor parked
		// there already; a LowerBound miss or a Next off the last entry
		// leaves it invalid, so it is re-seeked.
		if it.native == nil {
			return ErrIteratorOutOfRange
		}
		if !it.native.Valid() {
			it.native.SeekToLast()
		}
		if !it.native.Valid() {
			return ErrIteratorOutOfRange
		}
		it.end = false
		return nil
	}
	if !it.native.Valid() {
		return ErrIteratorOutOfRange
	}
	keySlice := it.native.Key()
	saved := append([]byte{}, keySlice.Data()...)
	keySlice.Free()
	it.native.Prev()
	if !it.native.Valid() {
		it.native.Seek(saved)
		return ErrIteratorOutOfRange
	}
	return nil
}
