package statedb

import (
	"sort"
	"sync"

	"github.com/koinos/koinos-state-db/core/sortedmap"
)

// MemoryBackend is the transient, in-memory Backend implementation - the
// storage every non-root delta uses for its own writes. It backs onto a
// sortedmap for O(1) point access; ordered iteration snapshots the sorted
// key list on demand, which is cheap at the sizes a single delta holds
// (see the merge iterator's performance note on squashing to keep
// ancestor chains short).
type MemoryBackend struct {
	mu   sync.RWMutex
	data *sortedmap.SortedMap[string, []byte]
	meta Metadata

	batching bool
	batchOps []memBatchOp
}

type memBatchOp struct {
	erase bool
	key   string
	value []byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: sortedmap.New[string, []byte]()}
}

func (b *MemoryBackend) Get(key []byte) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Get(string(key))
}

func (b *MemoryBackend) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batching {
		b.batchOps = append(b.batchOps, memBatchOp{key: string(key), value: append([]byte{}, value...)})
		return nil
	}
	b.data.Put(string(key), append([]byte{}, value...))
	return nil
}

func (b *MemoryBackend) Erase(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batching {
		b.batchOps = append(b.batchOps, memBatchOp{erase: true, key: string(key)})
		return nil
	}
	b.data.Delete(string(key))
	return nil
}

func (b *MemoryBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = sortedmap.New[string, []byte]()
	b.meta = Metadata{}
	return nil
}

func (b *MemoryBackend) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Len()
}

func (b *MemoryBackend) sortedKeys() []string {
	return b.data.GetKeys()
}

func (b *MemoryBackend) Begin() Iterator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &memIterator{backend: b, keys: b.sortedKeys(), idx: 0}
}

func (b *MemoryBackend) End() Iterator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := b.sortedKeys()
	return &memIterator{backend: b, keys: keys, idx: len(keys)}
}

func (b *MemoryBackend) Find(key []byte) Iterator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := b.sortedKeys()
	k := string(key)
	idx := sort.SearchStrings(keys, k)
	if idx >= len(keys) || keys[idx] != k {
		idx = len(keys)
	}
	return &memIterator{backend: b, keys: keys, idx: idx}
}

func (b *MemoryBackend) LowerBound(key []byte) Iterator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := b.sortedKeys()
	idx := sort.SearchStrings(keys, string(key))
	return &memIterator{backend: b, keys: keys, idx: idx}
}

func (b *MemoryBackend) StartWriteBatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batching {
		return ErrInternal
	}
	b.batching = true
	b.batchOps = nil
	return nil
}

func (b *MemoryBackend) EndWriteBatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.batching {
		return ErrInternal
	}
	for _, op := range b.batchOps {
		if op.erase {
			b.data.Delete(op.key)
		} else {
			b.data.Put(op.key, op.value)
		}
	}
	b.batching = false
	b.batchOps = nil
	return nil
}

func (b *MemoryBackend) StoreMetadata(meta Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta = meta
	return nil
}

func (b *MemoryBackend) Metadata() Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta
}

func (b *MemoryBackend) Clone() (Backend, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clone := NewMemoryBackend()
	for _, k := range b.data.GetKeys() {
		v, _ := b.data.Get(k)
		clone.data.Put(k, append([]byte{}, v...))
	}
	clone.meta = b.meta
	return clone, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// memIterator is a snapshot-sorted cursor over a MemoryBackend. idx runs
// from 0 (Begin) to len(keys) (End, one past the last entry).
type memIterator struct {
	backend *MemoryBackend
	keys    []string
	idx     int
}

func (it *memIterator) Valid() bool {
	return it.idx >= 0 && it.idx < len(it.keys)
}

func (it *memIterator) Key() ([]byte, error) {
	if !it.Valid() {
		return nil, ErrIteratorOutOfRange
	}
	return []byte(it.keys[it.idx]), nil
}

func (it *memIterator) Value() ([]byte, error) {
	if !it.Valid() {
		return nil, ErrIteratorOutOfRange
	}
	v, _ := it.backend.Get([]byte(it.keys[it.idx]))
	return v, nil
}

func (it *memIterator) Next() error {
	if it.idx >= len(it.keys) {
		return ErrIteratorOutOfRange
	}
	it.idx++
	return nil
}

func (it *memIterator) Prev() error {
	if it.idx <= 0 {
		return ErrIteratorOutOfRange
	}
	it.idx--
	return nil
}
