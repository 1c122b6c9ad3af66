// Package sortedmap provides a small generic map that can report its
// entries in key order, the storage underneath the in-memory ordered
// backend.
package sortedmap

import "sort"

// SortedMap is a map[K]V that can report its keys and values in sorted
// key order. It does not maintain order incrementally - GetKeys/GetValues
// sort on every call, which is fine for the delta-sized maps this backs.
type SortedMap[K Ordered, V any] struct {
	m map[K]V
}

// Ordered is any type supporting the < operator.
type Ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 | ~string
}

// New creates an empty SortedMap.
func New[K Ordered, V any]() *SortedMap[K, V] {
	return &SortedMap[K, V]{m: make(map[K]V)}
}

// NewFromMap creates a SortedMap seeded with the contents of m. m is not
// retained - it is copied.
func NewFromMap[K Ordered, V any](m map[K]V) *SortedMap[K, V] {
	sm := New[K, V]()
	for k, v := range m {
		sm.m[k] = v
	}
	return sm
}

// Put inserts or overwrites the value for k.
func (sm *SortedMap[K, V]) Put(k K, v V) {
	sm.m[k] = v
}

// Get returns the value for k and whether it was present.
func (sm *SortedMap[K, V]) Get(k K) (V, bool) {
	v, ok := sm.m[k]
	return v, ok
}

// Delete removes k, if present.
func (sm *SortedMap[K, V]) Delete(k K) {
	delete(sm.m, k)
}

// Len returns the number of entries.
func (sm *SortedMap[K, V]) Len() int {
	return len(sm.m)
}

// GetKeys returns every key in ascending order.
func (sm *SortedMap[K, V]) GetKeys() []K {
	keys := make([]K, 0, len(sm.m))
	for k := range sm.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// GetValues returns every value, ordered by ascending key.
func (sm *SortedMap[K, V]) GetValues() []V {
	keys := sm.GetKeys()
	values := make([]V, len(keys))
	for i, k := range keys {
		values[i] = sm.m[k]
	}
	return values
}

// GetValues returns the values of m, ordered by ascending key, without
// requiring the caller to build a SortedMap first.
func GetValues[K Ordered, V any](m map[K]V) []V {
	return NewFromMap(m).GetValues()
}
