package statedb

import "bytes"

// MergeState presents the effective key-ordered view of a leaf delta's
// entire ancestor chain without materializing it. It holds a shared
// handle to the leaf so the chain stays alive for as long as any cursor
// derived from it is in use.
type MergeState struct {
	leaf  *Delta
	chain []*Delta // nearest-to-leaf first, root last
}

// NewMergeState builds the ancestor chain for leaf, nearest first.
func NewMergeState(leaf *Delta) *MergeState {
	chain := []*Delta{}
	for cur := leaf; cur != nil; {
		chain = append(chain, cur)
		cur.mu.RLock()
		p := cur.parent
		cur.mu.RUnlock()
		cur = p
	}
	return &MergeState{leaf: leaf, chain: chain}
}

// MergeCursor is a bidirectional cursor over a MergeState's effective
// view. Rather than keeping one live sub-iterator per ancestor and
// incrementally patching their positions (which turns out to be
// surprisingly hard to keep consistent across direction changes), each
// step re-queries every ancestor's backend for its nearest candidate key
// via LowerBound - cheap for backends with real ordered-index support,
// O(N log n) per step for a chain of N ancestors. Callers squash
// anonymous nodes frequently to keep N small.
type MergeCursor struct {
	chain       []*Delta
	key         []byte
	atEnd       bool
	beforeBegin bool
}

func (ms *MergeState) newCursor() *MergeCursor {
	return &MergeCursor{chain: ms.chain}
}

// Begin positions at the smallest unshadowed key, or End if the merged
// view is empty.
func (ms *MergeState) Begin() *MergeCursor {
	mc := ms.newCursor()
	mc.beforeBegin = true
	_ = mc.Next()
	return mc
}

// End returns the one-past-the-end sentinel cursor.
func (ms *MergeState) End() *MergeCursor {
	mc := ms.newCursor()
	mc.atEnd = true
	return mc
}

// Find positions exactly at key if it is present and unshadowed in the
// merged view, otherwise it yields End.
func (ms *MergeState) Find(key []byte) *MergeCursor {
	mc := ms.newCursor()
	if present, _ := mc.resolve(key); present {
		mc.key = append([]byte{}, key...)
		return mc
	}
	mc.atEnd = true
	return mc
}

// LowerBound positions at the smallest unshadowed key >= key, or End if
// none exists.
func (ms *MergeState) LowerBound(key []byte) *MergeCursor {
	mc := ms.newCursor()
	cur := append([]byte{}, key...)
	inclusive := true
	for {
		best, found := mc.smallestCandidate(cur, inclusive)
		if !found {
			mc.atEnd = true
			return mc
		}
		if present, _ := mc.resolve(best); present {
			mc.key = best
			return mc
		}
		cur = best
		inclusive = false
	}
}

func (mc *MergeCursor) Valid() bool {
	return !mc.atEnd && !mc.beforeBegin && mc.key != nil
}

func (mc *MergeCursor) Key() ([]byte, error) {
	if !mc.Valid() {
		return nil, ErrIteratorOutOfRange
	}
	return mc.key, nil
}

func (mc *MergeCursor) Value() ([]byte, error) {
	if !mc.Valid() {
		return nil, ErrIteratorOutOfRange
	}
	_, v := mc.resolve(mc.key)
	return v, nil
}

// Next advances past the current effective key to the next unshadowed
// one. Fails if already at End.
func (mc *MergeCursor) Next() error {
	if mc.atEnd {
		return ErrIteratorOutOfRange
	}
	cur := mc.key // nil when beforeBegin, meaning "smallest key overall"
	inclusive := mc.beforeBegin
	for {
		best, found := mc.smallestCandidate(cur, inclusive)
		if !found {
			mc.atEnd = true
			mc.beforeBegin = false
			mc.key = nil
			return nil
		}
		if present, _ := mc.resolve(best); present {
			mc.key = best
			mc.beforeBegin = false
			return nil
		}
		cur = best
		inclusive = false
	}
}

// Prev moves to the previous unshadowed key. Fails if already at Begin.
func (mc *MergeCursor) Prev() error {
	if mc.beforeBegin {
		return ErrIteratorOutOfRange
	}
	cur := mc.key // nil when atEnd, meaning "largest key overall"
	inclusive := mc.atEnd
	for {
		best, found := mc.largestCandidate(cur, inclusive)
		if !found {
			return ErrIteratorOutOfRange
		}
		if present, _ := mc.resolve(best); present {
			mc.key = best
			mc.atEnd = false
			return nil
		}
		cur = best
		inclusive = false
	}
}

// resolve looks up key's effective value directly: the nearest-to-leaf
// delta that mentions key at all (own backend or tombstone) decides the
// outcome. This is the same priority rule Delta.Find uses for point
// lookups; the merge cursor just needs it addressable by key without
// walking the chain through Delta.Find's own recursion.
func (mc *MergeCursor) resolve(key []byte) (bool, []byte) {
	for _, d := range mc.chain {
		d.mu.RLock()
		v, ok := d.own.Get(key)
		if ok {
			d.mu.RUnlock()
			return true, v
		}
		_, tomb := d.removed[string(key)]
		d.mu.RUnlock()
		if tomb {
			return false, nil
		}
	}
	return false, nil
}

// smallestCandidate finds the smallest key, across every ancestor's own
// backend, that is greater than (or, if inclusive, greater than or equal
// to) after. after == nil means "no lower bound at all".
func (mc *MergeCursor) smallestCandidate(after []byte, inclusive bool) ([]byte, bool) {
	var best []byte
	found := false
	for _, d := range mc.chain {
		var k []byte
		var ok bool
		if after == nil {
			it := d.own.Begin()
			if it.Valid() {
				k, _ = it.Key()
				ok = true
			}
		} else {
			it := d.own.LowerBound(after)
			if it.Valid() {
				ck, _ := it.Key()
				if inclusive || !bytes.Equal(ck, after) {
					k, ok = ck, true
				} else if err := it.Next(); err == nil && it.Valid() {
					k, _ = it.Key()
					ok = true
				}
			}
		}
		if ok && (!found || bytes.Compare(k, best) < 0) {
			best, found = k, true
		}
	}
	return best, found
}

// largestCandidate is smallestCandidate's mirror: the largest key across
// every ancestor's own backend that is less than (or, if inclusive, less
// than or equal to) before. before == nil means "no upper bound at all".
func (mc *MergeCursor) largestCandidate(before []byte, inclusive bool) ([]byte, bool) {
	var best []byte
	found := false
	for _, d := range mc.chain {
		k, ok := lastKeyBefore(d, before, inclusive)
		if ok && (!found || bytes.Compare(k, best) > 0) {
			best, found = k, true
		}
	}
	return best, found
}

func lastKeyBefore(d *Delta, before []byte, inclusive bool) ([]byte, bool) {
	d.mu.RLock()
	own := d.own
	d.mu.RUnlock()

	if before == nil {
		it := own.End()
		if err := it.Prev(); err == nil {
			k, _ := it.Key()
			return k, true
		}
		return nil, false
	}

	it := own.LowerBound(before)
	if it.Valid() {
		k, _ := it.Key()
		if inclusive && bytes.Equal(k, before) {
			return k, true
		}
		if err := it.Prev(); err == nil {
			pk, _ := it.Key()
			return pk, true
		}
		return nil, false
	}
	if err := it.Prev(); err == nil {
		k, _ := it.Key()
		return k, true
	}
	return nil, false
}
