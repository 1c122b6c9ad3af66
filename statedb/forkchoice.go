package statedb

import "github.com/koinos/koinos-state-db/core/common"

// BlockHeaderInfo is the subset of an opaque block header a fork-choice
// comparator needs. Header bytes are otherwise opaque to this library,
// so the embedder supplies a decoder rather than this package parsing
// headers itself.
type BlockHeaderInfo struct {
	Timestamp common.Timestamp
	Signer    string
}

// HeaderDecoder extracts BlockHeaderInfo from a delta's header bytes.
// Returns false if the header cannot be decoded.
type HeaderDecoder func(header []byte) (BlockHeaderInfo, bool)

// Comparator picks a head from the fork-head set. order is the database's
// current finalize-order sequence numbers, keyed by node id - only FIFO
// consults it, but every comparator receives it so
// Database.recomputeHeadLocked doesn't need to special-case which comparator is installed.
type Comparator interface {
	// Name identifies the comparator, surfaced by Database.Stats.
	Name() string
	// Head returns the winning candidate. candidates must be non-empty.
	Head(candidates []*Delta, order map[NodeID]int64) (*Delta, error)
}

// FIFOComparator picks the highest-revision fork head, breaking ties by
// earliest finalize order.
type FIFOComparator struct{}

func NewFIFOComparator() *FIFOComparator { return &FIFOComparator{} }

func (c *FIFOComparator) Name() string { return "fifo" }

func (c *FIFOComparator) Head(candidates []*Delta, order map[NodeID]int64) (*Delta, error) {
	if len(candidates) == 0 {
		return nil, ErrInternal
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Revision() != best.Revision() {
			if cand.Revision() > best.Revision() {
				best = cand
			}
			continue
		}
		if order[cand.ID()] < order[best.ID()] {
			best = cand
		}
	}
	return best, nil
}

// BlockTimeComparator picks the highest-revision fork head, breaking ties
// by smallest block-header timestamp.
type BlockTimeComparator struct {
	decode HeaderDecoder
}

func NewBlockTimeComparator(decode HeaderDecoder) *BlockTimeComparator {
	return &BlockTimeComparator{decode: decode}
}

func (c *BlockTimeComparator) Name() string { return "block_time" }

func (c *BlockTimeComparator) Head(candidates []*Delta, order map[NodeID]int64) (*Delta, error) {
	if len(candidates) == 0 {
		return nil, ErrInternal
	}
	best := candidates[0]
	bestInfo, _ := c.decode(best.Header())
	for _, cand := range candidates[1:] {
		if cand.Revision() != best.Revision() {
			if cand.Revision() > best.Revision() {
				best = cand
				bestInfo, _ = c.decode(best.Header())
			}
			continue
		}
		info, _ := c.decode(cand.Header())
		if info.Timestamp < bestInfo.Timestamp {
			best, bestInfo = cand, info
		}
	}
	return best, nil
}

// ProofOfBurnComparator is block-time ordering with a double-production
// penalty: among the fork heads tied at the maximum revision, if exactly
// one signer appears more than once, that signer's blocks are excluded
// and the comparator retries with their parents substituted in - rolling
// head back toward the common ancestor - before falling back to
// smallest-timestamp among whatever remains at the (possibly lower)
// revision that results.
type ProofOfBurnComparator struct {
	decode HeaderDecoder
}

func NewProofOfBurnComparator(decode HeaderDecoder) *ProofOfBurnComparator {
	return &ProofOfBurnComparator{decode: decode}
}

func (c *ProofOfBurnComparator) Name() string { return "proof_of_burn" }

func (c *ProofOfBurnComparator) Head(candidates []*Delta, order map[NodeID]int64) (*Delta, error) {
	if len(candidates) == 0 {
		return nil, ErrInternal
	}
	pool := append([]*Delta{}, candidates...)

	for {
		maxRev := pool[0].Revision()
		for _, d := range pool {
			if d.Revision() > maxRev {
				maxRev = d.Revision()
			}
		}

		var atMax, rest []*Delta
		for _, d := range pool {
			if d.Revision() == maxRev {
				atMax = append(atMax, d)
			} else {
				rest = append(rest, d)
			}
		}

		signerOf := make(map[*Delta]string, len(atMax))
		signerCount := make(map[string]int)
		for _, d := range atMax {
			info, ok := c.decode(d.Header())
			if !ok {
				continue
			}
			signerOf[d] = info.Signer
			signerCount[info.Signer]++
		}

		doubledSigner, doubledSigners := "", 0
		for s, n := range signerCount {
			if n > 1 {
				doubledSigner = s
				doubledSigners++
			}
		}

		if doubledSigners != 1 {
			return c.smallestTimestamp(atMax), nil
		}

		// Both penalized siblings typically share one parent; track pool
		// membership so the common ancestor enters the next round once,
		// not once per penalized child (which would count it as a double
		// producer of its own blocks).
		next := append([]*Delta{}, rest...)
		inPool := make(map[*Delta]struct{}, len(next))
		for _, d := range next {
			inPool[d] = struct{}{}
		}
		anyPenalized := false
		for _, d := range atMax {
			if signerOf[d] == doubledSigner {
				anyPenalized = true
				d.mu.RLock()
				parent := d.parent
				d.mu.RUnlock()
				if parent != nil {
					if _, dup := inPool[parent]; !dup {
						next = append(next, parent)
						inPool[parent] = struct{}{}
					}
				}
				continue
			}
			if _, dup := inPool[d]; !dup {
				next = append(next, d)
				inPool[d] = struct{}{}
			}
		}
		if !anyPenalized || len(next) == 0 {
			return c.smallestTimestamp(atMax), nil
		}
		pool = next
	}
}

func (c *ProofOfBurnComparator) smallestTimestamp(atMax []*Delta) *Delta {
	best := atMax[0]
	bestInfo, _ := c.decode(best.Header())
	for _, d := range atMax[1:] {
		info, _ := c.decode(d.Header())
		if info.Timestamp < bestInfo.Timestamp {
			best, bestInfo = d, info
		}
	}
	return best
}
