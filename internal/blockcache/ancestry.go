package blockcache

import (
	"iter"

	"github.com/pisa-watch/pisa/internal/block"
)

// Ancestry returns a lazy sequence of the blocks from hash back to the
// oldest stored ancestor, inclusive of hash itself. Iteration stops the
// moment a parent hash isn't stored — it never errors, since "ran off the
// edge of the window" is an expected outcome, not a failure.
func (c *Cache[B]) Ancestry(hash block.Hash) iter.Seq[B] {
	return func(yield func(B) bool) {
		cur := hash
		for steps := uint64(0); steps <= c.maxDepth+2; steps++ {
			e, ok := c.blocks[cur]
			if !ok {
				return
			}

			if !yield(e.block) {
				return
			}

			parent := e.block.ParentBlockHash()
			if parent == cur {
				return
			}
			cur = parent
		}
	}
}

// FindAncestor walks Ancestry(hash) and returns the first block for which
// match returns true. If minHeight is given, the walk stops (returning
// false) once it passes below that height without a match.
func (c *Cache[B]) FindAncestor(hash block.Hash, minHeight *uint64, match func(B) bool) (B, bool) {
	for b := range c.Ancestry(hash) {
		if minHeight != nil && b.BlockNumber() < *minHeight {
			break
		}
		if match(b) {
			return b, true
		}
	}

	var zero B
	return zero, false
}

// CommonAncestor returns the most recent block that appears in both a's and
// b's ancestry — the fork point between two branches. Used to diff a reorg:
// everything strictly above the fork point on the old branch was
// un-canonicalized, everything strictly above it on the new branch is newly
// canonical.
func (c *Cache[B]) CommonAncestor(a, b block.Hash) (B, bool) {
	onA := make(map[block.Hash]struct{})
	for blk := range c.Ancestry(a) {
		onA[blk.BlockHash()] = struct{}{}
	}

	for blk := range c.Ancestry(b) {
		if _, ok := onA[blk.BlockHash()]; ok {
			return blk, true
		}
	}

	var zero B
	return zero, false
}
