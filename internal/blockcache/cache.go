// Package blockcache implements the bounded-depth, reorg-aware block DAG
// described in spec.md §4.1: a mapping of recent blocks keyed by hash, a
// single canonical "head", and the ancestor-query surface the Anchor State
// Reducer framework and the Confirmation Observer are built on.
//
// The cache is generic over the block shape (spec.md §9's "generic over
// block shape" note): a reducer that only needs chain skeleton can be built
// against Cache[block.Stub], while one that inspects transactions uses
// Cache[block.Full].
package blockcache

import (
	"errors"

	"github.com/pisa-watch/pisa/internal/block"
)

// AddResult is the tagged outcome of AddBlock.
type AddResult int

const (
	// Added means the block was freshly inserted and its ancestry chains
	// back to a declared root (or the current head), making it eligible
	// for anchor-state computation even if it later turns out to be on a
	// losing fork.
	Added AddResult = iota
	// AddedDetached means the block was freshly inserted but its parent is
	// not (yet) stored, so it cannot be observed by anchor-state computation.
	AddedDetached
	// NotAddedAlreadyExistedAttached means the block was already stored and
	// attached; the cache is unchanged.
	NotAddedAlreadyExistedAttached
	// NotAddedAlreadyExistedDetached means the block was already stored but
	// detached; the cache is unchanged.
	NotAddedAlreadyExistedDetached
	// NotAddedBlockNumberTooLow means the block's number is at or below the
	// cache's minimum_height and was rejected outright.
	NotAddedBlockNumberTooLow
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "Added"
	case AddedDetached:
		return "AddedDetached"
	case NotAddedAlreadyExistedAttached:
		return "NotAddedAlreadyExistedAttached"
	case NotAddedAlreadyExistedDetached:
		return "NotAddedAlreadyExistedDetached"
	case NotAddedBlockNumberTooLow:
		return "NotAddedBlockNumberTooLow"
	default:
		return "Unknown"
	}
}

// ErrNotFound is returned by GetBlock when the requested hash isn't stored.
var ErrNotFound = errors.New("blockcache: block not found")

// ErrSetHeadUnknownBlock is a cache invariant violation: set_head was asked
// to advance to a hash that either isn't stored or isn't attached.
var ErrSetHeadUnknownBlock = errors.New("blockcache: set_head target is not a stored, attached block")

type entry[B block.Node] struct {
	block B
	// root marks a block as attached-by-depth: declared attached regardless
	// of whether its parent is stored. Set on the cache's very first block,
	// on any block inserted through AddRootBlock, and on an attached block
	// that pruning leaves at the window floor. Declared permanently; never
	// revoked once set.
	root bool
}

// Cache is the bounded-depth block DAG. It is not safe for concurrent use;
// per spec.md §5, all cache mutation happens on the single logical serial
// executor owned by the Block Processor.
type Cache[B block.Node] struct {
	maxDepth uint64

	blocks   map[block.Hash]entry[B]
	byNumber map[uint64]map[block.Hash]struct{}

	head    block.Hash
	hasHead bool
}

// New creates an empty Cache with the given maximum retained depth.
// maxDepth must be positive.
func New[B block.Node](maxDepth uint64) *Cache[B] {
	return &Cache[B]{
		maxDepth: maxDepth,
		blocks:   make(map[block.Hash]entry[B]),
		byNumber: make(map[uint64]map[block.Hash]struct{}),
	}
}

// MaxDepth returns the cache's fixed depth window.
func (c *Cache[B]) MaxDepth() uint64 { return c.maxDepth }

// Head returns the current head hash and whether a head has ever been set.
func (c *Cache[B]) Head() (block.Hash, bool) {
	return c.head, c.hasHead
}

// MinimumHeight returns head.number - max_depth and whether it is defined
// (it is undefined while the cache has never had a head set).
func (c *Cache[B]) MinimumHeight() (int64, bool) {
	if !c.hasHead {
		return 0, false
	}

	head := c.blocks[c.head].block
	return int64(head.BlockNumber()) - int64(c.maxDepth), true
}

// HasBlock reports whether hash is stored. If mustBeAttached is true, a
// stored-but-detached block reports false.
func (c *Cache[B]) HasBlock(hash block.Hash, mustBeAttached bool) bool {
	_, ok := c.blocks[hash]
	if !ok {
		return false
	}

	if !mustBeAttached {
		return true
	}

	return c.attached(hash)
}

// IsDeclaredRoot reports whether hash is a declared root (the cache's
// first-ever block, anything added through AddRootBlock, or an attached
// block that pruning left at the window floor). The
// Anchor State Reducer framework uses this to decide where a reducer's
// state_at recursion bottoms out into Initial rather than Reduce.
func (c *Cache[B]) IsDeclaredRoot(hash block.Hash) bool {
	return c.blocks[hash].root
}

// GetBlock returns the stored block for hash, or ErrNotFound.
func (c *Cache[B]) GetBlock(hash block.Hash) (B, error) {
	e, ok := c.blocks[hash]
	if !ok {
		var zero B
		return zero, ErrNotFound
	}

	return e.block, nil
}

// attached reports whether hash chains, through stored parents, to the
// current head or to a declared root. It is a pure function of the
// currently stored graph — recomputed on every call rather than cached —
// so a late-arriving parent retroactively attaches everything above it
// without any invalidation bookkeeping.
func (c *Cache[B]) attached(hash block.Hash) bool {
	cur := hash
	// The walk can never legitimately need more hops than maxDepth+2: the
	// cache never retains a chain longer than that above minimum_height.
	// A bound here also protects against a parent cycle, which would
	// otherwise be a bug-induced infinite loop.
	for steps := uint64(0); steps <= c.maxDepth+2; steps++ {
		e, ok := c.blocks[cur]
		if !ok {
			return false
		}

		if c.hasHead && cur == c.head {
			return true
		}

		if e.root {
			return true
		}

		parent := e.block.ParentBlockHash()
		if parent == cur {
			return false
		}

		cur = parent
	}

	return false
}

// AddBlock inserts b into the cache, following the policy in spec.md §4.1.
// The very first block the cache ever sees is implicitly declared a root
// (there is nothing for it to attach to yet); every later block must reach
// attachment through a stored parent, or through a root explicitly declared
// with AddRootBlock.
func (c *Cache[B]) AddBlock(b B) AddResult {
	return c.insert(b, len(c.blocks) == 0)
}

// AddRootBlock inserts b and declares it attached-by-depth regardless of
// whether its parent is stored, permanently. The Block Processor uses this
// during lockstep catch-up (spec.md §4.3): when process_block_number jumps
// the fetch target forward by max_depth to stay within the cache's window,
// walking the new block's full ancestry back to the previous head would
// mean re-fetching a potentially enormous backlog for no benefit, so the
// processor declares the catch-up target a root instead.
func (c *Cache[B]) AddRootBlock(b B) AddResult {
	return c.insert(b, true)
}

func (c *Cache[B]) insert(b B, declareRoot bool) AddResult {
	if minHeight, ok := c.MinimumHeight(); ok && int64(b.BlockNumber()) <= minHeight {
		return NotAddedBlockNumberTooLow
	}

	hash := b.BlockHash()
	if _, exists := c.blocks[hash]; exists {
		if c.attached(hash) {
			return NotAddedAlreadyExistedAttached
		}
		return NotAddedAlreadyExistedDetached
	}

	c.blocks[hash] = entry[B]{block: b, root: declareRoot}
	if c.byNumber[b.BlockNumber()] == nil {
		c.byNumber[b.BlockNumber()] = make(map[block.Hash]struct{})
	}
	c.byNumber[b.BlockNumber()][hash] = struct{}{}

	if declareRoot || c.attached(hash) {
		return Added
	}
	return AddedDetached
}

// SetHead advances the canonical head to hash, which must already be stored
// and attached, then prunes everything strictly below the new
// minimum_height.
func (c *Cache[B]) SetHead(hash block.Hash) error {
	if !c.HasBlock(hash, true) {
		return ErrSetHeadUnknownBlock
	}

	c.head = hash
	c.hasHead = true
	c.prune()

	return nil
}

// prune removes every block strictly below the new minimum_height, then
// transitively removes any remaining block whose nearest stored ancestor
// link was just severed by that removal — those blocks can never become
// attached again. An attached block sitting exactly at minimum_height is
// declared a root first, so it (and everything chaining to it) stays
// attached once its parent is gone. Idempotent: running it again with no
// head change removes nothing further.
func (c *Cache[B]) prune() {
	minHeight, ok := c.MinimumHeight()
	if !ok {
		return
	}

	for hash, e := range c.blocks {
		if int64(e.block.BlockNumber()) == minHeight && !e.root && c.attached(hash) {
			e.root = true
			c.blocks[hash] = e
		}
	}

	for hash, e := range c.blocks {
		if int64(e.block.BlockNumber()) < minHeight {
			c.remove(hash)
		}
	}

	for {
		removedAny := false

		for hash, e := range c.blocks {
			if hash == c.head || c.attached(hash) {
				continue
			}

			parent := e.block.ParentBlockHash()
			if _, ok := c.blocks[parent]; ok {
				continue
			}

			// Parent is absent. If this block sits right at the window edge,
			// its parent's number would be < minHeight, meaning the parent
			// was pruned and is gone for good: this block can never attach.
			// Otherwise the parent is simply not fetched yet — keep waiting.
			if int64(e.block.BlockNumber()) <= minHeight {
				c.remove(hash)
				removedAny = true
			}
		}

		if !removedAny {
			return
		}
	}
}

func (c *Cache[B]) remove(hash block.Hash) {
	e, ok := c.blocks[hash]
	if !ok {
		return
	}

	delete(c.blocks, hash)

	siblings := c.byNumber[e.block.BlockNumber()]
	delete(siblings, hash)
	if len(siblings) == 0 {
		delete(c.byNumber, e.block.BlockNumber())
	}
}
