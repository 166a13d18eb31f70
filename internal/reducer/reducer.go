// Package reducer implements the Anchor State Reducer framework described
// in spec.md §4.4: given a reducer's pure `initial`/`reduce` pair, it
// materializes `state_at(block)` lazily over a Block Cache's ancestry,
// memoizing in-process and persisting through the Block Item Store so a
// restart doesn't have to refold the whole retained window.
//
// This is the central correctness lever of the response pipeline: for a
// fixed (reducer, block hash), state_at is a pure fold over ancestry, so two
// processes that observed the same chain history always agree.
package reducer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
)

// Reducer is the pure fold a component implements over a block chain.
// Initial computes the state at a block with no known predecessor in the
// cache (the deepest attached root for this reducer); Reduce folds a
// block's parent state forward across that block.
type Reducer[S any, B block.Node] interface {
	Initial(b B) S
	Reduce(prev S, b B) S
}

// Manager materializes state_at for one reducer against one cache. It is
// not safe for concurrent use, matching the single logical serial executor
// spec.md §5 requires of every core component.
type Manager[S any, B block.Node] struct {
	cache     *blockcache.Cache[B]
	reducer   Reducer[S, B]
	store     blockitemstore.Store
	namespace string

	memo map[block.Hash]S
}

// New creates a Manager for reducer over cache. Computed states are cached
// on store under namespace so they survive a restart; namespace should be
// unique per reducer instance (spec.md §6's "block-cache:<component>").
func New[S any, B block.Node](cache *blockcache.Cache[B], r Reducer[S, B], store blockitemstore.Store, namespace string) *Manager[S, B] {
	return &Manager[S, B]{
		cache:     cache,
		reducer:   r,
		store:     store,
		namespace: namespace,
		memo:      make(map[block.Hash]S),
	}
}

// StateAt returns the reducer's state at hash, computing and memoizing it
// in-process if this is the first time it's been asked for. A state already
// written to the Block Item Store by Persist is loaded instead of recomputed;
// StateAt itself never writes to the store.
func (m *Manager[S, B]) StateAt(ctx context.Context, hash block.Hash) (S, error) {
	var zero S

	if s, ok := m.memo[hash]; ok {
		return s, nil
	}

	if s, ok, err := m.loadPersisted(ctx, hash); err != nil {
		return zero, err
	} else if ok {
		m.memo[hash] = s
		return s, nil
	}

	b, err := m.cache.GetBlock(hash)
	if err != nil {
		return zero, fmt.Errorf("reducer: state_at %s: %w", hash, err)
	}

	var state S
	parent := b.ParentBlockHash()
	if m.cache.IsDeclaredRoot(hash) || !m.cache.HasBlock(parent, false) {
		state = m.reducer.Initial(b)
	} else {
		parentState, err := m.StateAt(ctx, parent)
		if err != nil {
			return zero, err
		}
		state = m.reducer.Reduce(parentState, b)
	}

	m.memo[hash] = state
	return state, nil
}

// Transition returns the (prev, next) state pair a component should run its
// own detect_changes over for a new-head event moving from prevHead to
// newHead. Per spec.md §4.4: if prevHead is not an ancestor of newHead
// (a reorg happened), prev is computed at the fork point rather than at
// prevHead itself, so the diff crosses the fork rather than comparing
// against a state from the now-abandoned branch. If prevHead is the zero
// hash (no head has ever been observed before), prev is the zero value of S.
func (m *Manager[S, B]) Transition(ctx context.Context, prevHead, newHead block.Hash) (prev, next S, err error) {
	next, err = m.StateAt(ctx, newHead)
	if err != nil {
		return prev, next, err
	}

	if prevHead == "" {
		return prev, next, nil
	}

	forkPoint, ok := m.cache.CommonAncestor(prevHead, newHead)
	if !ok {
		return prev, next, fmt.Errorf("reducer: no common ancestor between %s and %s", prevHead, newHead)
	}

	prev, err = m.StateAt(ctx, forkPoint.BlockHash())
	if err != nil {
		return prev, next, err
	}

	return prev, next, nil
}

// Persist stages hash's memoized state into batch under the reducer's
// namespace. Callers persist at the end of a head-processing turn,
// alongside the cache's own pruning batch, per spec.md §5's "write batches
// are scoped to a single head-processing turn" rule.
func (m *Manager[S, B]) Persist(batch blockitemstore.Batch, hash block.Hash) error {
	state, ok := m.memo[hash]
	if !ok {
		return fmt.Errorf("reducer: persist %s: no memoized state to persist", hash)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("reducer: marshal state for %s: %w", hash, err)
	}

	batch.Put(m.namespace, string(hash), raw)
	return nil
}

func (m *Manager[S, B]) loadPersisted(ctx context.Context, hash block.Hash) (S, bool, error) {
	var zero S

	raw, err := m.store.Get(ctx, m.namespace, string(hash))
	if err != nil {
		if errors.Is(err, blockitemstore.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("reducer: load persisted state for %s: %w", hash, err)
	}

	var state S
	if err := json.Unmarshal(raw, &state); err != nil {
		return zero, false, fmt.Errorf("reducer: unmarshal persisted state for %s: %w", hash, err)
	}

	return state, true, nil
}
