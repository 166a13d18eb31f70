package blockcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
)

// snapshotKey is the blockitemstore key a cache's state is persisted under,
// namespaced per component so the Block Processor's cache and a reducer's
// own working cache (if it keeps one) never collide.
const snapshotKey = "snapshot"

type persistedEntry[B block.Node] struct {
	Block B    `json:"block"`
	Root  bool `json:"root"`
}

type persistedCache[B block.Node] struct {
	MaxDepth uint64              `json:"max_depth"`
	Head     block.Hash          `json:"head"`
	HasHead  bool                `json:"has_head"`
	Entries  []persistedEntry[B] `json:"entries"`
}

// Save serializes c into a single blockitemstore batch write under
// (namespace, "snapshot"). It is generic over the cache's Node type, so the
// Block Processor can snapshot its Cache[block.Full] (transactions and logs
// included) under its own namespace, letting a restart rehydrate the full
// retained window instead of rebuilding it one root block at a time —
// which would otherwise degenerate every reducer's Initial to a single
// block until max_depth blocks have passed again.
func Save[B block.Node](batch blockitemstore.Batch, namespace string, c *Cache[B]) error {
	snap := persistedCache[B]{
		MaxDepth: c.maxDepth,
		Head:     c.head,
		HasHead:  c.hasHead,
		Entries:  make([]persistedEntry[B], 0, len(c.blocks)),
	}

	for _, e := range c.blocks {
		snap.Entries = append(snap.Entries, persistedEntry[B]{Block: e.block, Root: e.root})
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("blockcache: marshal snapshot: %w", err)
	}

	batch.Put(namespace, snapshotKey, raw)
	return nil
}

// Restore loads a cache previously persisted with Save. It returns a nil
// cache and no error if nothing has been saved yet under namespace.
func Restore[B block.Node](ctx context.Context, store blockitemstore.Store, namespace string) (*Cache[B], error) {
	raw, err := store.Get(ctx, namespace, snapshotKey)
	if err != nil {
		if errors.Is(err, blockitemstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockcache: load snapshot: %w", err)
	}

	var snap persistedCache[B]
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("blockcache: unmarshal snapshot: %w", err)
	}

	c := New[B](snap.MaxDepth)
	for _, e := range snap.Entries {
		hash := e.Block.BlockHash()
		c.blocks[hash] = entry[B]{block: e.Block, root: e.Root}

		if c.byNumber[e.Block.BlockNumber()] == nil {
			c.byNumber[e.Block.BlockNumber()] = make(map[block.Hash]struct{})
		}
		c.byNumber[e.Block.BlockNumber()][hash] = struct{}{}
	}
	c.head = snap.Head
	c.hasHead = snap.HasHead

	return c, nil
}
