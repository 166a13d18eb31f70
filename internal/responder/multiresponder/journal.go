package multiresponder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pisa-watch/pisa/internal/blockitemstore"
	"github.com/pisa-watch/pisa/internal/gasqueue"
)

// journalKey is the single key the current queue snapshot lives under.
// Grounded on infra/storage/redis/walletwatch.go's claim/mark-done pair,
// generalized from "one in-flight claim" to "the whole queue" — every
// mutation overwrites the same key, so a crash mid-write leaves either the
// old or the new snapshot intact, never a partial one, since Batch.Commit
// is atomic.
const journalKey = "queue"

type persistedItem struct {
	Identifier string `json:"identifier"`
	Nonce      uint64 `json:"nonce"`
	GasPrice   uint64 `json:"gas_price"`
	Stuck      bool   `json:"stuck"`
}

type persistedQueue struct {
	BaseNonce uint64          `json:"base_nonce"`
	Items     []persistedItem `json:"items"`
}

// Journal persists the Multi-Responder's queue so a restart resumes from
// the last committed state rather than re-deriving it purely from the
// remote transaction count (spec.md §4.6, §7: "on restart, rebuild the
// queue from its journal before accepting new actions").
type Journal interface {
	// Append overwrites the persisted snapshot with queue. Despite the
	// name, this is last-value-wins, not a log: each call replaces the
	// previous snapshot, and no record of earlier mutations is kept.
	Append(ctx context.Context, queue gasqueue.Queue) error

	// Restore loads the last snapshot written by Append. It returns
	// ok == false if nothing has been journaled yet.
	Restore(ctx context.Context) (gasqueue.Queue, bool, error)
}

// storeJournal implements Journal over a blockitemstore.Store, namespaced
// per spec.md §6's "responder" namespace.
type storeJournal struct {
	store     blockitemstore.Store
	namespace string
}

// NewJournal creates a Journal backed by store under namespace.
func NewJournal(store blockitemstore.Store, namespace string) Journal {
	return &storeJournal{store: store, namespace: namespace}
}

func (j *storeJournal) Append(ctx context.Context, queue gasqueue.Queue) error {
	items := queue.Items()
	snap := persistedQueue{
		BaseNonce: queue.BaseNonce(),
		Items:     make([]persistedItem, 0, len(items)),
	}
	for _, item := range items {
		snap.Items = append(snap.Items, persistedItem{
			Identifier: item.Identifier,
			Nonce:      item.Nonce,
			GasPrice:   item.GasPrice,
			Stuck:      item.Stuck,
		})
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("multiresponder: marshal journal: %w", err)
	}

	batch := j.store.NewBatch()
	batch.Put(j.namespace, journalKey, raw)
	return batch.Commit(ctx)
}

func (j *storeJournal) Restore(ctx context.Context) (gasqueue.Queue, bool, error) {
	raw, err := j.store.Get(ctx, j.namespace, journalKey)
	if err != nil {
		if errors.Is(err, blockitemstore.ErrNotFound) {
			return gasqueue.Queue{}, false, nil
		}
		return gasqueue.Queue{}, false, fmt.Errorf("multiresponder: load journal: %w", err)
	}

	var snap persistedQueue
	if err := json.Unmarshal(raw, &snap); err != nil {
		return gasqueue.Queue{}, false, fmt.Errorf("multiresponder: unmarshal journal: %w", err)
	}

	items := make([]gasqueue.Item, 0, len(snap.Items))
	for _, item := range snap.Items {
		items = append(items, gasqueue.Item{
			Identifier: item.Identifier,
			Nonce:      item.Nonce,
			GasPrice:   item.GasPrice,
			Stuck:      item.Stuck,
		})
	}
	queue := gasqueue.Restore(snap.BaseNonce, items)

	return queue, true, nil
}
