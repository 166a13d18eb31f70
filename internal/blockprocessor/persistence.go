package blockprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pisa-watch/pisa/internal/blockitemstore"
)

// headKey is the single key the latest processed head number is persisted
// under, per spec.md §6's persisted layout: namespace "block-processor",
// single key "head": {head: u64}.
const headKey = "head"

type persistedHead struct {
	Head uint64 `json:"head"`
}

func saveHead(ctx context.Context, store blockitemstore.Store, namespace string, head uint64) error {
	raw, err := json.Marshal(persistedHead{Head: head})
	if err != nil {
		return fmt.Errorf("blockprocessor: marshal head: %w", err)
	}

	batch := store.NewBatch()
	batch.Put(namespace, headKey, raw)
	return batch.Commit(ctx)
}

// loadHead returns the last persisted head number and true, or false if
// nothing has been persisted yet.
func loadHead(ctx context.Context, store blockitemstore.Store, namespace string) (uint64, bool, error) {
	raw, err := store.Get(ctx, namespace, headKey)
	if err != nil {
		if errors.Is(err, blockitemstore.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("blockprocessor: load head: %w", err)
	}

	var persisted persistedHead
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return 0, false, fmt.Errorf("blockprocessor: unmarshal head: %w", err)
	}

	return persisted.Head, true, nil
}
