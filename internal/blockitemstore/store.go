// Package blockitemstore provides a namespaced, batch-writable key/value
// side-table for per-block derived data. The Block Cache uses it to persist
// a snapshot of its retained blocks (for crash recovery) and reducers use it
// to cache anchor state; the Multi-Responder keeps its Gas Queue journal in
// it as a single latest snapshot, with no record of earlier mutations.
//
// Namespaces keep unrelated concerns from colliding on the same key space:
// "block-processor", "block-cache:<component>", and "responder" are the
// three namespaces spec.md §6 names, but callers may define their own.
package blockitemstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the given
// namespace and key. It is distinguishable from all other errors so callers
// can tell "never written" apart from "storage is unavailable".
var ErrNotFound = errors.New("blockitemstore: key not found")

// Store is a namespaced key/value store with atomic, scoped write batches.
// Reads outside a batch observe the last committed value.
type Store interface {
	// Get returns the value stored for (namespace, key), or ErrNotFound if
	// nothing has been committed for it.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Delete removes the value stored for (namespace, key), outside of any
	// batch. It is a no-op if the key does not exist.
	Delete(ctx context.Context, namespace, key string) error

	// NewBatch opens a write batch. Writes are buffered until Commit; no
	// reader (in or outside a batch) sees them before that point.
	NewBatch() Batch
}

// Batch buffers writes across one or more namespaces for atomic commit. A
// Batch is scoped to a single logical operation — e.g. one head-processing
// turn of the Block Processor, or one Gas Queue mutation — and is discarded
// after Commit is called (successfully or not).
type Batch interface {
	// Put stages a write of value under (namespace, key).
	Put(namespace, key string, value []byte)

	// Delete stages a removal of (namespace, key).
	Delete(namespace, key string)

	// Commit applies every staged write atomically. On error, none of the
	// batch's writes are guaranteed to have taken effect and the caller
	// must treat the operation they were scoping as failed.
	Commit(ctx context.Context) error
}
