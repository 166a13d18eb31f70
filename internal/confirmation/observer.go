// Package confirmation implements the Confirmation Observer (spec.md §4.8):
// a promise-oriented facade over the Block Processor's new-head stream for
// "settle when txHash has C confirmations; reject on reorg or
// block-threshold abort." Registration is evaluated synchronously, both
// immediately (against the current head) and on every subsequent new-head
// event delivered through OnNewHead, which is built to be passed directly
// to blockprocessor.Processor.AddListener.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
)

// ErrAborted is sent to a Registration's Err channel once MaxWaitBlocks head
// advances have passed since Register without reaching
// ConfirmationsRequired.
var ErrAborted = errors.New("confirmation: max wait blocks exceeded")

// ReorgError is sent to a Registration's Err channel when ThrowReorgIfNotFound
// is set and a transaction previously observed in head's ancestry is no
// longer found there after a reorg (spec.md §4.9 scenario 5).
type ReorgError struct {
	TxHash block.Hash
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("confirmation: reorg dropped tx %s from head ancestry", e.TxHash)
}

// Options configures a single Register call.
type Options struct {
	// ConfirmationsRequired is the confirmation depth the registration
	// settles at.
	ConfirmationsRequired uint64
	// MaxWaitBlocks bounds how many blocks of head advance the registration
	// tolerates before aborting with ErrAborted. Zero means unbounded.
	MaxWaitBlocks uint64
	// ThrowReorgIfNotFound rejects with ReorgError if txHash, once observed
	// in head's ancestry, later disappears from it.
	ThrowReorgIfNotFound bool
}

// Registration is the promise/task handle returned by Register. Exactly one
// of Done or Err receives a value — never both, and never more than once —
// unless Cancel is called first, in which case neither ever does.
type Registration struct {
	done   chan uint64
	err    chan error
	cancel func()
}

// Done receives the confirmation count once ConfirmationsRequired is
// reached.
func (r *Registration) Done() <-chan uint64 { return r.done }

// Err receives ErrAborted, a *ReorgError, or nothing, depending on how the
// registration resolves.
func (r *Registration) Err() <-chan error { return r.err }

// Cancel removes the registration synchronously; per spec.md §4.8, no
// further callbacks fire for it after Cancel returns. Safe to call more
// than once or after the registration has already settled.
func (r *Registration) Cancel() { r.cancel() }

type entry struct {
	txHash       block.Hash
	opts         Options
	registeredAt uint64
	everFound    bool
	done         chan uint64
	err          chan error
}

// Observer tracks outstanding Registrations against a single Cache[block.Full]
// and resolves them as new heads arrive.
type Observer struct {
	mu      sync.Mutex
	cache   *blockcache.Cache[block.Full]
	entries map[int]*entry
	seq     int
}

// New creates an Observer over cache. cache is read-only from the Observer's
// perspective, per spec.md §5's "the Block Cache is owned by the Block
// Processor; reducers obtain a read-only view".
func New(cache *blockcache.Cache[block.Full]) *Observer {
	return &Observer{
		cache:   cache,
		entries: make(map[int]*entry),
	}
}

// Register starts watching txHash against opts. The current head, if any, is
// evaluated immediately, so a transaction that is already confirmed at
// registration time settles without waiting for the next new-head event.
func (o *Observer) Register(txHash block.Hash, opts Options) *Registration {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	id := o.seq

	var registeredAt uint64
	head, hasHead := o.cache.Head()
	if hasHead {
		if b, err := o.cache.GetBlock(head); err == nil {
			registeredAt = b.BlockNumber()
		}
	}

	e := &entry{
		txHash:       txHash,
		opts:         opts,
		registeredAt: registeredAt,
		done:         make(chan uint64, 1),
		err:          make(chan error, 1),
	}
	o.entries[id] = e

	if hasHead {
		o.evaluate(id, e, head)
	}

	return &Registration{
		done: e.done,
		err:  e.err,
		cancel: func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.entries, id)
		},
	}
}

// OnNewHead re-evaluates every outstanding registration against head. It
// matches blockprocessor.NewHeadListener's signature so it can be passed
// directly to Processor.AddListener.
func (o *Observer) OnNewHead(_ context.Context, _, head block.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, e := range o.entries {
		o.evaluate(id, e, head)
	}
	return nil
}

// evaluate settles or aborts e if warranted, removing it from o.entries when
// it does. Must be called with o.mu held.
func (o *Observer) evaluate(id int, e *entry, head block.Hash) {
	confirmations := blockcache.GetConfirmations(o.cache, head, e.txHash)

	if confirmations >= e.opts.ConfirmationsRequired {
		e.done <- confirmations
		delete(o.entries, id)
		return
	}

	if confirmations > 0 {
		e.everFound = true
	} else if e.everFound && e.opts.ThrowReorgIfNotFound {
		e.err <- &ReorgError{TxHash: e.txHash}
		delete(o.entries, id)
		return
	}

	if e.opts.MaxWaitBlocks == 0 {
		return
	}

	headBlock, err := o.cache.GetBlock(head)
	if err != nil {
		return
	}
	if headBlock.BlockNumber() >= e.registeredAt+e.opts.MaxWaitBlocks {
		e.err <- ErrAborted
		delete(o.entries, id)
	}
}
