// Package gasqueue implements the persistent-value nonce queue described in
// spec.md §4.5: the Multi-Responder's record of its own in-flight
// transactions, each pinned to a specific nonce, kept strictly contiguous
// from base_nonce so that broadcasting the queue always yields a gapless
// nonce stream.
//
// Every operation returns a new Queue rather than mutating the receiver,
// mirroring the teacher's `blockProcessingState` style of plain structs with
// pure transition methods (internal/blockproc/state.go) generalized from a
// single mutable struct to a persistent value.
package gasqueue

import (
	"errors"
	"fmt"
)

// ErrDuplicateIdentifier is returned by Add when an item with the given
// identifier is already queued.
var ErrDuplicateIdentifier = errors.New("gasqueue: duplicate identifier")

// ErrNonceNotFound is returned by Bump and MarkStuck when no queued item
// carries the given identifier.
var ErrNonceNotFound = errors.New("gasqueue: nonce not found")

// Item is one queued, not-yet-confirmed transaction.
type Item struct {
	Identifier string
	Nonce      uint64
	GasPrice   uint64
	Stuck      bool
}

// Queue is an immutable, nonce-ordered list of in-flight items. The zero
// Queue is not valid; use New.
type Queue struct {
	baseNonce uint64
	items     []Item
}

// New creates an empty Queue whose next assigned nonce is baseNonce.
func New(baseNonce uint64) Queue {
	return Queue{baseNonce: baseNonce}
}

// Restore reconstructs a Queue from a previously persisted baseNonce and
// item list, for a journal to load on startup. Unlike ReplaceFrom, it does
// not require the items to already be present in an existing queue.
func Restore(baseNonce uint64, items []Item) Queue {
	return Queue{baseNonce: baseNonce, items: cloneItems(items)}
}

// BaseNonce returns the queue's base_nonce: the nonce of its oldest item, or
// the next nonce to be assigned if the queue is empty.
func (q Queue) BaseNonce() uint64 { return q.baseNonce }

// Items returns the queue's items in ascending nonce order. The returned
// slice is a copy; mutating it does not affect q.
func (q Queue) Items() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued items.
func (q Queue) Len() int { return len(q.items) }

// ByIdentifier returns the item with the given identifier and true, or the
// zero Item and false.
func (q Queue) ByIdentifier(identifier string) (Item, bool) {
	for _, it := range q.items {
		if it.Identifier == identifier {
			return it, true
		}
	}
	return Item{}, false
}

// ByNonce returns the item at nonce and true, or the zero Item and false.
func (q Queue) ByNonce(nonce uint64) (Item, bool) {
	for _, it := range q.items {
		if it.Nonce == nonce {
			return it, true
		}
	}
	return Item{}, false
}

// Add appends a new item at base_nonce+len, with gas price
// max(currentGasPrice, floor). It fails with ErrDuplicateIdentifier if an
// item with the same identifier is already queued; on failure q is returned
// unchanged.
func (q Queue) Add(identifier string, currentGasPrice, floor uint64) (Queue, error) {
	if _, exists := q.ByIdentifier(identifier); exists {
		return q, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, identifier)
	}

	gasPrice := currentGasPrice
	if floor > gasPrice {
		gasPrice = floor
	}

	item := Item{
		Identifier: identifier,
		Nonce:      q.baseNonce + uint64(len(q.items)),
		GasPrice:   gasPrice,
	}

	return Queue{baseNonce: q.baseNonce, items: append(cloneItems(q.items), item)}, nil
}

// Consume confirms the item at nonce has been mined: every item with
// nonce <= confirmed is dropped and base_nonce becomes confirmed+1. It is
// a no-op succeeding trivially if confirmed < base_nonce (already consumed).
func (q Queue) Consume(confirmed uint64) (Queue, error) {
	if confirmed < q.baseNonce {
		return q, nil
	}

	kept := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if it.Nonce > confirmed {
			kept = append(kept, it)
		}
	}

	return Queue{baseNonce: confirmed + 1, items: kept}, nil
}

// Bump increases the gas price of the item with the given identifier,
// leaving its nonce and every other item untouched. Fails with
// ErrNonceNotFound (no item carries that identifier); on failure q is
// returned unchanged.
func (q Queue) Bump(identifier string, newGasPrice uint64) (Queue, error) {
	idx := -1
	for i, it := range q.items {
		if it.Identifier == identifier {
			idx = i
			break
		}
	}
	if idx < 0 {
		return q, fmt.Errorf("%w: identifier %s", ErrNonceNotFound, identifier)
	}

	items := cloneItems(q.items)
	items[idx].GasPrice = newGasPrice

	return Queue{baseNonce: q.baseNonce, items: items}, nil
}

// MarkStuck flags the item with the given identifier as stuck (gas price
// hit its cap) without changing its gas price or nonce.
func (q Queue) MarkStuck(identifier string) (Queue, error) {
	idx := -1
	for i, it := range q.items {
		if it.Identifier == identifier {
			idx = i
			break
		}
	}
	if idx < 0 {
		return q, fmt.Errorf("%w: identifier %s", ErrNonceNotFound, identifier)
	}

	items := cloneItems(q.items)
	items[idx].Stuck = true

	return Queue{baseNonce: q.baseNonce, items: items}, nil
}

// ReplaceFrom replaces the prefix of q's items that shares a nonce range
// with replacement, used when the responder discovers the chain carries a
// different transaction at an owned nonce (external replacement, reorg).
// Items in q at nonces not covered by replacement are kept as-is.
func (q Queue) ReplaceFrom(replacement []Item) Queue {
	byNonce := make(map[uint64]Item, len(replacement))
	for _, it := range replacement {
		byNonce[it.Nonce] = it
	}

	items := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if r, ok := byNonce[it.Nonce]; ok {
			items = append(items, r)
			continue
		}
		items = append(items, it)
	}

	return Queue{baseNonce: q.baseNonce, items: items}
}

// Difference returns the items of q that are absent (by identifier) from
// older or differ from older's item with the same identifier (e.g. a
// bumped gas price), preserving q's order. The Multi-Responder uses this after every
// mutation to know what to (re)broadcast.
func (q Queue) Difference(older Queue) []Item {
	oldByIdentifier := make(map[string]Item, older.Len())
	for _, it := range older.items {
		oldByIdentifier[it.Identifier] = it
	}

	var diff []Item
	for _, it := range q.items {
		if prior, ok := oldByIdentifier[it.Identifier]; !ok || prior != it {
			diff = append(diff, it)
		}
	}

	return diff
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
