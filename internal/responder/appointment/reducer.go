// Package appointment implements the Responder Component: the
// per-appointment anchor-state reducer described in spec.md §4.7. One
// Reducer tracks every active appointment at once, folding a block's
// transactions into a Pending→Mined transition for each, and emits the
// actions the Multi-Responder dispatches.
//
// Grounded on the teacher's internal/walletwatch/wallet.go
// getTransactionsByWallet/notifyWatchedWalletTransactions shape: filter a
// block's transactions against a watched set, notify on match. Here the
// watched set is appointment identifiers rather than wallet addresses, and
// the match additionally requires the transaction's sender to be the
// responder's own signing address.
package appointment

import (
	"github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/block"
)

// Status is an item's position in the Pending→Mined lifecycle.
type Status int

const (
	Pending Status = iota
	Mined
)

// ItemState is one appointment's state at a given block.
type ItemState struct {
	Status     Status
	BlockMined uint64
	Nonce      uint64
	Identifier string
}

// Aggregate is every tracked appointment's state at one block — the S type
// parameter this reducer supplies to reducer.Manager.
type Aggregate map[appointment.ID]ItemState

// Reducer folds block.Full blocks into an Aggregate. It is not safe for
// concurrent use.
type Reducer struct {
	signingAddress string
	appointments   map[appointment.ID]appointment.Request
}

// New creates a Reducer watching for transactions sent from signingAddress.
func New(signingAddress string) *Reducer {
	return &Reducer{
		signingAddress: signingAddress,
		appointments:   make(map[appointment.ID]appointment.Request),
	}
}

// Track registers req so its identifier is watched for from the next block
// folded onward. Re-registering the same AppointmentID replaces the request.
func (r *Reducer) Track(req appointment.Request) {
	r.appointments[req.AppointmentID] = req
}

// Untrack stops watching id. Existing Aggregate values already computed
// still carry its last known state; it simply won't be updated further.
func (r *Reducer) Untrack(id appointment.ID) {
	delete(r.appointments, id)
}

// Initial implements reducer.Reducer. It is called at a declared root of the
// cache, or at a block whose parent is not stored, where no earlier block is
// retained — so "scan ancestry up to block_observed" (spec.md §4.7)
// degenerates to scanning this one block, since nothing earlier is available
// to the framework.
func (r *Reducer) Initial(b block.Full) Aggregate {
	agg := make(Aggregate, len(r.appointments))
	for id, req := range r.appointments {
		agg[id] = r.scanBlock(req, b)
	}
	return agg
}

// Reduce implements reducer.Reducer. For an appointment already present in
// prev, it applies the Pending→Mined transition rule and otherwise returns
// the prior value unchanged (enabling cheap identity-style diffing in
// DetectChanges). For an appointment not yet present in prev — registered
// at or after this block — its state is seeded from this block alone, the
// same way Initial seeds the bootstrap root.
func (r *Reducer) Reduce(prev Aggregate, b block.Full) Aggregate {
	next := make(Aggregate, len(r.appointments))

	for id, req := range r.appointments {
		prior, tracked := prev[id]
		if !tracked {
			next[id] = r.scanBlock(req, b)
			continue
		}

		if prior.Status == Mined {
			next[id] = prior
			continue
		}

		if matched, nonce := findMatch(req, b, r.signingAddress); matched {
			next[id] = ItemState{
				Status:     Mined,
				BlockMined: b.BlockNumber(),
				Nonce:      nonce,
				Identifier: string(id),
			}
			continue
		}

		next[id] = prior
	}

	return next
}

func (r *Reducer) scanBlock(req appointment.Request, b block.Full) ItemState {
	if matched, nonce := findMatch(req, b, r.signingAddress); matched {
		return ItemState{Status: Mined, BlockMined: b.BlockNumber(), Nonce: nonce, Identifier: string(req.AppointmentID)}
	}
	return ItemState{Status: Pending, Identifier: string(req.AppointmentID)}
}

// findMatch reports whether block b contains a transaction matching req's
// identifier and sent from signingAddress — spec.md §4.7's "wrong-from
// filter": a transaction matching the identifier but sent from a different
// address does not count.
func findMatch(req appointment.Request, b block.Full, signingAddress string) (matched bool, nonce uint64) {
	for _, tx := range b.Transactions {
		if tx.From != signingAddress {
			continue
		}
		if tx.To != req.Identifier.To {
			continue
		}
		if tx.ChainID != req.Identifier.ChainID {
			continue
		}
		if string(tx.Data) != string(req.Identifier.Data) {
			continue
		}
		if tx.Value != req.Identifier.Value {
			continue
		}
		if tx.GasLimit != req.Identifier.GasLimit {
			continue
		}
		return true, tx.Nonce
	}
	return false, 0
}
