// Package multiresponder implements the Multi-Responder described in
// spec.md §4.6: the single writer for one signing address, translating
// Responder Component actions into Gas Queue operations and broadcasting
// the result.
//
// Grounded on the teacher's internal/blockproc (wiring a block source into
// one stateful per-block consumer) and its state.go attempt/finalize
// bookkeeping, generalized from "one wallet transaction" to "a whole
// nonce-ordered queue", plus infra/storage/redis/walletwatch.go's
// claim/mark-done idempotency pattern, generalized into a journal that
// keeps the latest queue snapshot (see journal.go).
package multiresponder

import (
	"context"
	"fmt"

	"github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/gasqueue"
	"github.com/pisa-watch/pisa/internal/pkg/logger"
	appointmentreducer "github.com/pisa-watch/pisa/internal/responder/appointment"
)

// Signer is the external collaborator that owns key material. It remains
// an interface only, per spec.md §1 — the core never handles private keys.
type Signer interface {
	Address() string
	SignTransaction(ctx context.Context, tx Transaction) ([]byte, error)
}

// Transaction is the unsigned shape the Signer signs and Provider broadcasts.
type Transaction struct {
	ChainID  uint64
	Nonce    uint64
	To       string
	Data     []byte
	Value    string
	GasLimit uint64
	GasPrice uint64
}

// Provider is the subset of blockprocessor.Provider (spec.md §6) the
// Multi-Responder consumes directly (the Block Processor consumes the
// rest). Method names and signatures intentionally match
// blockprocessor.Provider so a single concrete adapter satisfies both.
type Provider interface {
	GetTransactionCount(ctx context.Context, address string) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (block.Hash, error)
	Balance(ctx context.Context, address string) (uint64, error)
}

// BumpPolicy configures the gas-bump schedule (spec.md §9 Open Question):
// on every block where a pending item hasn't mined, its gas price is
// multiplied by Factor, capped at Max.
type BumpPolicy struct {
	Factor float64
	Max    uint64
}

// DefaultBumpPolicy raises the price by 12.5% per unmined block — a common
// "replacement transaction" bump — with no cap (the caller should set one
// appropriate to the chain).
var DefaultBumpPolicy = BumpPolicy{Factor: 1.125}

// StuckNotifier is called when an item hits its gas price cap without
// mining: a fatal signal for the operator, per spec.md §4.6 ("surface a
// fatal signal to the operator but keep attempting").
type StuckNotifier func(identifier string)

// Responder is the Multi-Responder. It is not safe for concurrent use — it
// runs on the same single logical serial executor as the rest of the core
// (spec.md §5).
type Responder struct {
	signer   Signer
	provider Provider
	journal  Journal
	policy   BumpPolicy
	gasFloor uint64
	notify   StuckNotifier

	queue       gasqueue.Queue
	identifiers map[string]appointment.TransactionIdentifier

	lastBroadcastErr error
}

// Option configures a Responder at construction.
type Option func(*Responder)

// WithBumpPolicy overrides DefaultBumpPolicy.
func WithBumpPolicy(p BumpPolicy) Option {
	return func(r *Responder) { r.policy = p }
}

// WithGasFloor sets the minimum gas price assigned to a freshly queued item.
func WithGasFloor(floor uint64) Option {
	return func(r *Responder) { r.gasFloor = floor }
}

// WithStuckNotifier registers the fatal-signal callback for items that hit
// their gas price cap without mining.
func WithStuckNotifier(fn StuckNotifier) Option {
	return func(r *Responder) { r.notify = fn }
}

// New creates a Responder. Start must be called before Dispatch.
func New(signer Signer, provider Provider, journal Journal, opts ...Option) *Responder {
	r := &Responder{
		signer:      signer,
		provider:    provider,
		journal:     journal,
		policy:      DefaultBumpPolicy,
		notify:      func(string) {},
		identifiers: make(map[string]appointment.TransactionIdentifier),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates an appointment's transaction identifier with its
// broadcastable shape, so Dispatch can build a Transaction for it when
// enqueueing.
func (r *Responder) Register(id appointment.ID, ident appointment.TransactionIdentifier) {
	r.identifiers[string(id)] = ident
}

// Start rebuilds the queue from the journal if one exists, or initializes
// base_nonce from the remote transaction count otherwise — spec.md §4.6's
// "base_nonce of the queue equals pending_nonce, initialized at startup
// from the remote transaction count".
func (r *Responder) Start(ctx context.Context) error {
	restored, ok, err := r.journal.Restore(ctx)
	if err != nil {
		return fmt.Errorf("multiresponder: restore journal: %w", err)
	}
	if ok {
		r.queue = restored
		return nil
	}

	pendingNonce, err := r.provider.GetTransactionCount(ctx, r.signer.Address())
	if err != nil {
		return fmt.Errorf("multiresponder: fetch pending nonce: %w", err)
	}

	r.queue = gasqueue.New(pendingNonce)
	return nil
}

// Dispatch applies one action from the Responder Component to the queue,
// journals the mutation, and broadcasts whatever the mutation newly
// introduced. Errors are returned for the caller to log and retry on the
// next head, per spec.md §7's queue-invariant-violation policy.
func (r *Responder) Dispatch(ctx context.Context, action appointmentreducer.Action) error {
	before := r.queue

	switch a := action.(type) {
	case appointmentreducer.ReEnqueueMissingItems:
		for _, id := range a.AppointmentIDs {
			if err := r.enqueue(string(id)); err != nil {
				return err
			}
		}

	case appointmentreducer.TxMined:
		queue, err := r.queue.Consume(a.Nonce)
		if err != nil {
			return fmt.Errorf("multiresponder: consume nonce %d: %w", a.Nonce, err)
		}
		r.queue = queue

	case appointmentreducer.CheckResponderBalance:
		balance, err := r.provider.Balance(ctx, r.signer.Address())
		if err != nil {
			logger.Warn(ctx, "multiresponder: balance probe failed", "error", err)
			return nil
		}
		logger.Info(ctx, "multiresponder: balance probe", "address", r.signer.Address(), "balance", balance)
		return nil

	case appointmentreducer.EndResponse:
		// Tracking ends; the item has already been consumed out of the
		// queue by its TxMined action. Nothing further to do here.
		return nil

	default:
		return fmt.Errorf("multiresponder: unknown action %T", action)
	}

	if err := r.journal.Append(ctx, r.queue); err != nil {
		r.queue = before
		return fmt.Errorf("multiresponder: journal mutation: %w", err)
	}

	r.broadcastDifference(ctx, before)
	return nil
}

func (r *Responder) enqueue(identifier string) error {
	if _, exists := r.queue.ByIdentifier(identifier); exists {
		return nil
	}

	queue, err := r.queue.Add(identifier, r.gasFloor, r.gasFloor)
	if err != nil {
		return fmt.Errorf("multiresponder: enqueue %s: %w", identifier, err)
	}

	r.queue = queue
	return nil
}

// BumpPending applies the gas-bump policy to every currently queued item,
// per spec.md §4.6: "on every block in which a pending item has not been
// mined, multiply its gas price by a constant factor capped by
// max_gas_price; if cap reached, mark the item stuck and surface a fatal
// signal to the operator but keep attempting."
func (r *Responder) BumpPending(ctx context.Context) error {
	before := r.queue

	for _, item := range r.queue.Items() {
		if item.Stuck {
			continue
		}

		bumped := uint64(float64(item.GasPrice) * r.policy.Factor)
		if r.policy.Max > 0 && bumped >= r.policy.Max {
			bumped = r.policy.Max

			queue, err := r.queue.MarkStuck(item.Identifier)
			if err != nil {
				return fmt.Errorf("multiresponder: mark stuck %s: %w", item.Identifier, err)
			}
			r.queue = queue
			r.notify(item.Identifier)
		}

		queue, err := r.queue.Bump(item.Identifier, bumped)
		if err != nil {
			return fmt.Errorf("multiresponder: bump %s: %w", item.Identifier, err)
		}
		r.queue = queue
	}

	if err := r.journal.Append(ctx, r.queue); err != nil {
		r.queue = before
		return fmt.Errorf("multiresponder: journal bump: %w", err)
	}

	r.broadcastDifference(ctx, before)
	return nil
}

// broadcastDifference broadcasts every item new or changed since before,
// fire-and-forget: the reducer framework, not the network ack, is the
// source of truth for "is this mined" (spec.md §4.6).
func (r *Responder) broadcastDifference(ctx context.Context, before gasqueue.Queue) {
	for _, item := range r.queue.Difference(before) {
		ident, ok := r.identifiers[item.Identifier]
		if !ok {
			logger.Warn(ctx, "multiresponder: no transaction identifier registered, skipping broadcast", "identifier", item.Identifier)
			continue
		}

		tx := Transaction{
			ChainID:  ident.ChainID,
			Nonce:    item.Nonce,
			To:       ident.To,
			Data:     ident.Data,
			Value:    string(ident.Value),
			GasLimit: ident.GasLimit,
			GasPrice: item.GasPrice,
		}

		raw, err := r.signer.SignTransaction(ctx, tx)
		if err != nil {
			logger.Error(ctx, "multiresponder: sign failed", "identifier", item.Identifier, "error", err)
			continue
		}

		if _, err := r.provider.SendRawTransaction(ctx, raw); err != nil {
			logger.Warn(ctx, "multiresponder: broadcast failed, will retry on next head", "identifier", item.Identifier, "error", err)
			r.lastBroadcastErr = err
			continue
		}
		r.lastBroadcastErr = nil
	}
}

// Queue returns the responder's current queue, for health probes and tests.
func (r *Responder) Queue() gasqueue.Queue { return r.queue }

// LastBroadcastError returns the most recent broadcast failure, or nil if
// the most recent broadcast (if any) succeeded. Surfaced by the operator
// health probe (spec.md §6).
func (r *Responder) LastBroadcastError() error { return r.lastBroadcastErr }
