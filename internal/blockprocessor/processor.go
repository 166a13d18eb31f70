package blockprocessor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
	"github.com/pisa-watch/pisa/internal/pkg/logger"
	"github.com/pisa-watch/pisa/internal/pkg/resilience/retry"
	"github.com/pisa-watch/pisa/internal/pkg/x/chflow"
)

// ErrAlreadyStarted is returned by Start when the processor isn't Stopped.
var ErrAlreadyStarted = errors.New("blockprocessor: already started")

// ErrNotRunning is returned by AddListener/RemoveListener outside the
// Running state, per spec.md §4.3 ("Listener add/remove is only valid in
// Running").
var ErrNotRunning = errors.New("blockprocessor: not running")

// NewHeadListener is notified synchronously, under the Processor's lock,
// every time process_block_number promotes a new head. prevHead is the
// zero Hash on the very first promotion. A returned error is logged, not
// propagated — per spec.md §7, "errors during action dispatch are logged
// and do not block subsequent actions".
type NewHeadListener func(ctx context.Context, prevHead, head block.Hash) error

// ListenerID identifies a registered NewHeadListener for later removal.
type ListenerID int

// Processor drives a blockcache.Cache[block.Full] from a Provider,
// implementing spec.md §4.3's process_block_number protocol.
type Processor struct {
	mu    sync.Mutex
	state State

	provider  Provider
	cache     *blockcache.Cache[block.Full]
	store     blockitemstore.Store
	namespace string
	retry     retry.Retry

	lastObservedHash block.Hash
	listeners        map[ListenerID]NewHeadListener
	listenerSeq      int

	cancel func()
}

// Option configures a Processor at construction.
type Option func(*Processor)

// WithRetry wraps every remote block fetch in r, for transient RPC
// failures that aren't the spec.md §7 "BlockFetchingError" case (those are
// swallowed unconditionally; this covers ordinary network flakiness).
func WithRetry(r retry.Retry) Option {
	return func(p *Processor) { p.retry = r }
}

// New creates a Processor. Call Start to begin driving cache.
func New(provider Provider, cache *blockcache.Cache[block.Full], store blockitemstore.Store, namespace string, opts ...Option) *Processor {
	p := &Processor{
		provider:  provider,
		cache:     cache,
		store:     store,
		namespace: namespace,
		listeners: make(map[ListenerID]NewHeadListener),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the processor's current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// AddListener registers fn to be called on every new-head promotion. Valid
// only while Running.
func (p *Processor) AddListener(fn NewHeadListener) (ListenerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Running {
		return 0, ErrNotRunning
	}

	p.listenerSeq++
	id := ListenerID(p.listenerSeq)
	p.listeners[id] = fn
	return id, nil
}

// RemoveListener unregisters a previously added listener. Valid only while
// Running.
func (p *Processor) RemoveListener(id ListenerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Running {
		return ErrNotRunning
	}

	delete(p.listeners, id)
	return nil
}

// Start implements spec.md §4.3's startup protocol: read the persisted
// head (or query the provider if none), process that block number, then
// subscribe to new-head notifications and process each as it arrives.
//
// Start returns once the initial process_block_number call and the
// subscription have both succeeded; the notification loop continues in the
// background until Stop is called or a fatal error occurs.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Stopped {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state = Starting
	p.mu.Unlock()

	n, hasPersisted, err := loadHead(ctx, p.store, p.namespace)
	if err != nil {
		p.setState(Stopped)
		return err
	}
	if !hasPersisted {
		n, err = p.provider.GetBlockNumber(ctx)
		if err != nil {
			p.setState(Stopped)
			return fmt.Errorf("blockprocessor: query chain head: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := p.processBlockNumber(runCtx, n); err != nil {
		cancel()
		p.setState(Stopped)
		return err
	}

	newHeadsCh, err := p.provider.SubscribeNewHeads(runCtx)
	if err != nil {
		cancel()
		p.setState(Stopped)
		return fmt.Errorf("blockprocessor: subscribe new heads: %w", err)
	}

	p.mu.Lock()
	p.state = Running
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx, newHeadsCh)

	return nil
}

// Stop removes the "block" subscription but lets an in-flight
// process_block_number complete, per spec.md §5.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = Stopping
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	p.mu.Lock()
	p.state = Stopped
	p.cancel = nil
	p.mu.Unlock()
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Processor) run(ctx context.Context, newHeadsCh <-chan uint64) {
	for {
		n, ok := chflow.Receive(ctx, newHeadsCh)
		if !ok {
			return
		}

		if err := p.processBlockNumber(ctx, n); err != nil {
			logger.Error(ctx, "blockprocessor: fatal error, stopping", "error", err)
			p.Stop()
			return
		}
	}
}

// processBlockNumber implements spec.md §4.3's process_block_number.
func (p *Processor) processBlockNumber(ctx context.Context, n uint64) error {
	target, behind, err := p.target(n)
	if err != nil {
		return err
	}

	fetched, err := p.fetchByNumber(ctx, target)
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			logger.Info(ctx, "blockprocessor: block not yet available, will retry", "number", target)
			return nil
		}
		logger.Error(ctx, "blockprocessor: fetch failed", "number", target, "error", err)
		return err
	}

	if p.cache.HasBlock(fetched.BlockHash(), false) {
		logger.Info(ctx, "blockprocessor: block already cached", "hash", fetched.BlockHash())
		return nil
	}

	p.lastObservedHash = fetched.BlockHash()

	var result blockcache.AddResult
	if behind {
		// Lockstep catch-up: declare the capped target a fresh root
		// instead of walking its ancestry back to reconnect with the
		// existing cache window. Reconnecting would mean fetching up to
		// max_depth blocks by hash on every single catch-up iteration —
		// the "potentially huge ancestor backlog" a long-offline restart
		// would otherwise force. Reducers bootstrap from this root the
		// same way they bootstrap from the cache's very first block.
		result = p.cache.AddRootBlock(fetched)
	} else {
		result = p.cache.AddBlock(fetched)
		cur := block.Node(fetched)

		for result == blockcache.AddedDetached || result == blockcache.NotAddedAlreadyExistedDetached {
			parentHash := cur.ParentBlockHash()

			parent, ok, err := p.parentFromCacheOrRemote(ctx, parentHash)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			cur = parent
			result = p.cache.AddBlock(parent)
		}
	}

	// Promotion is gated on freshness (no newer notification raced us) and
	// validity (the original add wasn't rejected as too-low), not on
	// behind: a lockstep catch-up iteration must still advance the head to
	// its capped target, or the next iteration would recompute the same
	// cap from the same stale head and make no progress. behind only
	// controls whether another iteration follows.
	if p.lastObservedHash == fetched.BlockHash() && result != blockcache.NotAddedBlockNumberTooLow {
		if err := p.promoteHead(ctx, fetched.BlockHash()); err != nil {
			return fmt.Errorf("blockprocessor: cache invariant violation: %w", err)
		}
	}

	if behind {
		return p.processBlockNumber(ctx, n)
	}

	return nil
}

// target computes process_block_number's cap/behind decision.
func (p *Processor) target(n uint64) (target uint64, behind bool, err error) {
	head, hasHead := p.cache.Head()
	if !hasHead {
		return n, false, nil
	}

	headBlock, getErr := p.cache.GetBlock(head)
	if getErr != nil {
		return 0, false, fmt.Errorf("blockprocessor: cache invariant violation: head not retrievable: %w", getErr)
	}

	cap := headBlock.BlockNumber() + p.cache.MaxDepth()
	if n > cap {
		return cap, true, nil
	}
	return n, false, nil
}

// parentFromCacheOrRemote resolves hash's block from the cache if present,
// otherwise fetches it remotely. ok is false when the remote fetch hit the
// transient "not found" case, meaning the caller should abandon this
// process_block_number call and retry on the next notification.
func (p *Processor) parentFromCacheOrRemote(ctx context.Context, hash block.Hash) (block.Full, bool, error) {
	if cached, err := p.cache.GetBlock(hash); err == nil {
		return cached, true, nil
	}

	fetched, err := p.fetchByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			logger.Info(ctx, "blockprocessor: parent not yet available, will retry", "hash", hash)
			return block.Full{}, false, nil
		}
		return block.Full{}, false, err
	}

	return fetched, true, nil
}

// promoteHead advances the cache's head, persists it, and notifies every
// registered listener — all under p.mu, matching spec.md §5's "emit the
// new-head event under the reducer-framework lock".
func (p *Processor) promoteHead(ctx context.Context, hash block.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevHash, _ := p.cache.Head()

	if err := p.cache.SetHead(hash); err != nil {
		return err
	}

	headBlock, err := p.cache.GetBlock(hash)
	if err != nil {
		return err
	}

	if err := saveHead(ctx, p.store, p.namespace, headBlock.BlockNumber()); err != nil {
		logger.Error(ctx, "blockprocessor: failed to persist head", "error", err)
	}

	for id, listener := range p.listeners {
		if err := listener(ctx, prevHash, hash); err != nil {
			logger.Error(ctx, "blockprocessor: listener error", "listener", id, "error", err)
		}
	}

	return nil
}

// fetchByNumber fetches the block at number, retrying through p.retry if
// configured. A persistent ErrBlockNotFound after retries is returned
// as-is: process_block_number swallows it and waits for the next head
// notification rather than treating it as fatal.
func (p *Processor) fetchByNumber(ctx context.Context, number uint64) (block.Full, error) {
	if p.retry == nil {
		return p.provider.GetBlockByNumber(ctx, number)
	}

	var result block.Full
	err := p.retry.Execute(ctx, func() error {
		b, err := p.provider.GetBlockByNumber(ctx, number)
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}

// fetchByHash is fetchByNumber's counterpart for resolving a parent by
// hash during the detached-ancestor walk.
func (p *Processor) fetchByHash(ctx context.Context, hash block.Hash) (block.Full, error) {
	if p.retry == nil {
		return p.provider.GetBlockByHash(ctx, hash)
	}

	var result block.Full
	err := p.retry.Execute(ctx, func() error {
		b, err := p.provider.GetBlockByHash(ctx, hash)
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}
