// Package pipeline wires the core components described in spec.md into the
// single running process an operator starts and stops: the Block Cache, the
// Block Processor, the Anchor State Reducer framework (instantiated once,
// for the Responder Component), the Multi-Responder, and the Confirmation
// Observer.
//
// Grounded on the teacher's internal/blockproc.Service: a mutex-guarded
// isStarted flag plus a closeFunc captured at Start, Close safe to call
// even if Start was never called or already failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
	"github.com/pisa-watch/pisa/internal/blockprocessor"
	"github.com/pisa-watch/pisa/internal/confirmation"
	"github.com/pisa-watch/pisa/internal/pkg/logger"
	"github.com/pisa-watch/pisa/internal/pkg/validator"
	"github.com/pisa-watch/pisa/internal/reducer"
	appointmentreducer "github.com/pisa-watch/pisa/internal/responder/appointment"
	"github.com/pisa-watch/pisa/internal/responder/multiresponder"
)

// Namespaces under the Block Item Store, per spec.md §6.
const (
	namespaceBlockProcessor = "block-processor"
	namespaceAppointments   = "block-cache:appointments"
)

// ErrAlreadyStarted is returned by Start if the pipeline isn't Stopped.
var ErrAlreadyStarted = errors.New("pipeline: already started")

// ErrNotFound is returned by CancelAppointment for an unknown appointment ID.
var ErrNotFound = errors.New("pipeline: appointment not found")

// Health is the operator health probe's response shape (spec.md §6): current
// head, queue depth, mined-nonce, and last-broadcast-error.
type Health struct {
	Head               block.Hash
	HeadNumber         uint64
	QueueDepth         int
	MinedNonce         uint64
	LastBroadcastError string
}

// Service is the pipeline's lifecycle and appointment-admin surface, the
// shape internal/handlers/cli depends on.
type Service interface {
	// Start begins driving the Block Processor and every component wired to
	// its new-head stream. Returns ErrAlreadyStarted if already running.
	Start(ctx context.Context) error

	// Close stops the pipeline. Safe to call even if Start was never
	// called or failed.
	Close()

	// RegisterAppointment begins tracking req for the response pipeline.
	RegisterAppointment(req appointment.Request) error

	// CancelAppointment stops tracking id. Returns ErrNotFound if id isn't
	// currently tracked.
	CancelAppointment(id appointment.ID) error

	// Health reports the operator health probe per spec.md §6.
	Health(ctx context.Context) (Health, error)
}

type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc func()

	store     blockitemstore.Store
	cache     *blockcache.Cache[block.Full]
	processor *blockprocessor.Processor
	reducerMu sync.Mutex
	reducer   *appointmentreducer.Reducer
	manager   *reducer.Manager[appointmentreducer.Aggregate, block.Full]
	responder *multiresponder.Responder
	observer  *confirmation.Observer

	requests map[appointment.ID]appointment.Request
}

// New creates a Service wiring cache, processor, responder, and observer
// together. signingAddress is the responder's own address, used by the
// Responder Component to filter matching transactions (spec.md §4.7).
func New(
	store blockitemstore.Store,
	cache *blockcache.Cache[block.Full],
	processor *blockprocessor.Processor,
	responder *multiresponder.Responder,
	observer *confirmation.Observer,
	signingAddress string,
) Service {
	r := appointmentreducer.New(signingAddress)

	return &service{
		store:     store,
		cache:     cache,
		processor: processor,
		reducer:   r,
		manager:   reducer.New[appointmentreducer.Aggregate](cache, r, store, namespaceAppointments),
		responder: responder,
		observer:  observer,
		requests:  make(map[appointment.ID]appointment.Request),
	}
}

// Start implements Service.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrAlreadyStarted
	}

	if err := s.responder.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start responder: %w", err)
	}

	if err := s.processor.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start processor: %w", err)
	}

	listenerID, err := s.processor.AddListener(s.onNewHead)
	if err != nil {
		s.processor.Stop()
		return fmt.Errorf("pipeline: register listener: %w", err)
	}

	// The Block Processor promotes its bootstrap head (from loadHead or the
	// chain's current height) before a listener can be registered — Start
	// only reaches Running, the state AddListener requires, once that first
	// promotion has already happened. Replay it here with the zero hash as
	// prevHead, matching reducer.Manager.Transition's "no head ever
	// observed before" case, so the Responder Component and Confirmation
	// Observer see the bootstrap block instead of only heads promoted from
	// here on.
	if head, ok := s.cache.Head(); ok {
		if err := s.onNewHead(ctx, "", head); err != nil {
			_ = s.processor.RemoveListener(listenerID)
			s.processor.Stop()
			return fmt.Errorf("pipeline: replay bootstrap head: %w", err)
		}
	}

	s.closeFunc = func() {
		_ = s.processor.RemoveListener(listenerID)
		s.processor.Stop()
	}
	s.isStarted = true
	return nil
}

// Close implements Service.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}
	s.closeFunc = nil
	s.isStarted = false
}

// RegisterAppointment implements Service.
func (s *service) RegisterAppointment(req appointment.Request) error {
	if err := validator.Validate(req); err != nil {
		return fmt.Errorf("pipeline: register appointment: %w", err)
	}

	s.reducerMu.Lock()
	defer s.reducerMu.Unlock()

	s.reducer.Track(req)
	s.responder.Register(req.AppointmentID, req.Identifier)
	s.requests[req.AppointmentID] = req
	return nil
}

// CancelAppointment implements Service.
func (s *service) CancelAppointment(id appointment.ID) error {
	s.reducerMu.Lock()
	defer s.reducerMu.Unlock()

	if _, ok := s.requests[id]; !ok {
		return ErrNotFound
	}

	s.reducer.Untrack(id)
	delete(s.requests, id)
	return nil
}

// Health implements Service.
func (s *service) Health(ctx context.Context) (Health, error) {
	head, hasHead := s.cache.Head()
	if !hasHead {
		return Health{}, nil
	}

	headBlock, err := s.cache.GetBlock(head)
	if err != nil {
		return Health{}, fmt.Errorf("pipeline: health: %w", err)
	}

	h := Health{
		Head:       head,
		HeadNumber: headBlock.BlockNumber(),
		QueueDepth: s.responder.Queue().Len(),
		MinedNonce: s.responder.Queue().BaseNonce(),
	}
	if err := s.responder.LastBroadcastError(); err != nil {
		h.LastBroadcastError = err.Error()
	}
	return h, nil
}

// onNewHead implements blockprocessor.NewHeadListener: it folds the
// Responder Component's aggregate across the new head, dispatches the
// resulting actions to the Multi-Responder, runs the gas-bump pass, notifies
// the Confirmation Observer, and persists the reducer's memoized state —
// all within the single head-processing turn spec.md §5 requires.
func (s *service) onNewHead(ctx context.Context, prevHead, head block.Hash) error {
	s.reducerMu.Lock()
	defer s.reducerMu.Unlock()

	prev, next, err := s.manager.Transition(ctx, prevHead, head)
	if err != nil {
		return fmt.Errorf("pipeline: reducer transition: %w", err)
	}

	headBlock, err := s.cache.GetBlock(head)
	if err != nil {
		return fmt.Errorf("pipeline: fetch head block: %w", err)
	}

	requests := make(map[appointment.ID]appointment.Request, len(s.requests))
	for id, r := range s.requests {
		requests[id] = r
	}

	for _, action := range appointmentreducer.DetectChanges(prev, next, requests, headBlock.BlockNumber()) {
		if err := s.responder.Dispatch(ctx, action); err != nil {
			logger.Error(ctx, "pipeline: dispatch failed", "error", err)
			continue
		}

		if end, ok := action.(appointmentreducer.EndResponse); ok {
			s.reducer.Untrack(end.AppointmentID)
			delete(s.requests, end.AppointmentID)
		}
	}

	if err := s.responder.BumpPending(ctx); err != nil {
		logger.Error(ctx, "pipeline: bump pending failed", "error", err)
	}

	if err := s.observer.OnNewHead(ctx, prevHead, head); err != nil {
		logger.Error(ctx, "pipeline: confirmation observer failed", "error", err)
	}

	batch := s.store.NewBatch()
	if err := s.manager.Persist(batch, head); err != nil {
		return fmt.Errorf("pipeline: persist reducer state: %w", err)
	}
	if err := blockcache.Save(batch, namespaceBlockProcessor, s.cache); err != nil {
		return fmt.Errorf("pipeline: persist cache snapshot: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("pipeline: commit head-turn batch: %w", err)
	}

	return nil
}
