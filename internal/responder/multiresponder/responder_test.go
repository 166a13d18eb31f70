package multiresponder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
	appointmentreducer "github.com/pisa-watch/pisa/internal/responder/appointment"
)

type fakeSigner struct {
	address string
	signed  []Transaction
}

func (s *fakeSigner) Address() string { return s.address }

func (s *fakeSigner) SignTransaction(_ context.Context, tx Transaction) ([]byte, error) {
	s.signed = append(s.signed, tx)
	return []byte("signed"), nil
}

type fakeProvider struct {
	transactionCount uint64
	balance          uint64
	broadcast        []string
	sendErr          error
}

func (p *fakeProvider) GetTransactionCount(context.Context, string) (uint64, error) {
	return p.transactionCount, nil
}

func (p *fakeProvider) SendRawTransaction(_ context.Context, raw []byte) (block.Hash, error) {
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.broadcast = append(p.broadcast, string(raw))
	return block.Hash("0xhash"), nil
}

func (p *fakeProvider) Balance(context.Context, string) (uint64, error) {
	return p.balance, nil
}

func newTestResponder(t *testing.T, provider *fakeProvider, signer *fakeSigner) *Responder {
	t.Helper()
	journal := NewJournal(blockitemstore.NewMemoryStore(), "responder")
	r := New(signer, provider, journal, WithGasFloor(100))
	require.NoError(t, r.Start(t.Context()))
	return r
}

func TestResponder_Start_InitializesBaseNonceFromProvider(t *testing.T) {
	provider := &fakeProvider{transactionCount: 42}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)

	assert.Equal(t, uint64(42), r.Queue().BaseNonce())
}

func TestResponder_ReEnqueueMissingItems_BroadcastsNewEntries(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)
	r.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})

	err := r.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app1"},
	})
	require.NoError(t, err)

	item, ok := r.Queue().ByIdentifier("app1")
	require.True(t, ok)
	assert.Equal(t, uint64(5), item.Nonce)
	assert.Equal(t, uint64(100), item.GasPrice)

	require.Len(t, signer.signed, 1)
	assert.Equal(t, uint64(5), signer.signed[0].Nonce)
	require.Len(t, provider.broadcast, 1)
}

func TestResponder_ReEnqueueMissingItems_IsIdempotent(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)
	r.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})

	action := appointmentreducer.ReEnqueueMissingItems{AppointmentIDs: []appointment.ID{"app1"}}
	require.NoError(t, r.Dispatch(t.Context(), action))
	require.NoError(t, r.Dispatch(t.Context(), action))

	assert.Equal(t, 1, r.Queue().Len())
	assert.Len(t, signer.signed, 1, "re-dispatching an already-queued identifier must not rebroadcast")
}

func TestResponder_TxMined_ConsumesQueueEntry(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)
	r.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})

	require.NoError(t, r.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app1"},
	}))
	require.NoError(t, r.Dispatch(t.Context(), appointmentreducer.TxMined{
		AppointmentID: "app1", Identifier: "app1", Nonce: 5,
	}))

	_, ok := r.Queue().ByIdentifier("app1")
	assert.False(t, ok)
	assert.Equal(t, uint64(6), r.Queue().BaseNonce())
}

func TestResponder_BumpPending_IncreasesGasPriceAndRebroadcasts(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)
	r.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})
	require.NoError(t, r.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app1"},
	}))

	require.NoError(t, r.BumpPending(t.Context()))

	item, ok := r.Queue().ByIdentifier("app1")
	require.True(t, ok)
	assert.Greater(t, item.GasPrice, uint64(100))
	assert.False(t, item.Stuck)
	assert.Len(t, signer.signed, 2, "enqueue broadcast plus bump rebroadcast")
}

func TestResponder_BumpPending_MarksStuckAtCap(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5}
	signer := &fakeSigner{address: "0xresponder"}
	journal := NewJournal(blockitemstore.NewMemoryStore(), "responder")

	var notified []string
	r := New(signer, provider, journal, WithGasFloor(100),
		WithBumpPolicy(BumpPolicy{Factor: 2, Max: 150}),
		WithStuckNotifier(func(id string) { notified = append(notified, id) }))
	require.NoError(t, r.Start(t.Context()))

	r.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})
	require.NoError(t, r.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app1"},
	}))

	require.NoError(t, r.BumpPending(t.Context()))

	item, ok := r.Queue().ByIdentifier("app1")
	require.True(t, ok)
	assert.Equal(t, uint64(150), item.GasPrice)
	assert.True(t, item.Stuck)
	assert.Equal(t, []string{"app1"}, notified)
}

func TestResponder_CheckResponderBalance_DoesNotMutateQueue(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5, balance: 9000}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)

	before := r.Queue()
	err := r.Dispatch(t.Context(), appointmentreducer.CheckResponderBalance{})
	require.NoError(t, err)
	assert.Equal(t, before, r.Queue())
}

func TestResponder_Start_RestoresFromJournalOverTransactionCount(t *testing.T) {
	store := blockitemstore.NewMemoryStore()
	journal := NewJournal(store, "responder")
	signer := &fakeSigner{address: "0xresponder"}
	provider := &fakeProvider{transactionCount: 5}

	first := New(signer, provider, journal, WithGasFloor(100))
	require.NoError(t, first.Start(t.Context()))
	first.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})
	require.NoError(t, first.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app1"},
	}))

	// A fresh Responder over the same journal must resume the persisted
	// queue rather than re-derive base_nonce from the (now stale) remote
	// transaction count.
	provider.transactionCount = 99
	second := New(signer, provider, journal, WithGasFloor(100))
	require.NoError(t, second.Start(t.Context()))

	assert.Equal(t, uint64(5), second.Queue().BaseNonce())
	item, ok := second.Queue().ByIdentifier("app1")
	require.True(t, ok)
	assert.Equal(t, uint64(5), item.Nonce)
}

func TestResponder_LastBroadcastError_TracksMostRecentSend(t *testing.T) {
	provider := &fakeProvider{transactionCount: 5}
	signer := &fakeSigner{address: "0xresponder"}
	r := newTestResponder(t, provider, signer)
	r.Register("app1", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract"})

	assert.NoError(t, r.LastBroadcastError())

	provider.sendErr = errors.New("rpc unavailable")
	require.NoError(t, r.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app1"},
	}))
	assert.ErrorContains(t, r.LastBroadcastError(), "rpc unavailable")

	provider.sendErr = nil
	r.Register("app2", appointment.TransactionIdentifier{ChainID: 1, To: "0xcontract2"})
	require.NoError(t, r.Dispatch(t.Context(), appointmentreducer.ReEnqueueMissingItems{
		AppointmentIDs: []appointment.ID{"app2"},
	}))
	assert.NoError(t, r.LastBroadcastError())
}
