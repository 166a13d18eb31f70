package blockprocessor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
)

type fakeProvider struct {
	byNumber map[uint64]block.Full
	byHash   map[block.Hash]block.Full
	headNum  uint64

	newHeadsCh chan uint64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byNumber:   make(map[uint64]block.Full),
		byHash:     make(map[block.Hash]block.Full),
		newHeadsCh: make(chan uint64, 16),
	}
}

// seedChain populates blocks 0..n, genesis's parent hash empty.
func (p *fakeProvider) seedChain(n int) []block.Hash {
	hashes := make([]block.Hash, n+1)
	prev := block.Hash("")
	for i := 0; i <= n; i++ {
		hash := block.Hash(fmt.Sprintf("block-%d", i))
		full := block.Full{Stub: block.Stub{Hash: hash, Number: uint64(i), ParentHash: prev}}
		p.byNumber[uint64(i)] = full
		p.byHash[hash] = full
		hashes[i] = hash
		prev = hash
	}
	p.headNum = uint64(n)
	return hashes
}

func (p *fakeProvider) GetBlockByNumber(_ context.Context, number uint64) (block.Full, error) {
	b, ok := p.byNumber[number]
	if !ok {
		return block.Full{}, ErrBlockNotFound
	}
	return b, nil
}

func (p *fakeProvider) GetBlockByHash(_ context.Context, hash block.Hash) (block.Full, error) {
	b, ok := p.byHash[hash]
	if !ok {
		return block.Full{}, ErrBlockNotFound
	}
	return b, nil
}

func (p *fakeProvider) GetTransactionReceipt(context.Context, block.Hash) (Receipt, error) {
	return Receipt{}, ErrBlockNotFound
}

func (p *fakeProvider) GetBlockNumber(context.Context) (uint64, error) {
	return p.headNum, nil
}

func (p *fakeProvider) GetLogs(context.Context, block.Hash) ([]block.Log, error) {
	return nil, nil
}

func (p *fakeProvider) GetTransactionCount(context.Context, string) (uint64, error) {
	return 0, nil
}

func (p *fakeProvider) EstimateGas(context.Context, GasEstimateRequest) (uint64, error) {
	return 21000, nil
}

func (p *fakeProvider) SendRawTransaction(context.Context, []byte) (block.Hash, error) {
	return block.Hash("tx"), nil
}

func (p *fakeProvider) SubscribeNewHeads(ctx context.Context) (<-chan uint64, error) {
	return p.newHeadsCh, nil
}

func (p *fakeProvider) Balance(context.Context, string) (uint64, error) {
	return 0, nil
}

func TestProcessor_Start_BootstrapsFromChainHeadAndPromotes(t *testing.T) {
	provider := newFakeProvider()
	provider.seedChain(0)
	cache := blockcache.New[block.Full](50)
	store := blockitemstore.NewMemoryStore()

	p := New(provider, cache, store, "block-processor")

	var notifiedPrev, notifiedHead block.Hash
	_, err := p.AddListener(func(_ context.Context, prev, head block.Hash) error {
		notifiedPrev, notifiedHead = prev, head
		return nil
	})
	assert.ErrorIs(t, err, ErrNotRunning, "listener registration before Start must fail")

	require.NoError(t, p.Start(t.Context()))
	assert.Equal(t, Running, p.State())

	id, err := p.AddListener(func(_ context.Context, prev, head block.Hash) error {
		notifiedPrev, notifiedHead = prev, head
		return nil
	})
	require.NoError(t, err)
	_ = id

	head, ok := cache.Head()
	require.True(t, ok)
	assert.Equal(t, block.Hash("block-0"), head)

	p.Stop()
	assert.Equal(t, Stopped, p.State())

	_ = notifiedPrev
	_ = notifiedHead
}

func TestProcessor_ProcessBlockNumber_DirectAdvanceWithinMaxDepth(t *testing.T) {
	provider := newFakeProvider()
	hashes := provider.seedChain(5)
	cache := blockcache.New[block.Full](50)
	store := blockitemstore.NewMemoryStore()
	p := New(provider, cache, store, "block-processor")

	require.NoError(t, p.processBlockNumber(t.Context(), 0))
	require.NoError(t, p.processBlockNumber(t.Context(), 3))

	head, ok := cache.Head()
	require.True(t, ok)
	assert.Equal(t, hashes[3], head)
}

func TestProcessor_ProcessBlockNumber_LockstepCatchUpAcrossMaxDepth(t *testing.T) {
	provider := newFakeProvider()
	hashes := provider.seedChain(10)
	cache := blockcache.New[block.Full](3) // max_depth = 3
	store := blockitemstore.NewMemoryStore()
	p := New(provider, cache, store, "block-processor")

	require.NoError(t, p.processBlockNumber(t.Context(), 0))

	// Jumping straight to 10 must proceed in steps no larger than max_depth,
	// each capped target added as a fresh root rather than reconnected by
	// walking its parents.
	require.NoError(t, p.processBlockNumber(t.Context(), 10))

	head, ok := cache.Head()
	require.True(t, ok)
	assert.Equal(t, hashes[10], head)
}

func TestProcessor_ProcessBlockNumber_SwallowsBlockNotFound(t *testing.T) {
	provider := newFakeProvider()
	provider.seedChain(2)
	cache := blockcache.New[block.Full](50)
	store := blockitemstore.NewMemoryStore()
	p := New(provider, cache, store, "block-processor")

	require.NoError(t, p.processBlockNumber(t.Context(), 0))

	err := p.processBlockNumber(t.Context(), 99) // not seeded: ErrBlockNotFound
	require.NoError(t, err, "BlockFetchingError must be swallowed, not returned")

	head, ok := cache.Head()
	require.True(t, ok)
	assert.Equal(t, block.Hash("block-0"), head, "head must not advance on a not-found fetch")
}

func TestProcessor_PersistsHeadAcrossRestart(t *testing.T) {
	provider := newFakeProvider()
	hashes := provider.seedChain(5)
	store := blockitemstore.NewMemoryStore()

	cache1 := blockcache.New[block.Full](50)
	p1 := New(provider, cache1, store, "block-processor")
	require.NoError(t, p1.processBlockNumber(t.Context(), 3))

	head, ok := cache1.Head()
	require.True(t, ok)
	assert.Equal(t, hashes[3], head)

	n, ok, err := loadHead(t.Context(), store, "block-processor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), n)

	// A fresh Start must prefer the persisted head number over querying the
	// provider's current chain head (which has since advanced past it).
	provider.headNum = 5
	cache2 := blockcache.New[block.Full](50)
	p2 := New(provider, cache2, store, "block-processor")
	require.NoError(t, p2.Start(t.Context()))
	defer p2.Stop()

	head2, ok := cache2.Head()
	require.True(t, ok)
	assert.Equal(t, hashes[3], head2)
}

func TestProcessor_Start_RejectsDoubleStart(t *testing.T) {
	provider := newFakeProvider()
	provider.seedChain(0)
	cache := blockcache.New[block.Full](50)
	store := blockitemstore.NewMemoryStore()
	p := New(provider, cache, store, "block-processor")

	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	err := p.Start(t.Context())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestProcessor_Run_ProcessesNotifiedHeads(t *testing.T) {
	provider := newFakeProvider()
	hashes := provider.seedChain(3)
	cache := blockcache.New[block.Full](50)
	store := blockitemstore.NewMemoryStore()
	provider.headNum = 0 // Start bootstraps at 0

	p := New(provider, cache, store, "block-processor")
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	notified := make(chan block.Hash, 4)
	_, err := p.AddListener(func(_ context.Context, _, head block.Hash) error {
		notified <- head
		return nil
	})
	require.NoError(t, err)

	provider.newHeadsCh <- 2
	require.Equal(t, hashes[2], <-notified)

	head, ok := cache.Head()
	require.True(t, ok)
	assert.Equal(t, hashes[2], head)
}
