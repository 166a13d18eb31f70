package confirmation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
)

// buildChain adds blocks 0..n to cache (block i's hash "block-i"), setting
// head to block n. txBlock, if >= 0, gets a single transaction txHash.
func buildChain(t *testing.T, cache *blockcache.Cache[block.Full], n int, txBlock int, txHash block.Hash) []block.Hash {
	t.Helper()

	hashes := make([]block.Hash, n+1)
	prev := block.Hash("")
	for i := 0; i <= n; i++ {
		hash := block.Hash(fmt.Sprintf("block-%d", i))
		full := block.Full{Stub: block.Stub{Hash: hash, Number: uint64(i), ParentHash: prev}}
		if i == txBlock {
			full.Transactions = []block.Transaction{{Hash: txHash}}
		}
		require.NotEqual(t, blockcache.NotAddedBlockNumberTooLow, cache.AddBlock(full))
		require.NoError(t, cache.SetHead(hash))
		hashes[i] = hash
		prev = hash
	}
	return hashes
}

func TestObserver_Register_SettlesImmediatelyWhenAlreadyConfirmed(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	buildChain(t, cache, 10, 3, "0xtx")

	o := New(cache)
	reg := o.Register("0xtx", Options{ConfirmationsRequired: 5})

	select {
	case confirmations := <-reg.Done():
		assert.Equal(t, uint64(8), confirmations) // head=10, tx at 3: 10-3+1
	default:
		t.Fatal("expected immediate settlement on Register")
	}
}

func TestObserver_OnNewHead_SettlesOnceConfirmationsReached(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	hashes := buildChain(t, cache, 3, 3, "0xtx") // head is block 3, tx just mined: 1 confirmation

	o := New(cache)
	reg := o.Register("0xtx", Options{ConfirmationsRequired: 3})

	select {
	case <-reg.Done():
		t.Fatal("must not settle before ConfirmationsRequired is reached")
	default:
	}

	for i := 4; i <= 5; i++ {
		hash := block.Hash(fmt.Sprintf("block-%d", i))
		full := block.Full{Stub: block.Stub{Hash: hash, Number: uint64(i), ParentHash: hashes[i-1]}}
		require.Equal(t, blockcache.Added, cache.AddBlock(full))
		require.NoError(t, cache.SetHead(hash))
		require.NoError(t, o.OnNewHead(t.Context(), hashes[i-1], hash))
	}

	select {
	case confirmations := <-reg.Done():
		assert.Equal(t, uint64(3), confirmations)
	default:
		t.Fatal("expected settlement at 3 confirmations")
	}
}

func TestObserver_OnNewHead_AbortsAfterMaxWaitBlocks(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	hashes := buildChain(t, cache, 2, -1, "") // no tx ever mined

	o := New(cache)
	reg := o.Register("0xnever", Options{ConfirmationsRequired: 1, MaxWaitBlocks: 2})

	prev := hashes[2]
	for i := 3; i <= 4; i++ {
		hash := block.Hash(fmt.Sprintf("block-%d", i))
		full := block.Full{Stub: block.Stub{Hash: hash, Number: uint64(i), ParentHash: prev}}
		require.Equal(t, blockcache.Added, cache.AddBlock(full))
		require.NoError(t, cache.SetHead(hash))
		require.NoError(t, o.OnNewHead(t.Context(), prev, hash))
		prev = hash
	}

	select {
	case err := <-reg.Err():
		assert.ErrorIs(t, err, ErrAborted)
	default:
		t.Fatal("expected ErrAborted after MaxWaitBlocks head advances")
	}
}

func TestObserver_OnNewHead_RejectsReorgWhenThrowReorgIfNotFound(t *testing.T) {
	cache := blockcache.New[block.Full](100)
	hashesA := buildChain(t, cache, 50, 48, "0xtx")

	o := New(cache)
	reg := o.Register("0xtx", Options{ConfirmationsRequired: 5, ThrowReorgIfNotFound: true})

	select {
	case <-reg.Done():
		t.Fatal("must not settle: only 3 confirmations so far")
	default:
	}

	// Fork from block 47 without the transaction, overtaking the old head.
	prev := hashesA[47]
	var headB block.Hash
	for i := 48; i <= 50; i++ {
		hash := block.Hash(fmt.Sprintf("fork-%d", i))
		full := block.Full{Stub: block.Stub{Hash: hash, Number: uint64(i), ParentHash: prev}}
		require.Equal(t, blockcache.Added, cache.AddBlock(full))
		prev = hash
		headB = hash
	}
	require.NoError(t, cache.SetHead(headB))
	require.NoError(t, o.OnNewHead(t.Context(), hashesA[50], headB))

	select {
	case err := <-reg.Err():
		var reorgErr *ReorgError
		require.ErrorAs(t, err, &reorgErr)
		assert.Equal(t, block.Hash("0xtx"), reorgErr.TxHash)
	default:
		t.Fatal("expected ReorgError once the tx's block was reorged out")
	}
}

func TestObserver_Cancel_RemovesRegistrationSynchronously(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	hashes := buildChain(t, cache, 1, -1, "")

	o := New(cache)
	reg := o.Register("0xtx", Options{ConfirmationsRequired: 1})
	reg.Cancel()

	hash := block.Hash("block-2")
	full := block.Full{Stub: block.Stub{Hash: hash, Number: 2, ParentHash: hashes[1]}}
	require.Equal(t, blockcache.Added, cache.AddBlock(full))
	require.NoError(t, cache.SetHead(hash))
	require.NoError(t, o.OnNewHead(t.Context(), hashes[1], hash))

	select {
	case <-reg.Done():
		t.Fatal("cancelled registration must not settle")
	case <-reg.Err():
		t.Fatal("cancelled registration must not error")
	default:
	}
}
