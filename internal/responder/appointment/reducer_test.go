package appointment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pisaAppointment "github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
	"github.com/pisa-watch/pisa/internal/blockitemstore"
	"github.com/pisa-watch/pisa/internal/reducer"
)

const signingAddress = "0xresponder"

func req(id pisaAppointment.ID, confirmations uint64) pisaAppointment.Request {
	return pisaAppointment.Request{
		AppointmentID:         id,
		ConfirmationsRequired: confirmations,
		Identifier: pisaAppointment.TransactionIdentifier{
			ChainID: 1,
			To:      "0xcontract",
		},
	}
}

func matchingTx(from string, nonce uint64) block.Transaction {
	return block.Transaction{Hash: block.Hash("tx"), From: from, To: "0xcontract", ChainID: 1, Nonce: nonce}
}

// buildFullChain seeds blocks 0..n, installing txBlocks[i] transactions into
// block i, and returns the per-height hash.
func buildFullChain(t *testing.T, cache *blockcache.Cache[block.Full], n int, txBlocks map[int][]block.Transaction) []block.Hash {
	t.Helper()

	hashes := make([]block.Hash, n+1)
	prev := block.Hash("genesis")
	for i := 0; i <= n; i++ {
		hash := block.Hash(fmt.Sprintf("block-%d", i))
		full := block.Full{
			Stub:         block.Stub{Hash: hash, Number: uint64(i), ParentHash: prev},
			Transactions: txBlocks[i],
		}
		cache.AddBlock(full)
		require.NoError(t, cache.SetHead(hash))
		hashes[i] = hash
		prev = hash
	}

	return hashes
}

// TestScenario1_PendingMinedConfirmed mirrors spec.md §8 scenario 1.
func TestScenario1_PendingMinedConfirmed(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	txBlocks := map[int][]block.Transaction{
		3: {matchingTx(signingAddress, 1)},
	}
	hashes := buildFullChain(t, cache, 8, txBlocks)

	r := New(signingAddress)
	requests := map[pisaAppointment.ID]pisaAppointment.Request{
		"app1": req("app1", 5),
	}
	r.Track(requests["app1"])

	mgr := reducer.New[Aggregate](cache, r, blockitemstore.NewMemoryStore(), "responder")
	ctx := t.Context()

	prev, next, err := mgr.Transition(ctx, "", hashes[3])
	require.NoError(t, err)
	actions := DetectChanges(prev, next, requests, 3)

	require.Contains(t, actions, TxMined{AppointmentID: "app1", Identifier: "app1", Nonce: 1})
	require.Contains(t, actions, CheckResponderBalance{})
	assert.NotContains(t, actions, EndResponse{AppointmentID: "app1"})

	prevAt8, nextAt8, err := mgr.Transition(ctx, hashes[3], hashes[8])
	require.NoError(t, err)
	actionsAt8 := DetectChanges(prevAt8, nextAt8, requests, 8)
	assert.Contains(t, actionsAt8, EndResponse{AppointmentID: "app1"})
}

// TestScenario2_ReEnqueueOnRestart mirrors spec.md §8 scenario 2.
func TestScenario2_ReEnqueueOnRestart(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	hashes := buildFullChain(t, cache, 10, nil)

	r := New(signingAddress)
	requests := map[pisaAppointment.ID]pisaAppointment.Request{
		"app1": req("app1", 5),
	}
	r.Track(requests["app1"])

	mgr := reducer.New[Aggregate](cache, r, blockitemstore.NewMemoryStore(), "responder")
	ctx := t.Context()

	empty := Aggregate{}
	next, err := mgr.StateAt(ctx, hashes[10])
	require.NoError(t, err)

	actions := DetectChanges(empty, next, requests, 10)
	require.Len(t, actions, 1)
	assert.Equal(t, ReEnqueueMissingItems{AppointmentIDs: []pisaAppointment.ID{"app1"}}, actions[0])
}

// TestScenario3_WrongFromFilter mirrors spec.md §8 scenario 3.
func TestScenario3_WrongFromFilter(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	txBlocks := map[int][]block.Transaction{
		2: {matchingTx("0xfrom2", 1)},
	}
	hashes := buildFullChain(t, cache, 4, txBlocks)

	r := New(signingAddress) // expects signingAddress, tx is from 0xfrom2
	requests := map[pisaAppointment.ID]pisaAppointment.Request{
		"app1": req("app1", 5),
	}
	r.Track(requests["app1"])

	mgr := reducer.New[Aggregate](cache, r, blockitemstore.NewMemoryStore(), "responder")
	ctx := t.Context()

	state, err := mgr.StateAt(ctx, hashes[4])
	require.NoError(t, err)

	assert.Equal(t, Pending, state["app1"].Status)

	prev, next, err := mgr.Transition(ctx, hashes[1], hashes[4])
	require.NoError(t, err)
	actions := DetectChanges(prev, next, requests, 4)

	for _, a := range actions {
		_, isMined := a.(TxMined)
		assert.False(t, isMined, "wrong-from transaction must not produce TxMined")
	}
}

func TestReducer_NewlyTrackedAppointmentSeedsFromCurrentBlock(t *testing.T) {
	cache := blockcache.New[block.Full](50)
	hashes := buildFullChain(t, cache, 3, nil)

	r := New(signingAddress)
	mgr := reducer.New[Aggregate](cache, r, blockitemstore.NewMemoryStore(), "responder")
	ctx := t.Context()

	// Nothing tracked yet; compute a state to populate the memo for block 2.
	_, err := mgr.StateAt(ctx, hashes[2])
	require.NoError(t, err)

	r.Track(req("late", 5))
	state, err := mgr.StateAt(ctx, hashes[3])
	require.NoError(t, err)

	_, tracked := state["late"]
	assert.True(t, tracked)
	assert.Equal(t, Pending, state["late"].Status)
}
