// Package ethereum implements blockprocessor.Provider for Ethereum-compatible
// JSON-RPC nodes. Method names and signatures on client deliberately match
// multiresponder.Provider's narrower subset too, so this one client value
// satisfies both without an adapter type.
package ethereum

import (
	"time"

	"github.com/pisa-watch/pisa/internal/blockprocessor"
	"github.com/pisa-watch/pisa/internal/infra/blockchain/jsonrpc"
)

// pollInterval is how often SubscribeNewHeads checks eth_blockNumber. Plain
// HTTP JSON-RPC has no push subscription, so this polls, the way the
// teacher's original Listen did over eth_blockNumber.
const pollInterval = 12 * time.Second

// newHeadsBuffer sizes the channel SubscribeNewHeads returns so a slow
// consumer doesn't block polling indefinitely.
const newHeadsBuffer = 16

// client implements blockprocessor.Provider over a generic jsonrpc.Client.
type client struct {
	conn jsonrpc.Client
}

var _ blockprocessor.Provider = (*client)(nil)

// NewClient creates an Ethereum Provider using the given JSON-RPC connection.
func NewClient(conn jsonrpc.Client) *client {
	return &client{conn: conn}
}
