// Package block defines the shapes of chain data shared by the response
// pipeline: the Block Cache, the Block Processor, the Anchor State Reducer
// framework, and every reducer built on top of it.
package block

import "github.com/pisa-watch/pisa/internal/pkg/types"

// Hash is a 0x-prefixed block or transaction hash.
type Hash string

// Node is the minimum shape a block must expose to be stored in the Block
// Cache and folded over by the Anchor State Reducer framework. Richer block
// types (carrying transactions and logs) are selected per-reducer so that a
// reducer that only needs the chain skeleton never pays for fetching or
// holding transaction bodies.
type Node interface {
	BlockHash() Hash
	BlockNumber() uint64
	ParentBlockHash() Hash
}

// Stub is the lightest Node: a block identified only by hash, height, and
// parent hash. It is what the Block Cache indexes by default.
type Stub struct {
	Hash       Hash
	Number     uint64
	ParentHash Hash
}

func (s Stub) BlockHash() Hash       { return s.Hash }
func (s Stub) BlockNumber() uint64   { return s.Number }
func (s Stub) ParentBlockHash() Hash { return s.ParentHash }

var _ Node = Stub{}

// Transaction is a transaction included in a Full block.
type Transaction struct {
	Hash        Hash
	From        string
	To          string
	Nonce       uint64
	ChainID     uint64
	Data        []byte
	Value       types.Hex
	GasLimit    uint64
	BlockNumber uint64
}

// Log is an event log emitted by a transaction included in a Full block.
type Log struct {
	Address   string
	Topics    []string
	Data      []byte
	BlockHash Hash
	TxHash    Hash
}

// Full is a block carrying its transactions and logs, the shape the
// Responder Component and Confirmation Observer reduce over.
type Full struct {
	Stub
	Transactions []Transaction
	Logs         []Log
}

func (f Full) BlockHash() Hash       { return f.Stub.Hash }
func (f Full) BlockNumber() uint64   { return f.Stub.Number }
func (f Full) ParentBlockHash() Hash { return f.Stub.ParentHash }

var _ Node = Full{}

// TxByHash returns the transaction with the given hash and true, or the zero
// Transaction and false if no transaction in the block matches.
func (f Full) TxByHash(h Hash) (Transaction, bool) {
	for _, tx := range f.Transactions {
		if tx.Hash == h {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Txs returns the block's transactions. It exists so Full satisfies
// blockcache.TxBearer without exposing the Transactions field directly to
// generic code written against that interface.
func (f Full) Txs() []Transaction { return f.Transactions }
