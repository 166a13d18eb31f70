package ethereum

import (
	"context"
	"encoding/json"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockprocessor"
	"github.com/pisa-watch/pisa/internal/pkg/types"
)

// TransactionResponse is a raw transaction object as returned embedded in an
// eth_getBlockBy{Number,Hash} result.
type TransactionResponse struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Nonce       types.Hex `json:"nonce"`
	ChainID     types.Hex `json:"chainId"`
	Input       string    `json:"input"`
	Value       types.Hex `json:"value"`
	Gas         types.Hex `json:"gas"`
	BlockNumber types.Hex `json:"blockNumber"`
}

// toBlockTransaction converts a TransactionResponse into the core's block.Transaction.
func (t TransactionResponse) toBlockTransaction() block.Transaction {
	data, _ := decodeHexBytes(t.Input)

	return block.Transaction{
		Hash:        block.Hash(t.Hash),
		From:        t.From,
		To:          t.To,
		Nonce:       mustUint64(t.Nonce),
		ChainID:     mustUint64(t.ChainID),
		Data:        data,
		Value:       t.Value,
		GasLimit:    mustUint64(t.Gas),
		BlockNumber: mustUint64(t.BlockNumber),
	}
}

// BlockResponse is the result of eth_getBlockBy{Number,Hash} with full
// transaction objects (the `true` flag).
type BlockResponse struct {
	Hash         string                `json:"hash"`
	ParentHash   string                `json:"parentHash"`
	Number       types.Hex             `json:"number"`
	Transactions []TransactionResponse `json:"transactions"`
}

// toBlockFull converts a BlockResponse into the core's block.Full.
func (b BlockResponse) toBlockFull() block.Full {
	transactions := make([]block.Transaction, len(b.Transactions))
	for i, t := range b.Transactions {
		transactions[i] = t.toBlockTransaction()
	}

	return block.Full{
		Stub: block.Stub{
			Hash:       block.Hash(b.Hash),
			Number:     mustUint64(b.Number),
			ParentHash: block.Hash(b.ParentHash),
		},
		Transactions: transactions,
	}
}

// GetBlockByNumber implements blockprocessor.Provider.
func (c *client) GetBlockByNumber(ctx context.Context, number uint64) (block.Full, error) {
	data, err := c.conn.Fetch(ctx, "eth_getBlockByNumber", hexUint64(number), true)
	if err != nil {
		return block.Full{}, err
	}
	if isNullResult(data) {
		return block.Full{}, blockprocessor.ErrBlockNotFound
	}

	var resp BlockResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return block.Full{}, err
	}

	return resp.toBlockFull(), nil
}

// GetBlockByHash implements blockprocessor.Provider.
func (c *client) GetBlockByHash(ctx context.Context, hash block.Hash) (block.Full, error) {
	data, err := c.conn.Fetch(ctx, "eth_getBlockByHash", string(hash), true)
	if err != nil {
		return block.Full{}, err
	}
	if isNullResult(data) {
		return block.Full{}, blockprocessor.ErrBlockNotFound
	}

	var resp BlockResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return block.Full{}, err
	}

	return resp.toBlockFull(), nil
}

// GetBlockNumber implements blockprocessor.Provider.
func (c *client) GetBlockNumber(ctx context.Context) (uint64, error) {
	data, err := c.conn.Fetch(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	var number types.Hex
	if err := json.Unmarshal(data, &number); err != nil {
		return 0, err
	}

	return mustUint64(number), nil
}
