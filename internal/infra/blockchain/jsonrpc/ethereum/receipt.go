package ethereum

import (
	"context"
	"encoding/json"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockprocessor"
	"github.com/pisa-watch/pisa/internal/pkg/types"
)

// ReceiptResponse is the result of eth_getTransactionReceipt.
type ReceiptResponse struct {
	TransactionHash string    `json:"transactionHash"`
	BlockHash       string    `json:"blockHash"`
	BlockNumber     types.Hex `json:"blockNumber"`
	Status          types.Hex `json:"status"`
}

func (r ReceiptResponse) toReceipt() blockprocessor.Receipt {
	return blockprocessor.Receipt{
		TransactionHash: block.Hash(r.TransactionHash),
		BlockHash:       block.Hash(r.BlockHash),
		BlockNumber:     mustUint64(r.BlockNumber),
		Status:          mustUint64(r.Status) == 1,
	}
}

// GetTransactionReceipt implements blockprocessor.Provider.
func (c *client) GetTransactionReceipt(ctx context.Context, hash block.Hash) (blockprocessor.Receipt, error) {
	data, err := c.conn.Fetch(ctx, "eth_getTransactionReceipt", string(hash))
	if err != nil {
		return blockprocessor.Receipt{}, err
	}
	if isNullResult(data) {
		return blockprocessor.Receipt{}, blockprocessor.ErrBlockNotFound
	}

	var resp ReceiptResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return blockprocessor.Receipt{}, err
	}

	return resp.toReceipt(), nil
}
