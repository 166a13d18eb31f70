package ethereum

import (
	"context"
	"encoding/json"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockprocessor"
	"github.com/pisa-watch/pisa/internal/pkg/types"
)

// GetTransactionCount implements blockprocessor.Provider (and, structurally,
// multiresponder.Provider). "pending" is used deliberately: base_nonce must
// account for the responder's own not-yet-mined transactions, or a restart
// would immediately re-derive a nonce already in flight.
func (c *client) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	data, err := c.conn.Fetch(ctx, "eth_getTransactionCount", address, "pending")
	if err != nil {
		return 0, err
	}

	var count types.Hex
	if err := json.Unmarshal(data, &count); err != nil {
		return 0, err
	}
	return mustUint64(count), nil
}

// Balance implements blockprocessor.Provider (and, structurally,
// multiresponder.Provider). Queried against "latest" since
// CheckResponderBalance is a confirmed-funds check, not a race against the
// responder's own pending broadcasts.
func (c *client) Balance(ctx context.Context, address string) (uint64, error) {
	data, err := c.conn.Fetch(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return 0, err
	}

	var balance types.Hex
	if err := json.Unmarshal(data, &balance); err != nil {
		return 0, err
	}
	return mustUint64(balance), nil
}

// SendRawTransaction implements blockprocessor.Provider (and, structurally,
// multiresponder.Provider).
func (c *client) SendRawTransaction(ctx context.Context, raw []byte) (block.Hash, error) {
	data, err := c.conn.Fetch(ctx, "eth_sendRawTransaction", hexBytes(raw))
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(data, &hash); err != nil {
		return "", err
	}
	return block.Hash(hash), nil
}

// EstimateGas implements blockprocessor.Provider.
func (c *client) EstimateGas(ctx context.Context, tx blockprocessor.GasEstimateRequest) (uint64, error) {
	params := map[string]any{
		"from": tx.From,
		"to":   tx.To,
		"gas":  hexUint64(tx.GasLimit),
	}
	if len(tx.Data) > 0 {
		params["data"] = hexBytes(tx.Data)
	}
	if tx.Value != "" {
		params["value"] = tx.Value
	}

	data, err := c.conn.Fetch(ctx, "eth_estimateGas", params)
	if err != nil {
		return 0, err
	}

	var gas types.Hex
	if err := json.Unmarshal(data, &gas); err != nil {
		return 0, err
	}
	return mustUint64(gas), nil
}
