package ethereum

import (
	"context"
	"encoding/json"

	"github.com/pisa-watch/pisa/internal/block"
)

// LogResponse is a single entry in an eth_getLogs result.
type LogResponse struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockHash       string   `json:"blockHash"`
	TransactionHash string   `json:"transactionHash"`
}

func (l LogResponse) toBlockLog() block.Log {
	data, _ := decodeHexBytes(l.Data)

	return block.Log{
		Address:   l.Address,
		Topics:    l.Topics,
		Data:      data,
		BlockHash: block.Hash(l.BlockHash),
		TxHash:    block.Hash(l.TransactionHash),
	}
}

// GetLogs implements blockprocessor.Provider.
func (c *client) GetLogs(ctx context.Context, blockHash block.Hash) ([]block.Log, error) {
	data, err := c.conn.Fetch(ctx, "eth_getLogs", map[string]any{
		"blockHash": string(blockHash),
	})
	if err != nil {
		return nil, err
	}

	var resp []LogResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	logs := make([]block.Log, len(resp))
	for i, l := range resp {
		logs[i] = l.toBlockLog()
	}
	return logs, nil
}
