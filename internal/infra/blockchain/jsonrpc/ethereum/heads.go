package ethereum

import (
	"context"
	"time"
)

// SubscribeNewHeads implements blockprocessor.Provider by polling
// eth_blockNumber, the way the teacher's original Listen polled for new
// blocks — plain HTTP JSON-RPC has no server-push subscription. The
// returned channel emits only distinct, increasing block numbers, and is
// closed once ctx is canceled.
func (c *client) SubscribeNewHeads(ctx context.Context) (<-chan uint64, error) {
	last, err := c.GetBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan uint64, newHeadsBuffer)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.GetBlockNumber(ctx)
				if err != nil || n <= last {
					continue
				}
				last = n

				select {
				case ch <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
