package blockcache

import (
	"github.com/pisa-watch/pisa/internal/block"
)

// TxBearer is the block shape GetConfirmations requires: in addition to the
// Node surface, it must expose its own transactions so the search can match
// on transaction hash.
type TxBearer interface {
	block.Node
	Txs() []block.Transaction
}

// GetConfirmations walks headHash's ancestry looking for txHash, returning
// the number of confirmations: 1 if txHash is in the head block itself, 2
// if it's in head's parent, and so on. It returns 0 if txHash isn't found
// anywhere in the retained ancestry of headHash — not found is an ordinary
// outcome here, not an error. It is a free function (rather than a
// Cache[B] method) so that callers who never need transaction lookups — the
// common case of Cache[block.Stub] — don't have to satisfy TxBearer at all.
func GetConfirmations[B TxBearer](c *Cache[B], headHash, txHash block.Hash) uint64 {
	confirmations := uint64(0)
	for b := range c.Ancestry(headHash) {
		confirmations++

		for _, tx := range b.Txs() {
			if tx.Hash == txHash {
				return confirmations
			}
		}
	}

	return 0
}
