package ethereum

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pisa-watch/pisa/internal/pkg/types"
)

// hexUint64 formats n as a 0x-prefixed hex string, the encoding every
// quantity argument in the Ethereum JSON-RPC API expects.
func hexUint64(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

// hexBytes 0x-encodes raw, the encoding eth_sendRawTransaction and
// eth_estimateGas's "data" field expect.
func hexBytes(raw []byte) string {
	return "0x" + hex.EncodeToString(raw)
}

// decodeHexBytes decodes a 0x-prefixed hex string into raw bytes.
func decodeHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

// isNullResult reports whether a JSON-RPC result is the JSON null the
// Ethereum API returns for "no such block/transaction/receipt" instead of an
// error — the condition blockprocessor.ErrBlockNotFound models.
func isNullResult(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return s == "" || s == "null"
}

// mustUint64 converts h to uint64, treating an invalid or empty hex string
// as zero — matching types.Hex.Int's own "can't parse, treat as zero"
// contract.
func mustUint64(h types.Hex) uint64 {
	return uint64(h.Int())
}
