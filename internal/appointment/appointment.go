// Package appointment holds the data shapes shared between the Inspector
// boundary and the response pipeline: the appointment request the core
// trusts the Inspector to have already validated (signatures, bytecode,
// dispute period, round), and the transaction identifier it watches for.
package appointment

import "github.com/pisa-watch/pisa/internal/pkg/types"

// ID identifies one appointment for the lifetime of a response.
type ID string

// TransactionIdentifier is the shape of the transaction the Responder
// Component watches for: a match requires the transaction's destination,
// calldata, value, chain, and gas limit to agree with this identifier.
type TransactionIdentifier struct {
	ChainID  uint64 `validate:"required"`
	To       string `validate:"required"`
	Data     []byte
	Value    types.Hex
	GasLimit uint64 `validate:"required"`
}

// Request is the appointment the core accepts from the Inspector. The core
// never re-validates signatures, bytecode, the dispute period, or the
// round — that trust boundary sits entirely with the Inspector. Structural
// well-formedness (required fields, a sane block range) is a different,
// narrower check, applied at the boundary via internal/pkg/validator
// (SPEC_FULL.md §A.2) before the request ever reaches the reducer.
type Request struct {
	AppointmentID         ID     `validate:"required"`
	CustomerAddress       string `validate:"required"`
	Identifier            TransactionIdentifier
	StartBlock            uint64
	EndBlock              uint64 `validate:"required,gtfield=StartBlock"`
	ConfirmationsRequired uint64 `validate:"required"`
	EventTopics           []string
	PaymentProof          []byte
}
