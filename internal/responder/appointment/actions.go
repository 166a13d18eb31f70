package appointment

import (
	"sort"

	"github.com/pisa-watch/pisa/internal/appointment"
)

// Action is one of the four tagged actions the Responder Component emits
// for the Multi-Responder to dispatch (spec.md §4.6).
type Action interface {
	isAction()
}

// ReEnqueueMissingItems asks the Multi-Responder to reinsert entries it
// knows about but whose queue entry was lost (restart, reorg below mined
// depth). Idempotent: the Multi-Responder de-dupes by identifier.
type ReEnqueueMissingItems struct {
	AppointmentIDs []appointment.ID
}

func (ReEnqueueMissingItems) isAction() {}

// TxMined reports that a transaction matching identifier, at nonce, is now
// included in a block.
type TxMined struct {
	AppointmentID appointment.ID
	Identifier    string
	Nonce         uint64
}

func (TxMined) isAction() {}

// CheckResponderBalance asks for a best-effort balance probe.
type CheckResponderBalance struct{}

func (CheckResponderBalance) isAction() {}

// EndResponse reports that appointmentId has reached its required
// confirmation depth; tracking for it should be dropped.
type EndResponse struct {
	AppointmentID appointment.ID
}

func (EndResponse) isAction() {}

// DetectChanges implements spec.md §4.7's detect_changes: given the
// aggregate at the previous head and at the new head, plus the appointment
// requests needed for confirmations_required and per-appointment
// identifiers, it returns the actions to dispatch, in the specified
// tie-break order — stable appointmentId order, and within one
// appointmentId, TxMined before EndResponse.
func DetectChanges(prev, next Aggregate, requests map[appointment.ID]appointment.Request, nextBlockNumber uint64) []Action {
	ids := make([]appointment.ID, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var reenqueue []appointment.ID
	var actions []Action

	for _, id := range ids {
		nextState := next[id]
		prevState, wasTracked := prev[id]

		switch {
		case nextState.Status == Pending:
			// Pending in next — whether it was already Pending, or absent
			// from prev entirely (e.g. a restart with an empty aggregate,
			// spec.md §8 scenario 2) — is re-enqueued. The Multi-Responder
			// de-dupes by identifier, so asking every block is harmless.
			reenqueue = append(reenqueue, id)

		case nextState.Status == Mined && (!wasTracked || prevState.Status == Pending):
			actions = append(actions, TxMined{AppointmentID: id, Identifier: nextState.Identifier, Nonce: nextState.Nonce})
			actions = append(actions, CheckResponderBalance{})
		}

		if nextState.Status == Mined {
			req, ok := requests[id]
			if ok && nextBlockNumber-nextState.BlockMined >= req.ConfirmationsRequired {
				actions = append(actions, EndResponse{AppointmentID: id})
			}
		}
	}

	if len(reenqueue) > 0 {
		// ReEnqueueMissingItems is emitted once, ahead of the per-id
		// TxMined/EndResponse actions, but still within the same
		// stable-order pass — it carries every still-pending id at once.
		actions = append([]Action{ReEnqueueMissingItems{AppointmentIDs: reenqueue}}, actions...)
	}

	return actions
}
