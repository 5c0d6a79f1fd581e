package collateral

import "fmt"

// State is the lifecycle state of a collateral record.
//
// Sale and Locked are live states. Return, TransferToCreditor and
// TransferToBorrower are pre-terminal: a custody-transfer request has been
// issued to the item registry and the record waits for finalization.
type State string

const (
	StateSale               State = "sale"
	StateLocked             State = "locked"
	StateReturn             State = "return"
	StateTransferToCreditor State = "transfer_to_creditor"
	StateTransferToBorrower State = "transfer_to_borrower"
)

var legalTransitions = map[State][]State{
	StateSale:   {StateLocked, StateReturn},
	StateLocked: {StateTransferToCreditor, StateTransferToBorrower},
}

// ParseState maps a stored state string back to a State.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateSale, StateLocked, StateReturn, StateTransferToCreditor, StateTransferToBorrower:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown collateral state %q", s)
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PreTerminal reports whether the state is a pending custody-transfer
// request awaiting registry confirmation.
func (s State) PreTerminal() bool {
	switch s {
	case StateReturn, StateTransferToCreditor, StateTransferToBorrower:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }
