package collateral

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for the item id.
	ErrNotFound = errors.New("collateral record not found")
	// ErrAlreadyListed is returned when a listing replays an item id that is
	// already tracked by the market.
	ErrAlreadyListed = errors.New("collateral item already listed")
	// ErrLoanOverdue rejects a repayment attempted after the loan deadline.
	ErrLoanOverdue = errors.New("loan is overdue")
	// ErrLoanNotOverdue rejects a reclaim attempted before the loan deadline.
	ErrLoanNotOverdue = errors.New("loan is not overdue yet")
)

// ValidationError rejects malformed or out-of-range parameters before any
// mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError rejects a caller that does not hold the role an action
// requires.
type AuthorizationError struct {
	Action string
	Caller string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("account %q is not allowed to %s", e.Caller, e.Action)
}

// StateConflictError rejects an action attempted against a record in the
// wrong lifecycle state.
type StateConflictError struct {
	ItemID   string
	Expected State
	Actual   State
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("item %s: expected state %s, found %s", e.ItemID, e.Expected, e.Actual)
}

// PaymentMismatchError rejects an attached payment that differs from the
// exact required amount. There is no partial acceptance.
type PaymentMismatchError struct {
	ItemID   string
	Required string
	Attached string
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("item %s: required payment %s, attached %s", e.ItemID, e.Required, e.Attached)
}

// ProtocolViolationError marks an unexpected callback shape or count from
// the item registry. It is fatal to the triggering operation.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("registry protocol violation: %s", e.Reason)
}
