package collateral

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alevoro-com/alevoro/internal/payments"
	"github.com/alevoro-com/alevoro/internal/storagefee"
)

// Listings shorter than this are rejected outright.
const minListingDurationSecs = 60

// ErrNotFinalizable rejects a finalization attempted before the record
// reached a pre-terminal state.
var ErrNotFinalizable = errors.New("record is not awaiting finalization")

// Service is the loan state machine: it validates caller actions against the
// current record state, settles the storage deposit, and commits the ledger
// mutation together with the custody-transfer intent it requires. The staged
// intents are delivered to the item registry by the escrow worker.
type Service struct {
	ledger        Ledger
	funds         payments.Ledger
	meter         *storagefee.Meter
	marketAccount string
	now           func() time.Time
}

func NewService(ledger Ledger, funds payments.Ledger, meter *storagefee.Meter, marketAccount string) *Service {
	return &Service{
		ledger:        ledger,
		funds:         funds,
		meter:         meter,
		marketAccount: marketAccount,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// HandleApproval lists an item for sale. It is triggered by the registry's
// notification that the holder approved a custody transfer to the market.
// The record is created optimistically before the registry confirms the
// transfer; reconciliation happens later through finalization.
func (s *Service) HandleApproval(ctx context.Context, in ApprovalInput) (*Record, error) {
	if in.Caller != in.HolderID {
		return nil, &AuthorizationError{Action: "list item for another account", Caller: in.Caller}
	}
	if in.ItemID == "" {
		return nil, &ValidationError{Field: "token_id", Reason: "must not be empty"}
	}
	if in.Terms.Duration <= minListingDurationSecs {
		return nil, &ValidationError{Field: "borrow_duration", Reason: fmt.Sprintf("must exceed %d seconds", minListingDurationSecs)}
	}
	if in.Terms.InterestRate <= 0 {
		return nil, &ValidationError{Field: "apr", Reason: "must be strictly positive"}
	}
	if _, err := payments.ParseAmount(in.Terms.Principal); err != nil {
		return nil, &ValidationError{Field: "borrowed_money", Reason: err.Error()}
	}
	attached, err := payments.ParseAmount(in.AttachedDeposit)
	if err != nil {
		return nil, &ValidationError{Field: "attached_deposit", Reason: err.Error()}
	}

	rec := &Record{
		ItemID:       in.ItemID,
		HolderID:     in.HolderID,
		Principal:    in.Terms.Principal,
		InterestRate: in.Terms.InterestRate,
		Duration:     in.Terms.Duration,
		State:        StateSale,
		Extra:        in.Terms.Extra,
		MarketType:   in.Terms.MarketType,
		Title:        in.Terms.Title,
		Media:        in.Terms.Media,
	}

	// The deposit check precedes the mutation so an underfunded call leaves
	// nothing behind.
	refund, err := s.meter.Charge(attached, rec.StorageBytes())
	if err != nil {
		return nil, err
	}

	intent := TransferIntent{
		ID:            uuid.NewString(),
		ItemID:        rec.ItemID,
		Receiver:      s.marketAccount,
		ApprovalToken: in.ApprovalToken,
		Memo:          "collateral custody for " + rec.HolderID,
	}
	if err := s.ledger.CreateListing(ctx, rec, intent); err != nil {
		return nil, err
	}
	if err := s.refund(ctx, in.HolderID, refund, "storage deposit refund: listing"); err != nil {
		return nil, err
	}
	return rec, nil
}

// CancelListing withdraws an unfinanced listing: Sale -> Return, item
// transferred back to the holder once the registry confirms.
func (s *Service) CancelListing(ctx context.Context, itemID, caller, attachedDeposit string) (*Record, error) {
	attached, err := payments.ParseAmount(attachedDeposit)
	if err != nil {
		return nil, &ValidationError{Field: "attached_deposit", Reason: err.Error()}
	}

	rec, err := s.ledger.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if rec.HolderID != caller {
		return nil, &AuthorizationError{Action: "cancel listing of item " + itemID, Caller: caller}
	}
	if rec.State != StateSale {
		return nil, &StateConflictError{ItemID: itemID, Expected: StateSale, Actual: rec.State}
	}

	refund, err := s.meter.Charge(attached, 0)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.SetState(ctx, itemID, StateSale, StateReturn, s.releaseIntent(itemID, rec.HolderID, "listing cancelled")); err != nil {
		return nil, err
	}
	if err := s.refund(ctx, caller, refund, "storage deposit refund: cancel"); err != nil {
		return nil, err
	}
	rec.State = StateReturn
	return rec, nil
}

// Finance funds a listed item: Sale -> Locked. The attached payment must
// equal the principal exactly and is forwarded in full to the holder.
func (s *Service) Finance(ctx context.Context, itemID, caller, attachedPayment string) (*Record, error) {
	holderID, err := s.ledger.HolderOf(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if caller == holderID {
		return nil, &AuthorizationError{Action: "finance own listing " + itemID, Caller: caller}
	}

	rec, err := s.ledger.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if rec.State != StateSale {
		return nil, &StateConflictError{ItemID: itemID, Expected: StateSale, Actual: rec.State}
	}

	principal, err := payments.ParseAmount(rec.Principal)
	if err != nil {
		return nil, &ValidationError{Field: "borrowed_money", Reason: err.Error()}
	}
	attached, err := payments.ParseAmount(attachedPayment)
	if err != nil {
		return nil, &ValidationError{Field: "attached_deposit", Reason: err.Error()}
	}
	if attached.Cmp(principal) != 0 {
		return nil, &PaymentMismatchError{ItemID: itemID, Required: principal.String(), Attached: attached.String()}
	}

	startTime := s.now().UnixNano()
	if err := s.ledger.MarkFinanced(ctx, itemID, caller, startTime); err != nil {
		return nil, err
	}
	if err := s.funds.Forward(ctx, caller, holderID, principal, "loan principal for item "+itemID); err != nil {
		return nil, err
	}

	rec.State = StateLocked
	rec.CreditorID = caller
	rec.StartTime = startTime
	return rec, nil
}

// Repay settles a financed loan before it is overdue: Locked ->
// TransferToBorrower. Required payment is principal plus truncated integer
// interest, forwarded in full to the creditor.
func (s *Service) Repay(ctx context.Context, itemID, caller, attachedPayment string) (*Record, error) {
	rec, err := s.ledger.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if rec.HolderID != caller {
		return nil, &AuthorizationError{Action: "repay loan for item " + itemID, Caller: caller}
	}
	if rec.State != StateLocked {
		return nil, &StateConflictError{ItemID: itemID, Expected: StateLocked, Actual: rec.State}
	}
	if s.overdue(rec) {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrLoanOverdue)
	}

	required, err := RequiredRepayment(rec.Principal, rec.InterestRate)
	if err != nil {
		return nil, &ValidationError{Field: "borrowed_money", Reason: err.Error()}
	}
	attached, err := payments.ParseAmount(attachedPayment)
	if err != nil {
		return nil, &ValidationError{Field: "attached_deposit", Reason: err.Error()}
	}
	if attached.Cmp(required) != 0 {
		return nil, &PaymentMismatchError{ItemID: itemID, Required: required.String(), Attached: attached.String()}
	}

	if err := s.ledger.SetState(ctx, itemID, StateLocked, StateTransferToBorrower, s.releaseIntent(itemID, rec.HolderID, "loan repaid")); err != nil {
		return nil, err
	}
	if err := s.funds.Forward(ctx, caller, rec.CreditorID, required, "loan repayment for item "+itemID); err != nil {
		return nil, err
	}

	rec.State = StateTransferToBorrower
	return rec, nil
}

// Reclaim forfeits overdue collateral to the creditor: Locked ->
// TransferToCreditor. No funds move, and the storage settle keeps any excess
// deposit rather than rewarding the forcing party.
func (s *Service) Reclaim(ctx context.Context, itemID, caller, attachedDeposit string) (*Record, error) {
	attached, err := payments.ParseAmount(attachedDeposit)
	if err != nil {
		return nil, &ValidationError{Field: "attached_deposit", Reason: err.Error()}
	}

	rec, err := s.ledger.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !rec.Financed() || rec.CreditorID != caller {
		return nil, &AuthorizationError{Action: "reclaim collateral item " + itemID, Caller: caller}
	}
	if rec.State != StateLocked {
		return nil, &StateConflictError{ItemID: itemID, Expected: StateLocked, Actual: rec.State}
	}
	if !s.overdue(rec) {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrLoanNotOverdue)
	}

	// Forced transfer: assert coverage, keep the excess.
	if _, err := s.meter.Charge(attached, 0); err != nil {
		return nil, err
	}

	if err := s.ledger.SetState(ctx, itemID, StateLocked, StateTransferToCreditor, s.releaseIntent(itemID, rec.CreditorID, "loan defaulted")); err != nil {
		return nil, err
	}

	rec.State = StateTransferToCreditor
	return rec, nil
}

// Finalize deletes the bookkeeping for an item whose custody transfer the
// registry has confirmed. Only the market's own holding identity may call
// it, and only once the record reached a pre-terminal state.
func (s *Service) Finalize(ctx context.Context, itemID, caller string) (*Record, error) {
	if caller != s.marketAccount {
		return nil, &AuthorizationError{Action: "finalize item " + itemID, Caller: caller}
	}

	rec, err := s.ledger.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	financedTransfer := rec.Financed() &&
		(rec.State == StateTransferToCreditor || rec.State == StateTransferToBorrower)
	cancelledListing := !rec.Financed() && rec.State == StateReturn
	if !financedTransfer && !cancelledListing {
		return nil, fmt.Errorf("item %s in state %s: %w", itemID, rec.State, ErrNotFinalizable)
	}

	if err := s.ledger.Remove(ctx, itemID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListAll returns every tracked record, or only those still for sale when
// needAll is false.
func (s *Service) ListAll(ctx context.Context, needAll bool) ([]Record, error) {
	return s.ledger.ListAll(ctx, needAll)
}

// ListForAccount returns the records the account holds as borrower.
func (s *Service) ListForAccount(ctx context.Context, accountID string, includeNonSale bool) ([]Record, error) {
	return s.ledger.ListByHolder(ctx, accountID, includeNonSale)
}

// ListFinanced returns the records the account financed as creditor.
func (s *Service) ListFinanced(ctx context.Context, accountID string) ([]Record, error) {
	return s.ledger.ListByCreditor(ctx, accountID)
}

// RequiredRepayment is principal + principal*rate/100 with truncating
// integer division. The amount must match exactly at repayment.
func RequiredRepayment(principal string, interestRate int64) (*big.Int, error) {
	p, err := payments.ParseAmount(principal)
	if err != nil {
		return nil, err
	}
	interest := new(big.Int).Mul(p, big.NewInt(interestRate))
	interest.Quo(interest, big.NewInt(100))
	return interest.Add(interest, p), nil
}

func (s *Service) overdue(rec *Record) bool {
	if rec.StartTime == 0 {
		return false
	}
	elapsedSecs := (s.now().UnixNano() - rec.StartTime) / int64(time.Second)
	return elapsedSecs >= rec.Duration
}

// releaseIntent stages the transfer of an item out of the market's holding
// account to receiver.
func (s *Service) releaseIntent(itemID, receiver, memo string) TransferIntent {
	return TransferIntent{
		ID:       uuid.NewString(),
		ItemID:   itemID,
		Receiver: receiver,
		Memo:     memo,
	}
}

func (s *Service) refund(ctx context.Context, to string, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return s.funds.Refund(ctx, to, amount, memo)
}
