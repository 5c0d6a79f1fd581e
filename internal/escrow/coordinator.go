// Package escrow reconciles the asynchronous custody-transfer boundary with
// the external item registry. Transfer intents are staged by the ledger in
// the same transaction as the mutation that requires them and delivered by
// the worker; this package owns the other direction: the single approval
// outcome the registry reports back per listing.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
)

// ApprovalStore tracks the single expected approval outcome per listing. The
// pending row is created together with the listing and deleted with its
// finalization.
type ApprovalStore interface {
	// Resolve marks the approval as answered and returns its token. It fails
	// when no approval is pending or it was already resolved.
	Resolve(ctx context.Context, itemID string) (string, error)
}

// ErrApprovalResolved reports a duplicate delivery of an approval outcome.
var ErrApprovalResolved = errors.New("approval already resolved")

// ApprovalOutcome is one element of the registry's approval-result callback.
type ApprovalOutcome struct {
	ItemID        string `json:"token_id"`
	ApprovalToken string `json:"approval_id"`
	Succeeded     bool   `json:"succeeded"`
}

type Coordinator struct {
	approvals ApprovalStore
}

func NewCoordinator(approvals ApprovalStore) *Coordinator {
	return &Coordinator{approvals: approvals}
}

// ResolveApproval processes the registry's approval-result callback. Exactly
// one outcome is expected per listing; any other count, or a delivery for a
// listing whose outcome already arrived, is a protocol violation.
func (c *Coordinator) ResolveApproval(ctx context.Context, outcomes []ApprovalOutcome) (*ApprovalOutcome, error) {
	if len(outcomes) != 1 {
		return nil, &collateral.ProtocolViolationError{
			Reason: fmt.Sprintf("expected exactly 1 approval outcome, got %d", len(outcomes)),
		}
	}
	outcome := outcomes[0]
	if outcome.ItemID == "" {
		return nil, &collateral.ProtocolViolationError{Reason: "approval outcome missing token_id"}
	}

	token, err := c.approvals.Resolve(ctx, outcome.ItemID)
	if err != nil {
		if errors.Is(err, ErrApprovalResolved) {
			return nil, &collateral.ProtocolViolationError{
				Reason: "duplicate approval outcome for item " + outcome.ItemID,
			}
		}
		return nil, err
	}
	if outcome.ApprovalToken != "" && outcome.ApprovalToken != token {
		return nil, &collateral.ProtocolViolationError{
			Reason: "approval token mismatch for item " + outcome.ItemID,
		}
	}
	return &outcome, nil
}
