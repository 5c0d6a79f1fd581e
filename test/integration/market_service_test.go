package integration

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/escrow"
	postgresrepo "github.com/alevoro-com/alevoro/internal/repository/postgres"
	"github.com/alevoro-com/alevoro/internal/storagefee"
	"github.com/alevoro-com/alevoro/test/integration/testutil"
)

const marketAccount = "contract.pep.testnet"

func TestMarketServiceLifecycleAgainstPostgres(t *testing.T) {
	pool := testutil.NewTestPool(t)
	defer pool.Close()
	testutil.ResetTables(t, pool)

	ledger := postgresrepo.NewCollateralRepository(pool)
	funds := postgresrepo.NewPaymentsRepository(pool)
	outbox := postgresrepo.NewEscrowRepository(pool)
	approvals := postgresrepo.NewApprovalRepository(pool)
	coordinator := escrow.NewCoordinator(approvals)
	svc := collateral.NewService(ledger, funds, storagefee.NewMeter(big.NewInt(0)), marketAccount)

	ctx := context.Background()

	rec, err := svc.HandleApproval(ctx, collateral.ApprovalInput{
		ItemID:          "item-1",
		HolderID:        "alice.testnet",
		ApprovalToken:   "7",
		Caller:          "alice.testnet",
		AttachedDeposit: "0",
		Terms: collateral.ListingTerms{
			Principal:    "1000",
			InterestRate: 10,
			Duration:     3600,
			Title:        "vintage synth",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, collateral.StateSale, rec.State)

	// Listing staged one custody-transfer intent into the market account.
	claimed, err := outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, marketAccount, claimed[0].Receiver)

	// Registry confirms the approval exactly once.
	outcome, err := coordinator.ResolveApproval(ctx, []escrow.ApprovalOutcome{
		{ItemID: "item-1", ApprovalToken: "7", Succeeded: true},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded)
	_, err = coordinator.ResolveApproval(ctx, []escrow.ApprovalOutcome{
		{ItemID: "item-1", ApprovalToken: "7", Succeeded: true},
	})
	var violation *collateral.ProtocolViolationError
	require.ErrorAs(t, err, &violation)

	rec, err = svc.Finance(ctx, "item-1", "bob.testnet", "1000")
	require.NoError(t, err)
	assert.Equal(t, collateral.StateLocked, rec.State)

	rec, err = svc.Repay(ctx, "item-1", "alice.testnet", "1100")
	require.NoError(t, err)
	assert.Equal(t, collateral.StateTransferToBorrower, rec.State)

	// Repayment staged the release of the item back to the holder.
	claimed, err = outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "alice.testnet", claimed[0].Receiver)

	_, err = svc.Finalize(ctx, "item-1", marketAccount)
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, "item-1", marketAccount)
	require.ErrorIs(t, err, collateral.ErrNotFound)

	// Both fund movements were recorded.
	var transfers int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM fund_transfers`).Scan(&transfers))
	assert.Equal(t, 2, transfers)

	// The lifecycle left an event trail for the websocket feed.
	events := []string{}
	rows, err := pool.Query(ctx, `SELECT event FROM market_events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var event string
		require.NoError(t, rows.Scan(&event))
		events = append(events, event)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"item_listed", "item_financed", "loan_repaid", "item_finalized"}, events)

	// Finalization released the item id for a fresh listing.
	rec, err = svc.HandleApproval(ctx, collateral.ApprovalInput{
		ItemID:          "item-1",
		HolderID:        "alice.testnet",
		ApprovalToken:   "8",
		Caller:          "alice.testnet",
		AttachedDeposit: "0",
		Terms: collateral.ListingTerms{
			Principal:    "500",
			InterestRate: 5,
			Duration:     7200,
			Title:        "vintage synth",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, collateral.StateSale, rec.State)

	token, err := approvals.Resolve(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, "8", token)
}
