package postgres

import (
	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/escrow"
	"github.com/alevoro-com/alevoro/internal/jobs"
	"github.com/alevoro-com/alevoro/internal/payments"
	"github.com/alevoro-com/alevoro/internal/storagefee"
	"github.com/alevoro-com/alevoro/internal/ws"
)

// Compile-time checks that the repositories satisfy the interfaces the rest
// of the system consumes them through.
var (
	_ collateral.Ledger           = (*CollateralRepository)(nil)
	_ payments.Ledger             = (*PaymentsRepository)(nil)
	_ jobs.EscrowOutboxRepository = (*EscrowRepository)(nil)
	_ escrow.ApprovalStore        = (*ApprovalRepository)(nil)
	_ storagefee.UsageReporter    = (*StorageRepository)(nil)
	_ storagefee.Prober           = (*StorageRepository)(nil)
	_ ws.MarketEventRepository    = (*WSRepository)(nil)
)
