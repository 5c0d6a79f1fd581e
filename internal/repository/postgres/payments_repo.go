package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentsRepository is the audit ledger of fund movements the market
// issued: principal forwarding, repayment forwarding and storage refunds.
type PaymentsRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentsRepository(pool *pgxpool.Pool) *PaymentsRepository {
	return &PaymentsRepository{pool: pool}
}

func (r *PaymentsRepository) Forward(ctx context.Context, from, to string, amount *big.Int, memo string) error {
	return r.record(ctx, from, to, amount, memo)
}

func (r *PaymentsRepository) Refund(ctx context.Context, to string, amount *big.Int, memo string) error {
	return r.record(ctx, "", to, amount, memo)
}

func (r *PaymentsRepository) record(ctx context.Context, from, to string, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}
	q := `INSERT INTO fund_transfers (from_account, to_account, amount, memo) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, from, to, amount.String(), memo)
	return err
}
