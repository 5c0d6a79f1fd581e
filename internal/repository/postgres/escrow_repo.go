package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/escrow"
	"github.com/alevoro-com/alevoro/internal/jobs"
)

// EscrowRepository is the worker's side of the custody-transfer outbox.
// Intents are staged into escrow_outbox by the collateral ledger, in the same
// transaction as the state change that requires them.
type EscrowRepository struct {
	pool *pgxpool.Pool
}

func NewEscrowRepository(pool *pgxpool.Pool) *EscrowRepository {
	return &EscrowRepository{pool: pool}
}

func (r *EscrowRepository) ClaimPending(ctx context.Context, limit int32) ([]jobs.EscrowJob, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
UPDATE escrow_outbox
SET status = 'processing', attempts = attempts + 1
WHERE id IN (
  SELECT id FROM escrow_outbox
  WHERE status IN ('pending', 'retry') AND available_at <= now()
  ORDER BY available_at
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
RETURNING id, item_id, receiver, approval_token, memo, status, attempts, last_error, available_at
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []jobs.EscrowJob{}
	for rows.Next() {
		job := jobs.EscrowJob{}
		if err := rows.Scan(
			&job.ID, &job.ItemID, &job.Receiver, &job.ApprovalToken, &job.Memo,
			&job.Status, &job.Attempts, &job.LastError, &job.AvailableAt,
		); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *EscrowRepository) MarkDone(ctx context.Context, jobID, receiptID string) error {
	q := `UPDATE escrow_outbox SET status = 'done', receipt_id = $2, last_error = '' WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, receiptID)
	return err
}

func (r *EscrowRepository) MarkRetry(ctx context.Context, jobID string, nextAvailableAt time.Time, lastError string) error {
	q := `UPDATE escrow_outbox SET status = 'retry', available_at = $2, last_error = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, nextAvailableAt, lastError)
	return err
}

func (r *EscrowRepository) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	q := `UPDATE escrow_outbox SET status = 'failed', last_error = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, lastError)
	return err
}

// stageIntent writes a custody-transfer intent into the outbox as part of
// the caller's transaction.
func stageIntent(ctx context.Context, tx pgx.Tx, intent collateral.TransferIntent) error {
	q := `
INSERT INTO escrow_outbox (id, item_id, receiver, approval_token, memo, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
`
	_, err := tx.Exec(ctx, q, intent.ID, intent.ItemID, intent.Receiver, intent.ApprovalToken, intent.Memo)
	return err
}

// createPendingApproval registers the single expected approval outcome for a
// fresh listing as part of the caller's transaction.
func createPendingApproval(ctx context.Context, tx pgx.Tx, itemID, approvalToken string) error {
	q := `INSERT INTO pending_approvals (item_id, approval_token) VALUES ($1, $2)`
	_, err := tx.Exec(ctx, q, itemID, approvalToken)
	return err
}

// deletePendingApproval clears the listing's approval bookkeeping so the
// item id can be listed again after finalization.
func deletePendingApproval(ctx context.Context, tx pgx.Tx, itemID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM pending_approvals WHERE item_id = $1`, itemID)
	return err
}

// ApprovalRepository resolves the pending approval outcomes of listings.
type ApprovalRepository struct {
	pool *pgxpool.Pool
}

func NewApprovalRepository(pool *pgxpool.Pool) *ApprovalRepository {
	return &ApprovalRepository{pool: pool}
}

func (r *ApprovalRepository) Resolve(ctx context.Context, itemID string) (string, error) {
	q := `
UPDATE pending_approvals
SET resolved = TRUE, resolved_at = now()
WHERE item_id = $1 AND NOT resolved
RETURNING approval_token
`
	var token string
	err := r.pool.QueryRow(ctx, q, itemID).Scan(&token)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pending_approvals WHERE item_id = $1)`, itemID).Scan(&exists); err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("item %s: %w", itemID, escrow.ErrApprovalResolved)
	}
	return "", fmt.Errorf("no pending approval for item %s", itemID)
}
