package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
)

const recordColumns = `
item_id, holder_id, COALESCE(creditor_id, ''), principal, interest_rate,
duration_secs, COALESCE(start_time_nanos, 0), state, extra, market_type,
title, media, created_at, updated_at`

// CollateralRepository is the postgres-backed collateral ledger: the record
// store, both account indices, the reverse holder map and, inside the same
// transactions, the logical storage counter, the market event feed, the
// pending approval bookkeeping and the custody-transfer outbox. Staging the
// outbox row in the state-changing transaction means the worker either sees
// both the transition and its intent or neither.
type CollateralRepository struct {
	pool *pgxpool.Pool
}

func NewCollateralRepository(pool *pgxpool.Pool) *CollateralRepository {
	return &CollateralRepository{pool: pool}
}

func (r *CollateralRepository) Get(ctx context.Context, itemID string) (*collateral.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM collateral_records WHERE item_id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", itemID, collateral.ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func (r *CollateralRepository) HolderOf(ctx context.Context, itemID string) (string, error) {
	var holderID string
	err := r.pool.QueryRow(ctx, `SELECT holder_id FROM item_holders WHERE item_id = $1`, itemID).Scan(&holderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("item %s: %w", itemID, collateral.ErrNotFound)
		}
		return "", err
	}
	return holderID, nil
}

func (r *CollateralRepository) CreateListing(ctx context.Context, rec *collateral.Record, intent collateral.TransferIntent) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM collateral_records WHERE item_id = $1)`, rec.ItemID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("item %s: %w", rec.ItemID, collateral.ErrAlreadyListed)
		}

		q := `
INSERT INTO collateral_records (
  item_id, holder_id, principal, interest_rate, duration_secs, state,
  extra, market_type, title, media
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING created_at, updated_at
`
		err = tx.QueryRow(ctx, q,
			rec.ItemID, rec.HolderID, rec.Principal, rec.InterestRate, rec.Duration,
			string(rec.State), rec.Extra, rec.MarketType, rec.Title, rec.Media,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `INSERT INTO items_by_holder (holder_id, item_id) VALUES ($1, $2)`, rec.HolderID, rec.ItemID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO item_holders (item_id, holder_id) VALUES ($1, $2)`, rec.ItemID, rec.HolderID); err != nil {
			return err
		}
		if err := createPendingApproval(ctx, tx, rec.ItemID, intent.ApprovalToken); err != nil {
			return err
		}
		if err := stageIntent(ctx, tx, intent); err != nil {
			return err
		}
		if err := addStorageBytes(ctx, tx, rec.StorageBytes()); err != nil {
			return err
		}
		return insertEvent(ctx, tx, "item_listed", rec.ItemID, rec.HolderID)
	})
}

func (r *CollateralRepository) SetState(ctx context.Context, itemID string, from, to collateral.State, intent collateral.TransferIntent) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		current, holderID, _, err := lockRecord(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if current != from {
			return &collateral.StateConflictError{ItemID: itemID, Expected: from, Actual: current}
		}

		_, err = tx.Exec(ctx,
			`UPDATE collateral_records SET state = $1, updated_at = now() WHERE item_id = $2`,
			string(to), itemID)
		if err != nil {
			return err
		}
		if err := stageIntent(ctx, tx, intent); err != nil {
			return err
		}
		return insertEvent(ctx, tx, eventForState(to), itemID, holderID)
	})
}

func (r *CollateralRepository) MarkFinanced(ctx context.Context, itemID, creditorID string, startTime int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		current, _, _, err := lockRecord(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if current != collateral.StateSale {
			return &collateral.StateConflictError{ItemID: itemID, Expected: collateral.StateSale, Actual: current}
		}

		q := `
UPDATE collateral_records
SET state = $1, creditor_id = $2, start_time_nanos = $3, updated_at = now()
WHERE item_id = $4
`
		if _, err := tx.Exec(ctx, q, string(collateral.StateLocked), creditorID, startTime, itemID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO items_by_creditor (creditor_id, item_id) VALUES ($1, $2)`, creditorID, itemID); err != nil {
			return err
		}
		if err := addStorageBytes(ctx, tx, collateral.IndexEntryBytes(creditorID, itemID)); err != nil {
			return err
		}
		return insertEvent(ctx, tx, "item_financed", itemID, creditorID)
	})
}

func (r *CollateralRepository) Remove(ctx context.Context, itemID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		q := `SELECT ` + recordColumns + ` FROM collateral_records WHERE item_id = $1 FOR UPDATE`
		rec, err := scanRecord(tx.QueryRow(ctx, q, itemID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("item %s: %w", itemID, collateral.ErrNotFound)
			}
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM items_by_holder WHERE holder_id = $1 AND item_id = $2`, rec.HolderID, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("item %s: holder index entry missing", itemID)
		}

		freed := rec.StorageBytes()
		if rec.Financed() {
			tag, err := tx.Exec(ctx, `DELETE FROM items_by_creditor WHERE creditor_id = $1 AND item_id = $2`, rec.CreditorID, itemID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("item %s: creditor index entry missing", itemID)
			}
			freed += collateral.IndexEntryBytes(rec.CreditorID, itemID)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM item_holders WHERE item_id = $1`, itemID); err != nil {
			return err
		}
		if err := deletePendingApproval(ctx, tx, itemID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM collateral_records WHERE item_id = $1`, itemID); err != nil {
			return err
		}
		if err := addStorageBytes(ctx, tx, -freed); err != nil {
			return err
		}
		return insertEvent(ctx, tx, "item_finalized", itemID, rec.HolderID)
	})
}

func (r *CollateralRepository) ListAll(ctx context.Context, needAll bool) ([]collateral.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM collateral_records`
	if !needAll {
		q += ` WHERE state = 'sale'`
	}
	q += ` ORDER BY created_at`
	return r.queryRecords(ctx, q)
}

func (r *CollateralRepository) ListByHolder(ctx context.Context, holderID string, includeNonSale bool) ([]collateral.Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM collateral_records
WHERE item_id IN (SELECT item_id FROM items_by_holder WHERE holder_id = $1)`
	if !includeNonSale {
		q += ` AND state = 'sale'`
	}
	q += ` ORDER BY created_at`
	return r.queryRecords(ctx, q, holderID)
}

func (r *CollateralRepository) ListByCreditor(ctx context.Context, creditorID string) ([]collateral.Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM collateral_records
WHERE item_id IN (SELECT item_id FROM items_by_creditor WHERE creditor_id = $1)
ORDER BY created_at`
	return r.queryRecords(ctx, q, creditorID)
}

func (r *CollateralRepository) queryRecords(ctx context.Context, q string, args ...any) ([]collateral.Record, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []collateral.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *CollateralRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockRecord(ctx context.Context, tx pgx.Tx, itemID string) (collateral.State, string, string, error) {
	var stateStr, holderID, creditorID string
	err := tx.QueryRow(ctx,
		`SELECT state, holder_id, COALESCE(creditor_id, '') FROM collateral_records WHERE item_id = $1 FOR UPDATE`,
		itemID).Scan(&stateStr, &holderID, &creditorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", "", fmt.Errorf("item %s: %w", itemID, collateral.ErrNotFound)
		}
		return "", "", "", err
	}
	state, err := collateral.ParseState(stateStr)
	if err != nil {
		return "", "", "", err
	}
	return state, holderID, creditorID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*collateral.Record, error) {
	rec := &collateral.Record{}
	var stateStr string
	err := row.Scan(
		&rec.ItemID, &rec.HolderID, &rec.CreditorID, &rec.Principal, &rec.InterestRate,
		&rec.Duration, &rec.StartTime, &stateStr, &rec.Extra, &rec.MarketType,
		&rec.Title, &rec.Media, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.State, err = collateral.ParseState(stateStr)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, event, itemID, accountID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO market_events (event, item_id, account_id) VALUES ($1, $2, $3)`,
		event, itemID, accountID)
	return err
}

func addStorageBytes(ctx context.Context, tx pgx.Tx, delta int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE storage_ledger SET used_bytes = GREATEST(0, used_bytes + $1) WHERE id = 1`,
		delta)
	return err
}

func eventForState(state collateral.State) string {
	switch state {
	case collateral.StateReturn:
		return "listing_cancelled"
	case collateral.StateTransferToBorrower:
		return "loan_repaid"
	case collateral.StateTransferToCreditor:
		return "loan_defaulted"
	default:
		return "state_changed"
	}
}
