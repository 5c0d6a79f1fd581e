package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
)

// StorageRepository exposes the logical byte counter the ledger maintains
// alongside its mutations, plus the synthetic probe entry used to measure
// per-record overhead at startup.
type StorageRepository struct {
	pool *pgxpool.Pool
}

func NewStorageRepository(pool *pgxpool.Pool) *StorageRepository {
	return &StorageRepository{pool: pool}
}

func (r *StorageRepository) UsedBytes(ctx context.Context) (int64, error) {
	var used int64
	err := r.pool.QueryRow(ctx, `SELECT used_bytes FROM storage_ledger WHERE id = 1`).Scan(&used)
	return used, err
}

func (r *StorageRepository) InsertProbe(ctx context.Context, accountID, itemID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO items_by_holder (holder_id, item_id) VALUES ($1, $2)`, accountID, itemID); err != nil {
		return err
	}
	if err := addStorageBytes(ctx, tx, collateral.IndexEntryBytes(accountID, itemID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *StorageRepository) RemoveProbe(ctx context.Context, accountID, itemID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM items_by_holder WHERE holder_id = $1 AND item_id = $2`, accountID, itemID); err != nil {
		return err
	}
	if err := addStorageBytes(ctx, tx, -collateral.IndexEntryBytes(accountID, itemID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
