package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alevoro-com/alevoro/internal/ws"
)

type WSRepository struct {
	pool *pgxpool.Pool
}

func NewWSRepository(pool *pgxpool.Pool) *WSRepository {
	return &WSRepository{pool: pool}
}

func (r *WSRepository) ListMarketEventsSince(ctx context.Context, lastID int64, limit int32) ([]ws.MarketEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, event, item_id, account_id, created_at
FROM market_events
WHERE id > $1
ORDER BY id ASC
LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ws.MarketEvent, 0)
	for rows.Next() {
		var ev ws.MarketEvent
		var recordedAt time.Time
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.ItemID, &ev.AccountID, &recordedAt); err != nil {
			return nil, err
		}
		ev.RecordedAt = recordedAt
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
