package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MarketEvent is one row of the market event feed, appended in the same
// transaction as the ledger mutation it describes.
type MarketEvent struct {
	ID         int64
	Event      string
	ItemID     string
	AccountID  string
	RecordedAt time.Time
}

type MarketEventRepository interface {
	ListMarketEventsSince(ctx context.Context, lastID int64, limit int32) ([]MarketEvent, error)
}

// Notifier polls the market event feed and fans events out to websocket
// subscribers: a market-wide channel plus one channel per account.
type Notifier struct {
	repo         MarketEventRepository
	hub          *Hub
	pollInterval time.Duration
	lastID       int64
}

func NewNotifier(repo MarketEventRepository, hub *Hub, pollInterval time.Duration) *Notifier {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Notifier{repo: repo, hub: hub, pollInterval: pollInterval}
}

func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (n *Notifier) tick(ctx context.Context) error {
	events, err := n.repo.ListMarketEventsSince(ctx, n.lastID, 100)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ID > n.lastID {
			n.lastID = ev.ID
		}
		payload, _ := json.Marshal(map[string]any{
			"event": ev.Event,
			"data": map[string]any{
				"token_id":    ev.ItemID,
				"account_id":  ev.AccountID,
				"recorded_at": ev.RecordedAt.UTC().Format(time.RFC3339),
			},
		})
		n.hub.Publish("market:items", payload)
		if ev.AccountID != "" {
			n.hub.Publish(fmt.Sprintf("account:items:%s", ev.AccountID), payload)
		}
	}
	return nil
}
