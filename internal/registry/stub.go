package registry

import (
	"context"
	"fmt"
	"time"
)

// StubClient acknowledges every call without talking to a registry. Used for
// local wiring before a registry endpoint is configured.
type StubClient struct{}

func NewStubClient() *StubClient {
	return &StubClient{}
}

func (c *StubClient) TransferItem(_ context.Context, req TransferRequest) (string, error) {
	if req.ItemID == "" || req.Receiver == "" {
		return "", fmt.Errorf("invalid transfer args")
	}
	prefix := req.ItemID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("stub-%s-%x", prefix, time.Now().UTC().UnixNano()), nil
}

func (c *StubClient) ItemMetadata(_ context.Context, itemID string) (*ItemMetadata, error) {
	if itemID == "" {
		return nil, fmt.Errorf("missing item id")
	}
	return &ItemMetadata{ItemID: itemID, Title: "stub item"}, nil
}
