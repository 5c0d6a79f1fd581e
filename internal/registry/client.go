// Package registry is the market's narrow view of the external item
// registry: the system of record for item ownership. The core only asks it
// to move custody of an identified item and to describe an item for display;
// everything else about the registry is out of scope.
package registry

import "context"

// TransferRequest asks the registry to move custody of ItemID to Receiver.
// ApprovalToken carries the approval the holder granted before listing; Memo
// is relayed back by the registry with its confirmation.
type TransferRequest struct {
	ItemID        string `json:"token_id"`
	Receiver      string `json:"receiver_id"`
	ApprovalToken string `json:"approval_id,omitempty"`
	Memo          string `json:"memo,omitempty"`
}

// ItemMetadata is the registry's descriptive projection of an item, used for
// display only.
type ItemMetadata struct {
	ItemID      string `json:"token_id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Media       string `json:"media"`
}

type Client interface {
	// TransferItem issues the custody transfer and returns the registry's
	// receipt id. The transfer completes asynchronously on the registry
	// side; completion is observed later through finalization.
	TransferItem(ctx context.Context, req TransferRequest) (string, error)
	// ItemMetadata fetches the display metadata for one item.
	ItemMetadata(ctx context.Context, itemID string) (*ItemMetadata, error)
}
