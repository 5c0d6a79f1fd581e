package collateral

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the authoritative ledger entry for one collateral item. Exactly
// one Record exists per live item id; it is created by listing, mutated only
// by the lifecycle transitions, and deleted only by finalization once the
// item registry confirms custody actually moved.
type Record struct {
	ItemID       string `json:"token_id"`
	HolderID     string `json:"owner_id"`
	CreditorID   string `json:"creditor,omitempty"`
	Principal    string `json:"borrowed_money"`
	InterestRate int64  `json:"apr"`
	Duration     int64  `json:"duration"`
	StartTime    int64  `json:"start_time,omitempty"`
	State        State  `json:"state"`

	// Listing metadata, opaque to the state machine.
	Extra      string `json:"extra"`
	MarketType string `json:"market_type"`
	Title      string `json:"title"`
	Media      string `json:"media"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Financed reports whether the record carries a creditor. The ledger
// maintains creditor_id and start_time together: both set or both empty.
func (r *Record) Financed() bool {
	return r.CreditorID != ""
}

// StorageBytes is the logical backing-store footprint of the record plus its
// holder-index and reverse-map entries. It is measured on the listing-shaped
// encoding (no creditor, no start time, state Sale) regardless of the
// record's current state, so the bytes freed at finalization always equal
// the bytes charged at creation.
func (r *Record) StorageBytes() int64 {
	base := *r
	base.CreditorID = ""
	base.StartTime = 0
	base.State = StateSale
	enc, _ := json.Marshal(&base)
	return int64(len(enc)) + int64(len(r.ItemID)) + 2*IndexEntryBytes(r.HolderID, r.ItemID)
}

// IndexEntryBytes is the logical footprint of one account-to-item index row.
func IndexEntryBytes(accountID, itemID string) int64 {
	return int64(len(accountID) + len(itemID))
}

// ListingTerms are the caller-supplied loan terms carried by the approval
// notification. The original wire format packed these into a delimited
// string; they are individually validated named fields here.
type ListingTerms struct {
	Principal    string `json:"borrowed_money"`
	InterestRate int64  `json:"apr"`
	Duration     int64  `json:"borrow_duration"`
	Extra        string `json:"extra"`
	MarketType   string `json:"market_type"`
	Title        string `json:"title"`
	Media        string `json:"media"`
}

// ApprovalInput is the payload of the registry's approval notification that
// triggers listing: the would-be borrower approved a custody transfer of
// ItemID to the market, carrying the loan terms.
type ApprovalInput struct {
	ItemID          string
	HolderID        string
	ApprovalToken   string
	Caller          string
	AttachedDeposit string
	Terms           ListingTerms
}

// TransferIntent is one custody-transfer request bound for the external item
// registry. Intents are staged durably in the same transaction as the ledger
// mutation that requires them and delivered asynchronously by the escrow
// worker.
type TransferIntent struct {
	ID            string
	ItemID        string
	Receiver      string
	ApprovalToken string
	Memo          string
}

// Ledger is the persistence contract for the collateral record store and its
// secondary indices. Every method that mutates more than one row commits all
// of them atomically; a guard failure leaves no partial mutation behind.
type Ledger interface {
	Get(ctx context.Context, itemID string) (*Record, error)
	// HolderOf resolves the reverse map from item id to the account that
	// posted it, used when only the item id is known.
	HolderOf(ctx context.Context, itemID string) (string, error)
	// CreateListing inserts the record, its holder-index entry, the
	// reverse-map entry, the pending approval for the listing and the staged
	// custody-transfer intent, all in one transaction. An existing record for
	// the same item id fails with ErrAlreadyListed.
	CreateListing(ctx context.Context, rec *Record, intent TransferIntent) error
	// SetState moves the record from one state to another and stages the
	// custody-transfer intent the transition requires, failing with a
	// StateConflictError when the current state differs from from.
	SetState(ctx context.Context, itemID string, from, to State, intent TransferIntent) error
	// MarkFinanced performs the Sale -> Locked transition together with
	// setting creditor and start time and inserting the creditor-index entry.
	MarkFinanced(ctx context.Context, itemID, creditorID string, startTime int64) error
	// Remove deletes the record, both index entries, the reverse-map entry
	// and the listing's approval bookkeeping, so the item id can be listed
	// again later.
	Remove(ctx context.Context, itemID string) error

	ListAll(ctx context.Context, needAll bool) ([]Record, error)
	ListByHolder(ctx context.Context, holderID string, includeNonSale bool) ([]Record, error)
	ListByCreditor(ctx context.Context, creditorID string) ([]Record, error)
}
