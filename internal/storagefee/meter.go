// Package storagefee converts backing-store byte deltas into deposit
// requirements. The per-record overhead is measured once at startup by
// inserting and deleting a maximal-length synthetic index entry, so the
// constant cannot drift as the record schema evolves.
package storagefee

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// Account identifiers are capped at 64 characters; the synthetic probe uses
// the maximum so the measured overhead is an upper bound for real entries.
const maxAccountIDLen = 64

// UsageReporter exposes the logical byte count currently consumed by the
// backing store.
type UsageReporter interface {
	UsedBytes(ctx context.Context) (int64, error)
}

// Prober inserts and removes the synthetic index entry used for the one-off
// overhead measurement.
type Prober interface {
	InsertProbe(ctx context.Context, accountID, itemID string) error
	RemoveProbe(ctx context.Context, accountID, itemID string) error
}

// InsufficientDepositError aborts an operation whose attached payment does
// not cover the measured storage cost.
type InsufficientDepositError struct {
	Required string
	Attached string
}

func (e *InsufficientDepositError) Error() string {
	return fmt.Sprintf("attached deposit %s does not cover storage cost %s", e.Attached, e.Required)
}

// Meter prices backing-store byte deltas.
type Meter struct {
	byteCost      *big.Int
	overheadBytes int64
}

func NewMeter(byteCost *big.Int) *Meter {
	if byteCost == nil || byteCost.Sign() < 0 {
		byteCost = big.NewInt(0)
	}
	return &Meter{byteCost: new(big.Int).Set(byteCost)}
}

// MeasureOverhead records the byte cost of one maximal-length index entry by
// creating and immediately deleting it.
func (m *Meter) MeasureOverhead(ctx context.Context, usage UsageReporter, probe Prober) error {
	account := strings.Repeat("z", maxAccountIDLen)
	itemID := strings.Repeat("9", maxAccountIDLen)

	before, err := usage.UsedBytes(ctx)
	if err != nil {
		return fmt.Errorf("read storage usage: %w", err)
	}
	if err := probe.InsertProbe(ctx, account, itemID); err != nil {
		return fmt.Errorf("insert storage probe: %w", err)
	}
	after, err := usage.UsedBytes(ctx)
	if err != nil {
		_ = probe.RemoveProbe(ctx, account, itemID)
		return fmt.Errorf("read storage usage: %w", err)
	}
	if err := probe.RemoveProbe(ctx, account, itemID); err != nil {
		return fmt.Errorf("remove storage probe: %w", err)
	}

	overhead := after - before
	if overhead < 0 {
		overhead = 0
	}
	m.overheadBytes = overhead
	return nil
}

// SetOverheadBytes overrides the measured overhead, used when a deployment
// pins the value through configuration.
func (m *Meter) SetOverheadBytes(n int64) {
	if n < 0 {
		n = 0
	}
	m.overheadBytes = n
}

func (m *Meter) OverheadBytes() int64 { return m.overheadBytes }

// RequiredDeposit prices a byte delta: (overhead + max(0, delta)) * byteCost.
func (m *Meter) RequiredDeposit(deltaBytes int64) *big.Int {
	if deltaBytes < 0 {
		deltaBytes = 0
	}
	bytes := big.NewInt(m.overheadBytes + deltaBytes)
	return bytes.Mul(bytes, m.byteCost)
}

// Charge asserts the attached payment covers the priced delta and returns
// the excess to refund. Callers settling a forced transfer discard the
// returned refund instead of paying it out.
func (m *Meter) Charge(attached *big.Int, deltaBytes int64) (*big.Int, error) {
	required := m.RequiredDeposit(deltaBytes)
	if attached == nil || attached.Cmp(required) < 0 {
		attachedStr := "0"
		if attached != nil {
			attachedStr = attached.String()
		}
		return nil, &InsufficientDepositError{Required: required.String(), Attached: attachedStr}
	}
	return new(big.Int).Sub(attached, required), nil
}
