package payments

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// Ledger records fund movements issued by the market core: principal
// forwarded to the borrower at financing, repayment forwarded to the
// creditor, and storage-deposit refunds. Amounts are arbitrary-precision
// unsigned integers; every movement is issued in full or not at all.
type Ledger interface {
	Forward(ctx context.Context, from, to string, amount *big.Int, memo string) error
	Refund(ctx context.Context, to string, amount *big.Int, memo string) error
}

// ParseAmount parses a decimal string into an unsigned arbitrary-precision
// amount. The string form is used across the wire boundary to avoid
// precision loss.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return amount, nil
}
