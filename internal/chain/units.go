package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUnits renders a base-unit amount as a human decimal string,
// e.g. 1500000 at 6 decimals -> "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits converts a human decimal string into base units,
// truncating any precision beyond the token's decimals.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}
