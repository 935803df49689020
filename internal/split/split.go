// Package split divides a payout amount across recipients using
// integer base units only.
package split

import "math/big"

// Share is a single recipient's cut of a payout.
type Share struct {
	Recipient string
	Amount    *big.Int
}

// Equal splits total evenly across recipients. Each recipient gets the
// floor of total/N and the first recipient additionally absorbs the
// remainder, so the shares always sum to exactly total. A nil or
// empty recipient list yields no shares.
func Equal(total *big.Int, recipients []string) []Share {
	if len(recipients) == 0 || total == nil {
		return nil
	}
	if len(recipients) == 1 {
		return []Share{{Recipient: recipients[0], Amount: new(big.Int).Set(total)}}
	}

	n := big.NewInt(int64(len(recipients)))
	base := new(big.Int).Quo(total, n)
	rem := new(big.Int).Sub(total, new(big.Int).Mul(base, n))

	shares := make([]Share, len(recipients))
	for i, r := range recipients {
		amount := new(big.Int).Set(base)
		if i == 0 {
			amount.Add(amount, rem)
		}
		shares[i] = Share{Recipient: r, Amount: amount}
	}
	return shares
}
