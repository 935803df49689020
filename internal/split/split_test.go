package split

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnlyYield_Split_Equal(t *testing.T) {
	t.Parallel()

	sum := func(shares []Share) *big.Int {
		total := new(big.Int)
		for _, s := range shares {
			total.Add(total, s.Amount)
		}
		return total
	}

	t.Run("no recipients", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, Equal(big.NewInt(100), nil))
		require.Empty(t, Equal(big.NewInt(100), []string{}))
	})

	t.Run("single recipient takes everything", func(t *testing.T) {
		t.Parallel()
		shares := Equal(big.NewInt(100), []string{"a"})
		require.Len(t, shares, 1)
		require.Equal(t, "a", shares[0].Recipient)
		require.Equal(t, int64(100), shares[0].Amount.Int64())
	})

	t.Run("even split", func(t *testing.T) {
		t.Parallel()
		shares := Equal(big.NewInt(90), []string{"a", "b", "c"})
		require.Len(t, shares, 3)
		for _, s := range shares {
			require.Equal(t, int64(30), s.Amount.Int64())
		}
	})

	t.Run("remainder goes to first recipient", func(t *testing.T) {
		t.Parallel()
		shares := Equal(big.NewInt(100), []string{"a", "b", "c"})
		require.Equal(t, int64(34), shares[0].Amount.Int64())
		require.Equal(t, int64(33), shares[1].Amount.Int64())
		require.Equal(t, int64(33), shares[2].Amount.Int64())
		require.Equal(t, int64(100), sum(shares).Int64())
	})

	t.Run("amount smaller than recipient count", func(t *testing.T) {
		t.Parallel()
		shares := Equal(big.NewInt(2), []string{"a", "b", "c"})
		require.Equal(t, int64(2), shares[0].Amount.Int64())
		require.Equal(t, int64(0), shares[1].Amount.Int64())
		require.Equal(t, int64(0), shares[2].Amount.Int64())
	})

	t.Run("zero total", func(t *testing.T) {
		t.Parallel()
		shares := Equal(big.NewInt(0), []string{"a", "b"})
		require.Equal(t, int64(0), sum(shares).Int64())
	})

	t.Run("input amount is not mutated", func(t *testing.T) {
		t.Parallel()
		total := big.NewInt(101)
		Equal(total, []string{"a", "b", "c"})
		require.Equal(t, int64(101), total.Int64())
	})

	t.Run("order of recipients is preserved", func(t *testing.T) {
		t.Parallel()
		shares := Equal(big.NewInt(10), []string{"c", "a", "b"})
		require.Equal(t, "c", shares[0].Recipient)
		require.Equal(t, "a", shares[1].Recipient)
		require.Equal(t, "b", shares[2].Recipient)
	})
}
