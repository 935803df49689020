package funds

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	vaultAddr = common.HexToAddress("0x7000000000000000000000000000000000000007")
	usdcAddr  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	moveHash  = common.HexToHash("0xee")
)

type mockVault struct {
	IdleUnderlyingFunc   func(ctx context.Context) (*big.Int, error)
	ATokenBalanceFunc    func(ctx context.Context) (*big.Int, error)
	SupplyToPoolFunc     func(ctx context.Context, amount *big.Int) (*types.Receipt, error)
	WithdrawFromPoolFunc func(ctx context.Context, amount *big.Int) (*types.Receipt, error)
}

func (m *mockVault) Address() common.Address { return vaultAddr }

func (m *mockVault) IdleUnderlying(ctx context.Context) (*big.Int, error) {
	return m.IdleUnderlyingFunc(ctx)
}

func (m *mockVault) ATokenBalance(ctx context.Context) (*big.Int, error) {
	return m.ATokenBalanceFunc(ctx)
}

func (m *mockVault) SupplyToPool(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	return m.SupplyToPoolFunc(ctx, amount)
}

func (m *mockVault) WithdrawFromPool(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	return m.WithdrawFromPoolFunc(ctx, amount)
}

func newManager(t *testing.T, vault *mockVault, percent int) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Logger:        slog.New(slog.DiscardHandler),
		Vault:         vault,
		USDCAddress:   usdcAddr,
		SupplyPercent: percent,
	})
	require.NoError(t, err)
	return m
}

func TestOnlyYield_Funds_Status(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	vault := &mockVault{
		IdleUnderlyingFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(2_500_000), nil },
		ATokenBalanceFunc:  func(ctx context.Context) (*big.Int, error) { return big.NewInt(7_500_000), nil },
	}

	status, err := newManager(t, vault, 5).Status(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(8453), status.ChainID)
	require.Equal(t, vaultAddr.Hex(), status.VaultAddress)
	require.Equal(t, usdcAddr.Hex(), status.USDCAddress)
	require.Equal(t, uint8(6), status.Decimals)
	require.Equal(t, "2500000", status.IdleBaseUnits)
	require.Equal(t, "2.5", status.IdleFormatted)
	require.Equal(t, "7500000", status.PooledBaseUnits)
	require.Equal(t, "7.5", status.PooledFormatted)
}

func TestOnlyYield_Funds_Sweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("withdraws the full pooled balance", func(t *testing.T) {
		t.Parallel()
		var withdrawn *big.Int
		vault := &mockVault{
			ATokenBalanceFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(7_500_000), nil },
			WithdrawFromPoolFunc: func(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
				withdrawn = new(big.Int).Set(amount)
				return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: moveHash}, nil
			},
		}
		res, err := newManager(t, vault, 5).Sweep(ctx)
		require.NoError(t, err)
		require.False(t, res.Skipped)
		require.Equal(t, moveHash.Hex(), res.TxHash)
		require.Equal(t, "7500000", res.AmountBaseUnits)
		require.Equal(t, int64(7_500_000), withdrawn.Int64())
	})

	t.Run("skips when nothing is pooled", func(t *testing.T) {
		t.Parallel()
		vault := &mockVault{
			ATokenBalanceFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(0), nil },
		}
		res, err := newManager(t, vault, 5).Sweep(ctx)
		require.NoError(t, err)
		require.True(t, res.Skipped)
		require.Equal(t, "no pooled funds", res.Reason)
	})

	t.Run("propagates withdraw failures", func(t *testing.T) {
		t.Parallel()
		vault := &mockVault{
			ATokenBalanceFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(100), nil },
			WithdrawFromPoolFunc: func(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
				return nil, errors.New("execution reverted")
			},
		}
		_, err := newManager(t, vault, 5).Sweep(ctx)
		require.Error(t, err)
	})
}

func TestOnlyYield_Funds_Supply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("supplies the configured percentage of idle", func(t *testing.T) {
		t.Parallel()
		var supplied *big.Int
		vault := &mockVault{
			IdleUnderlyingFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(2_000_000), nil },
			SupplyToPoolFunc: func(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
				supplied = new(big.Int).Set(amount)
				return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: moveHash}, nil
			},
		}
		res, err := newManager(t, vault, 5).Supply(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(100_000), supplied.Int64())
		require.Equal(t, "100000", res.AmountBaseUnits)
	})

	t.Run("skips when the vault has no idle funds", func(t *testing.T) {
		t.Parallel()
		vault := &mockVault{
			IdleUnderlyingFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(0), nil },
		}
		res, err := newManager(t, vault, 5).Supply(ctx)
		require.NoError(t, err)
		require.True(t, res.Skipped)
		require.Equal(t, "no idle funds", res.Reason)
	})

	t.Run("skips when the amount rounds to zero", func(t *testing.T) {
		t.Parallel()
		vault := &mockVault{
			IdleUnderlyingFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(10), nil },
		}
		res, err := newManager(t, vault, 5).Supply(ctx)
		require.NoError(t, err)
		require.True(t, res.Skipped)
	})

	t.Run("clamps the percentage", func(t *testing.T) {
		t.Parallel()
		var supplied *big.Int
		vault := &mockVault{
			IdleUnderlyingFunc: func(ctx context.Context) (*big.Int, error) { return big.NewInt(1_000_000), nil },
			SupplyToPoolFunc: func(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
				supplied = new(big.Int).Set(amount)
				return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: moveHash}, nil
			},
		}
		_, err := newManager(t, vault, 250).Supply(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1_000_000), supplied.Int64())
	})
}
