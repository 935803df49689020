package withdrawal

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/SamFelix03/OnlyYield/internal/ledger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	testDonor        = "0x3000000000000000000000000000000000000003"
	testStrategyAddr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testOrchAddr     = common.HexToAddress("0x6000000000000000000000000000000000000006")
	testUSDCAddr     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	withdrawHash = common.HexToHash("0xdd")
)

type mockLedger struct {
	GetDonationFunc func(ctx context.Context, id uuid.UUID) (ledger.Donation, error)
}

func (m *mockLedger) GetDonation(ctx context.Context, id uuid.UUID) (ledger.Donation, error) {
	return m.GetDonationFunc(ctx, id)
}

type mockVault struct {
	abi                 abi.ABI
	BalanceOfFunc       func(ctx context.Context, account common.Address) (*big.Int, error)
	TotalAssetsFunc     func(ctx context.Context) (*big.Int, error)
	TotalSupplyFunc     func(ctx context.Context) (*big.Int, error)
	PreviewWithdrawFunc func(ctx context.Context, assets *big.Int) (*big.Int, error)
	AllowanceFunc       func(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

func (m *mockVault) ABI() abi.ABI { return m.abi }

func (m *mockVault) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return m.BalanceOfFunc(ctx, account)
}

func (m *mockVault) TotalAssets(ctx context.Context) (*big.Int, error) {
	return m.TotalAssetsFunc(ctx)
}

func (m *mockVault) TotalSupply(ctx context.Context) (*big.Int, error) {
	return m.TotalSupplyFunc(ctx)
}

func (m *mockVault) PreviewWithdraw(ctx context.Context, assets *big.Int) (*big.Int, error) {
	return m.PreviewWithdrawFunc(ctx, assets)
}

func (m *mockVault) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return m.AllowanceFunc(ctx, owner, spender)
}

type mockWithdrawer struct {
	abi               abi.ABI
	WithdrawERC20Func func(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error)
}

func (m *mockWithdrawer) ABI() abi.ABI            { return m.abi }
func (m *mockWithdrawer) Address() common.Address { return testOrchAddr }

func (m *mockWithdrawer) WithdrawERC20(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error) {
	return m.WithdrawERC20Func(ctx, owner, strategyAsset, assets, outputAsset, minAmountOut, receiver)
}

type fixture struct {
	donation ledger.Donation
	ledger   *mockLedger
	vault    *mockVault
	orch     *mockWithdrawer
}

// newFixture wires an orchestrator whose donor holds 100 shares worth
// 200 assets (2:1 exchange rate), with ample allowance.
func newFixture(chainID int64) *fixture {
	f := &fixture{
		donation: ledger.Donation{
			ID:                 uuid.New(),
			DonorWalletAddress: testDonor,
			ChainID:            chainID,
			AmountIn:           "200",
			AmountInBaseUnits:  "200000000",
		},
	}
	f.ledger = &mockLedger{
		GetDonationFunc: func(ctx context.Context, id uuid.UUID) (ledger.Donation, error) {
			if id != f.donation.ID {
				return ledger.Donation{}, ledger.ErrNotFound
			}
			return f.donation, nil
		},
	}
	f.vault = &mockVault{
		BalanceOfFunc: func(ctx context.Context, account common.Address) (*big.Int, error) {
			return big.NewInt(100), nil
		},
		TotalAssetsFunc: func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(2000), nil
		},
		TotalSupplyFunc: func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(1000), nil
		},
		PreviewWithdrawFunc: func(ctx context.Context, assets *big.Int) (*big.Int, error) {
			// 2 assets per share, rounding shares up.
			shares := new(big.Int).Add(assets, big.NewInt(1))
			return shares.Rsh(shares, 1), nil
		},
		AllowanceFunc: func(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
			return big.NewInt(1_000_000), nil
		},
	}
	f.orch = &mockWithdrawer{
		WithdrawERC20Func: func(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: withdrawHash}, nil
		},
	}
	return f
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Config{
		Logger:          slog.New(slog.DiscardHandler),
		Ledger:          f.ledger,
		Strategy:        f.vault,
		Orchestrator:    f.orch,
		StrategyAddress: testStrategyAddr,
		USDCAddress:     testUSDCAddr,
		SearchDelay:     time.Millisecond,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) request() Request {
	return Request{DonationID: f.donation.ID, DonorWalletAddress: testDonor}
}

func TestOnlyYield_Withdrawal_Preconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown donation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		req := f.request()
		req.DonationID = uuid.New()
		_, err := f.orchestrator(t).Withdraw(ctx, req)
		require.ErrorIs(t, err, ErrDonationNotFound)
	})

	t.Run("already withdrawn", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		f.donation.Withdrawn = true
		_, err := f.orchestrator(t).Withdraw(ctx, f.request())
		require.ErrorIs(t, err, ErrAlreadyWithdrawn)
	})

	t.Run("donor mismatch", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		req := f.request()
		req.DonorWalletAddress = "0x9999999999999999999999999999999999999999"
		_, err := f.orchestrator(t).Withdraw(ctx, req)
		require.ErrorIs(t, err, ErrDonorMismatch)
	})

	t.Run("donor match is case-insensitive", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		req := f.request()
		req.DonorWalletAddress = strings.ToUpper(testDonor[2:])
		req.DonorWalletAddress = "0x" + req.DonorWalletAddress
		_, err := f.orchestrator(t).Withdraw(ctx, req)
		require.NoError(t, err)
	})

	t.Run("unsupported chain", func(t *testing.T) {
		t.Parallel()
		f := newFixture(999)
		_, err := f.orchestrator(t).Withdraw(ctx, f.request())
		require.ErrorIs(t, err, ErrUnsupportedChain)
	})

	t.Run("no shares", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		f.vault.BalanceOfFunc = func(ctx context.Context, account common.Address) (*big.Int, error) {
			return big.NewInt(0), nil
		}
		_, err := f.orchestrator(t).Withdraw(ctx, f.request())
		require.ErrorIs(t, err, ErrNoShares)
	})
}

func TestOnlyYield_Withdrawal_AmountResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("defaults to the donor maximum", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		var withdrawn *big.Int
		f.orch.WithdrawERC20Func = func(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error) {
			withdrawn = new(big.Int).Set(assets)
			require.Equal(t, common.HexToAddress(testDonor), owner)
			require.Equal(t, common.HexToAddress(testDonor), receiver)
			require.Equal(t, testUSDCAddr, strategyAsset)
			require.Equal(t, testUSDCAddr, outputAsset)
			require.Zero(t, minAmountOut.Sign())
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: withdrawHash}, nil
		}

		outcome, err := f.orchestrator(t).Withdraw(ctx, f.request())
		require.NoError(t, err)
		// 100 shares * 2000 assets / 1000 supply
		require.Equal(t, int64(200), withdrawn.Int64())
		require.True(t, outcome.SameChain)
		require.Nil(t, outcome.Bridge)
		require.Equal(t, withdrawHash.Hex(), outcome.WithdrawTxHash)
		require.Equal(t, "200", outcome.AmountBaseUnits)
	})

	t.Run("zero supply falls back to one-to-one", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		f.vault.TotalSupplyFunc = func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(0), nil
		}
		f.vault.PreviewWithdrawFunc = func(ctx context.Context, assets *big.Int) (*big.Int, error) {
			return new(big.Int).Set(assets), nil
		}
		outcome, err := f.orchestrator(t).Withdraw(ctx, f.request())
		require.NoError(t, err)
		require.Equal(t, "100", outcome.AmountBaseUnits)
	})

	t.Run("explicit amount wins", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		req := f.request()
		req.AmountBaseUnits = "50"
		outcome, err := f.orchestrator(t).Withdraw(ctx, req)
		require.NoError(t, err)
		require.Equal(t, "50", outcome.AmountBaseUnits)
	})

	t.Run("rejects malformed amounts", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{"abc", "-5", "0", "1.5"} {
			f := newFixture(8453)
			req := f.request()
			req.AmountBaseUnits = bad
			_, err := f.orchestrator(t).Withdraw(ctx, req)
			require.Error(t, err, "amount %q", bad)
		}
	})
}

func TestOnlyYield_Withdrawal_ApprovalGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(8453)
	f.vault.AllowanceFunc = func(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
		require.Equal(t, common.HexToAddress(testDonor), owner)
		require.Equal(t, testOrchAddr, spender)
		return big.NewInt(10), nil
	}

	_, err := f.orchestrator(t).Withdraw(ctx, f.request())
	var approval *ApprovalRequiredError
	require.ErrorAs(t, err, &approval)
	require.Equal(t, testStrategyAddr, approval.StrategyAddress)
	require.Equal(t, testOrchAddr, approval.OrchestratorAddress)
	require.Equal(t, int64(100), approval.RequiredShares.Int64())
	require.Equal(t, int64(10), approval.CurrentAllowance.Int64())
}

func TestOnlyYield_Withdrawal_ShareSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("converges on the largest viable amount", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		// 1:1 preview with a donor balance of 80 shares: the 100-asset
		// estimate needs more shares than the donor holds.
		f.vault.BalanceOfFunc = func(ctx context.Context, account common.Address) (*big.Int, error) {
			return big.NewInt(80), nil
		}
		f.vault.PreviewWithdrawFunc = func(ctx context.Context, assets *big.Int) (*big.Int, error) {
			return new(big.Int).Set(assets), nil
		}
		req := f.request()
		req.AmountBaseUnits = "100"

		var withdrawn *big.Int
		f.orch.WithdrawERC20Func = func(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error) {
			withdrawn = new(big.Int).Set(assets)
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: withdrawHash}, nil
		}

		outcome, err := f.orchestrator(t).Withdraw(ctx, req)
		require.NoError(t, err)
		require.Equal(t, int64(80), withdrawn.Int64())
		require.Equal(t, "80", outcome.AmountBaseUnits)
	})

	t.Run("no viable amount", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		f.vault.BalanceOfFunc = func(ctx context.Context, account common.Address) (*big.Int, error) {
			return big.NewInt(80), nil
		}
		f.vault.PreviewWithdrawFunc = func(ctx context.Context, assets *big.Int) (*big.Int, error) {
			return new(big.Int).Add(assets, big.NewInt(1000)), nil
		}
		req := f.request()
		req.AmountBaseUnits = "100"

		_, err := f.orchestrator(t).Withdraw(ctx, req)
		var noAssets *NoWithdrawableAssetsError
		require.ErrorAs(t, err, &noAssets)
		require.Equal(t, int64(100), noAssets.EstimatedMax.Int64())
	})

	t.Run("preview calls stay bounded", func(t *testing.T) {
		t.Parallel()
		f := newFixture(8453)
		calls := 0
		f.vault.BalanceOfFunc = func(ctx context.Context, account common.Address) (*big.Int, error) {
			return big.NewInt(80), nil
		}
		f.vault.PreviewWithdrawFunc = func(ctx context.Context, assets *big.Int) (*big.Int, error) {
			calls++
			return new(big.Int).Add(assets, big.NewInt(1000)), nil
		}
		req := f.request()
		req.AmountBaseUnits = "100000000000000"

		o, err := NewOrchestrator(Config{
			Logger:                slog.New(slog.DiscardHandler),
			Ledger:                f.ledger,
			Strategy:              f.vault,
			Orchestrator:          f.orch,
			StrategyAddress:       testStrategyAddr,
			USDCAddress:           testUSDCAddr,
			SearchMaxIterations:   20,
			SearchMaxPreviewCalls: 8,
			SearchDelay:           time.Millisecond,
		})
		require.NoError(t, err)

		_, err = o.Withdraw(ctx, req)
		require.Error(t, err)
		// Initial conversion plus at most the search's preview budget.
		require.LessOrEqual(t, calls, 9)
	})
}

func TestOnlyYield_Withdrawal_Outcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("cross-chain donation returns bridge parameters", func(t *testing.T) {
		t.Parallel()
		f := newFixture(137)
		outcome, err := f.orchestrator(t).Withdraw(ctx, f.request())
		require.NoError(t, err)
		require.False(t, outcome.SameChain)
		require.NotNil(t, outcome.Bridge)
		require.Equal(t, "Base", outcome.Bridge.SourceChain)
		require.Equal(t, int64(8453), outcome.Bridge.SourceChainID)
		require.Equal(t, testUSDCAddr.Hex(), outcome.Bridge.SourceUSDCAddress)
		require.Equal(t, "Polygon", outcome.Bridge.DestinationChain)
		require.Equal(t, int64(137), outcome.Bridge.DestinationChainID)
		require.Equal(t, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", outcome.Bridge.DestinationUSDCAddress)
	})

	t.Run("decodes custom revert data", func(t *testing.T) {
		t.Parallel()
		parsed, err := abi.JSON(strings.NewReader(`[{"type":"error","name":"WithdrawExceedsMax","inputs":[{"name":"requested","type":"uint256"},{"name":"max","type":"uint256"}]}]`))
		require.NoError(t, err)

		f := newFixture(8453)
		f.vault.abi = parsed
		f.orch.WithdrawERC20Func = func(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error) {
			revert := parsed.Errors["WithdrawExceedsMax"]
			packed, packErr := revert.Inputs.Pack(big.NewInt(200), big.NewInt(150))
			require.NoError(t, packErr)
			return nil, &rpcError{data: "0x" + common.Bytes2Hex(append(revert.ID[:4], packed...))}
		}

		_, err = f.orchestrator(t).Withdraw(ctx, f.request())
		require.Error(t, err)
		require.Contains(t, err.Error(), "WithdrawExceedsMax")
	})
}

// rpcError mimics a JSON-RPC error carrying revert data.
type rpcError struct {
	data string
}

func (e *rpcError) Error() string          { return "execution reverted" }
func (e *rpcError) ErrorData() interface{} { return e.data }
