package chain

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestOnlyYield_Chain_NetworkRegistry(t *testing.T) {
	t.Parallel()

	t.Run("known keys resolve", func(t *testing.T) {
		t.Parallel()
		for _, key := range []string{"ethereum", "polygon", "arbitrum", "optimism", "base"} {
			n, ok := NetworkByKey(key)
			require.True(t, ok, key)
			require.Equal(t, key, n.Key)
			require.NotZero(t, n.ID)
			require.NotEqual(t, common.Address{}, n.USDC)
		}
	})

	t.Run("lookup is case and whitespace tolerant", func(t *testing.T) {
		t.Parallel()
		n, ok := NetworkByKey("  Base ")
		require.True(t, ok)
		require.Equal(t, int64(8453), n.ID)
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()
		_, ok := NetworkByKey("solana")
		require.False(t, ok)
	})

	t.Run("lookup by id", func(t *testing.T) {
		t.Parallel()
		n, ok := NetworkByID(42161)
		require.True(t, ok)
		require.Equal(t, "arbitrum", n.Key)

		_, ok = NetworkByID(99999)
		require.False(t, ok)
	})
}

func TestOnlyYield_Chain_ExtractTxHash(t *testing.T) {
	t.Parallel()

	hash := "0x" + "ab12" + "00112233445566778899aabbccddeeff00112233445566778899aabbccdd"
	require.Len(t, hash, 66)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare hash", input: hash, want: hash},
		{name: "explorer url", input: "https://basescan.org/tx/" + hash, want: hash},
		{name: "hash with whitespace", input: "  " + hash + "\n", want: hash},
		{name: "no hash present", input: "pending", want: "pending"},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ExtractTxHash(tt.input))
		})
	}
}

func TestOnlyYield_Chain_FormatAndParseUnits(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	require.Equal(t, "0.1", FormatUnits(big.NewInt(100_000), 6))
	require.Equal(t, "0", FormatUnits(big.NewInt(0), 6))
	require.Equal(t, "0", FormatUnits(nil, 6))

	n, err := ParseUnits("0.1", 6)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), n.Int64())

	n, err = ParseUnits("2", 6)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000), n.Int64())

	// Excess precision truncates rather than rounding up.
	n, err = ParseUnits("0.1234567", 6)
	require.NoError(t, err)
	require.Equal(t, int64(123_456), n.Int64())

	_, err = ParseUnits("", 6)
	require.Error(t, err)
	_, err = ParseUnits("-1", 6)
	require.Error(t, err)
	_, err = ParseUnits("abc", 6)
	require.Error(t, err)
}

func TestOnlyYield_Chain_ClaimedAmountFromReceipt(t *testing.T) {
	t.Parallel()

	strategyAddr := common.HexToAddress("0x1000000000000000000000000000000000000001")
	donor := common.HexToAddress("0x2000000000000000000000000000000000000002")
	operator := common.HexToAddress("0x3000000000000000000000000000000000000003")
	other := common.HexToAddress("0x4000000000000000000000000000000000000004")

	s := &Strategy{addr: strategyAddr}
	event := strategyABI.Events["UserYieldClaimed"]

	claimLog := func(addr, user, claimer common.Address, amount int64) *types.Log {
		return &types.Log{
			Address: addr,
			Topics: []common.Hash{
				event.ID,
				common.BytesToHash(user.Bytes()),
				common.BytesToHash(claimer.Bytes()),
			},
			Data: common.BigToHash(big.NewInt(amount)).Bytes(),
		}
	}

	t.Run("matching event", func(t *testing.T) {
		t.Parallel()
		receipt := &types.Receipt{Logs: []*types.Log{claimLog(strategyAddr, donor, operator, 12345)}}
		amount, ok := s.ClaimedAmountFromReceipt(receipt, donor, operator)
		require.True(t, ok)
		require.Equal(t, int64(12345), amount.Int64())
	})

	t.Run("event from another contract is ignored", func(t *testing.T) {
		t.Parallel()
		receipt := &types.Receipt{Logs: []*types.Log{claimLog(other, donor, operator, 12345)}}
		_, ok := s.ClaimedAmountFromReceipt(receipt, donor, operator)
		require.False(t, ok)
	})

	t.Run("event for another donor is ignored", func(t *testing.T) {
		t.Parallel()
		receipt := &types.Receipt{Logs: []*types.Log{claimLog(strategyAddr, other, operator, 12345)}}
		_, ok := s.ClaimedAmountFromReceipt(receipt, donor, operator)
		require.False(t, ok)
	})

	t.Run("event for another claimer is ignored", func(t *testing.T) {
		t.Parallel()
		receipt := &types.Receipt{Logs: []*types.Log{claimLog(strategyAddr, donor, other, 12345)}}
		_, ok := s.ClaimedAmountFromReceipt(receipt, donor, operator)
		require.False(t, ok)
	})

	t.Run("first matching event wins", func(t *testing.T) {
		t.Parallel()
		receipt := &types.Receipt{Logs: []*types.Log{
			claimLog(strategyAddr, other, operator, 1),
			claimLog(strategyAddr, donor, operator, 2),
			claimLog(strategyAddr, donor, operator, 3),
		}}
		amount, ok := s.ClaimedAmountFromReceipt(receipt, donor, operator)
		require.True(t, ok)
		require.Equal(t, int64(2), amount.Int64())
	})
}

// rpcError mimics the revert-data-carrying error returned by geth's
// RPC client.
type rpcError struct {
	msg  string
	data string
}

func (e *rpcError) Error() string          { return e.msg }
func (e *rpcError) ErrorData() interface{} { return e.data }

func TestOnlyYield_Chain_DecodeRevert(t *testing.T) {
	t.Parallel()

	caller := common.HexToAddress("0x5000000000000000000000000000000000000005")

	encodeCustom := func(a string, name string, args ...any) string {
		var abiErr = orchestratorABI.Errors[name]
		if a == "strategy" {
			abiErr = strategyABI.Errors[name]
		}
		packed, err := abiErr.Inputs.Pack(args...)
		require.NoError(t, err)
		return hexutil.Encode(append(abiErr.ID.Bytes()[:4], packed...))
	}

	t.Run("orchestrator custom error", func(t *testing.T) {
		t.Parallel()
		err := &rpcError{msg: "execution reverted", data: encodeCustom("orchestrator", "NotOperator", caller)}
		msg := DecodeRevert(err, orchestratorABI, strategyABI)
		require.Contains(t, msg, "NotOperator")
	})

	t.Run("strategy custom error behind orchestrator", func(t *testing.T) {
		t.Parallel()
		err := &rpcError{msg: "execution reverted", data: encodeCustom("strategy", "InsufficientShares", big.NewInt(10), big.NewInt(3))}
		msg := DecodeRevert(err, orchestratorABI, strategyABI)
		require.Contains(t, msg, "InsufficientShares")
	})

	t.Run("no revert data", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, DecodeRevert(&rpcError{msg: "boom", data: "nope"}, orchestratorABI))
		require.Empty(t, DecodeRevert(context.Canceled, orchestratorABI))
	})
}

// mockBackend is a func-field RPC backend for gateway tests.
type mockBackend struct {
	CallContractFunc       func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAtFunc     func(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumberFunc     func(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCapFunc   func(ctx context.Context) (*big.Int, error)
	EstimateGasFunc        func(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransactionFunc    func(ctx context.Context, tx *types.Transaction) error
	TransactionReceiptFunc func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

func (m *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.CallContractFunc(ctx, call, blockNumber)
}
func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return m.PendingNonceAtFunc(ctx, account)
}
func (m *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return m.HeaderByNumberFunc(ctx, number)
}
func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return m.SuggestGasTipCapFunc(ctx)
}
func (m *mockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return m.EstimateGasFunc(ctx, call)
}
func (m *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return m.SendTransactionFunc(ctx, tx)
}
func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return m.TransactionReceiptFunc(ctx, txHash)
}

const testOperatorKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	operator, err := NewOperator(testOperatorKey)
	require.NoError(t, err)

	client, err := NewClient(ClientConfig{
		Logger:              slog.New(slog.DiscardHandler),
		Backend:             backend,
		ChainID:             big.NewInt(8453),
		Operator:            operator,
		ReceiptPollInterval: time.Millisecond,
		ReceiptTimeout:      time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestOnlyYield_Chain_Client_Call(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	token := common.HexToAddress("0x6000000000000000000000000000000000000006")
	backend := &mockBackend{
		CallContractFunc: func(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			require.Equal(t, token, *call.To)
			return common.LeftPadBytes([]byte{6}, 32), nil
		},
	}
	client := newTestClient(t, backend)

	dec, err := NewERC20(client, token).Decimals(ctx)
	require.NoError(t, err)
	require.Equal(t, uint8(6), dec)
}

func TestOnlyYield_Chain_Client_TransactWaitsForReceipt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	to := common.HexToAddress("0x7000000000000000000000000000000000000007")
	var sent *types.Transaction
	receiptPolls := 0

	backend := &mockBackend{
		PendingNonceAtFunc: func(ctx context.Context, _ common.Address) (uint64, error) { return 7, nil },
		SuggestGasTipCapFunc: func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(1_000_000_000), nil
		},
		HeaderByNumberFunc: func(ctx context.Context, _ *big.Int) (*types.Header, error) {
			return &types.Header{BaseFee: big.NewInt(50_000_000)}, nil
		},
		EstimateGasFunc: func(ctx context.Context, _ ethereum.CallMsg) (uint64, error) { return 60_000, nil },
		SendTransactionFunc: func(ctx context.Context, tx *types.Transaction) error {
			sent = tx
			return nil
		},
		TransactionReceiptFunc: func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
			receiptPolls++
			if receiptPolls < 3 {
				return nil, ethereum.NotFound
			}
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
		},
	}
	client := newTestClient(t, backend)

	receipt, err := client.Transact(ctx, to, orchestratorABI, "harvestStrategy", common.HexToAddress("0x1"))
	require.NoError(t, err)
	require.NotNil(t, sent)
	require.Equal(t, uint64(7), sent.Nonce())
	require.Equal(t, sent.Hash(), receipt.TxHash)
	require.Equal(t, 3, receiptPolls)
}

func TestOnlyYield_Chain_Client_TransactRevertedReceipt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := &mockBackend{
		PendingNonceAtFunc: func(ctx context.Context, _ common.Address) (uint64, error) { return 0, nil },
		SuggestGasTipCapFunc: func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(1_000_000_000), nil
		},
		HeaderByNumberFunc: func(ctx context.Context, _ *big.Int) (*types.Header, error) {
			return &types.Header{BaseFee: big.NewInt(50_000_000)}, nil
		},
		EstimateGasFunc:     func(ctx context.Context, _ ethereum.CallMsg) (uint64, error) { return 60_000, nil },
		SendTransactionFunc: func(ctx context.Context, tx *types.Transaction) error { return nil },
		TransactionReceiptFunc: func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: txHash}, nil
		},
	}
	client := newTestClient(t, backend)

	_, err := client.Transact(ctx, common.HexToAddress("0x8"), orchestratorABI, "harvestStrategy", common.HexToAddress("0x1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reverted")
}

func TestOnlyYield_Chain_Operator(t *testing.T) {
	t.Parallel()

	op, err := NewOperator(testOperatorKey)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, op.Address())

	// Same key without the prefix yields the same address.
	op2, err := NewOperator(testOperatorKey[2:])
	require.NoError(t, err)
	require.Equal(t, op.Address(), op2.Address())

	_, err = NewOperator("")
	require.Error(t, err)
	_, err = NewOperator("zz")
	require.Error(t, err)
}
