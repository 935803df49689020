package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/SamFelix03/OnlyYield/pkg/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
)

// Backend is the subset of the JSON-RPC client the gateway uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ClientConfig holds chain gateway configuration.
type ClientConfig struct {
	Logger   *slog.Logger
	Backend  Backend
	ChainID  *big.Int
	Operator *Operator

	Retry               retry.Config
	Clock               clockwork.Clock
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
}

func (c *ClientConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Backend == nil {
		return fmt.Errorf("backend is required")
	}
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return fmt.Errorf("chain id is required")
	}
	if c.Operator == nil {
		return fmt.Errorf("operator is required")
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ReceiptPollInterval == 0 {
		c.ReceiptPollInterval = 2 * time.Second
	}
	if c.ReceiptTimeout == 0 {
		c.ReceiptTimeout = 3 * time.Minute
	}
	return nil
}

// Client executes contract reads and operator-signed writes against a
// single chain, with bounded retries around every RPC call.
type Client struct {
	log      *slog.Logger
	cfg      ClientConfig
	backend  Backend
	chainID  *big.Int
	operator *Operator

	// Serializes nonce assignment across concurrent transactions.
	txMu sync.Mutex
}

// NewClient creates a chain gateway from an existing backend.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:      cfg.Logger,
		cfg:      cfg,
		backend:  cfg.Backend,
		chainID:  cfg.ChainID,
		operator: cfg.Operator,
	}, nil
}

// Dial connects to the given RPC endpoint and builds a gateway on it.
func Dial(ctx context.Context, log *slog.Logger, rpcURL string, operator *Operator) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", rpcURL, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	return NewClient(ClientConfig{
		Logger:   log,
		Backend:  ec,
		ChainID:  chainID,
		Operator: operator,
	})
}

// Operator returns the signing account this gateway transacts as.
func (c *Client) Operator() *Operator {
	return c.operator
}

// ChainID returns the id of the connected chain.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Call executes a read-only contract call and unpacks the outputs.
func (c *Client) Call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	msg := ethereum.CallMsg{From: c.operator.Address(), To: &to, Data: data}

	out, err := retry.DoValue(ctx, c.cfg.Retry, func() ([]byte, error) {
		return c.backend.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s output: %w", method, err)
	}
	return vals, nil
}

// Transact packs, signs and sends a state-changing call as the
// operator, then waits for the receipt. A mined-but-reverted
// transaction is returned as an error alongside the receipt.
func (c *Client) Transact(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (*types.Receipt, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	c.txMu.Lock()
	tx, err := c.sendLocked(ctx, to, nil, data)
	c.txMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s transaction failed: %w", method, err)
	}

	c.log.Debug("chain: transaction submitted", "method", method, "to", to.Hex(), "hash", tx.Hash().Hex())

	receipt, err := c.WaitReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("waiting for %s receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s transaction reverted: %s", method, tx.Hash().Hex())
	}
	return receipt, nil
}

// SendCalldata signs and sends pre-built calldata as the operator and
// waits for the receipt. Used for provider-supplied transactions
// where there is no ABI to pack against.
func (c *Client) SendCalldata(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	c.txMu.Lock()
	tx, err := c.sendLocked(ctx, to, value, data)
	c.txMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("calldata transaction failed: %w", err)
	}

	c.log.Debug("chain: calldata transaction submitted", "to", to.Hex(), "hash", tx.Hash().Hex())

	receipt, err := c.WaitReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("waiting for calldata receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("calldata transaction reverted: %s", tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) sendLocked(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	from := c.operator.Address()
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := retry.DoValue(ctx, c.cfg.Retry, func() (uint64, error) {
		return c.backend.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	tip, err := retry.DoValue(ctx, c.cfg.Retry, func() (*big.Int, error) {
		return c.backend.SuggestGasTipCap(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas tip: %w", err)
	}

	head, err := retry.DoValue(ctx, c.cfg.Retry, func() (*types.Header, error) {
		return c.backend.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	// Estimation doubles as a pre-flight: a revert surfaces here with
	// its revert data intact, before any gas is spent.
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5, // headroom over the estimate
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.operator.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := retry.Do(ctx, c.cfg.Retry, func() error {
		return c.backend.SendTransaction(ctx, signed)
	}); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

// WaitReceipt polls until the transaction is mined or the timeout
// elapses.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := c.cfg.Clock.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && !retry.IsRetryable(err) {
			return nil, fmt.Errorf("failed to fetch receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.Chan():
		}
	}
}
