package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
)

// Sender signs and submits provider-built calldata on the source
// chain.
type Sender interface {
	SendCalldata(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error)
}

// RouteAPI is the provider surface the executor needs. *Client
// satisfies it.
type RouteAPI interface {
	StepTransaction(ctx context.Context, step Step) (*TxRequest, error)
	GetStatus(ctx context.Context, txHash, tool string, fromChainID, toChainID int64) (*Status, error)
}

// ExecutorConfig holds route execution configuration.
type ExecutorConfig struct {
	Logger *slog.Logger
	API    RouteAPI
	Sender Sender

	Clock         clockwork.Clock
	PollInterval  time.Duration
	StatusTimeout time.Duration
}

func (c *ExecutorConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.API == nil {
		return fmt.Errorf("api is required")
	}
	if c.Sender == nil {
		return fmt.Errorf("sender is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StatusTimeout == 0 {
		c.StatusTimeout = 5 * time.Minute
	}
	return nil
}

// Executor drives quoted routes: it submits each step's transaction
// on the source chain, then polls the provider until the transfer
// lands or fails.
type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute runs a route to completion. The returned StatusKind is
// StatusDone when the transfer confirmed, StatusPending when the
// source transactions landed but confirmation timed out, and an error
// accompanies StatusFailed. onUpdate, if non-nil, receives progress
// per step and on terminal status.
func (e *Executor) Execute(ctx context.Context, route *Route, fromChainID, toChainID int64, onUpdate func(StepUpdate)) (*Execution, StatusKind, error) {
	exec := &Execution{}
	notify := func(u StepUpdate) {
		if onUpdate != nil {
			onUpdate(u)
		}
	}

	for _, step := range route.Steps {
		txReq, err := e.cfg.API.StepTransaction(ctx, step)
		if err != nil {
			return exec, StatusFailed, fmt.Errorf("step %s: %w", step.ID, err)
		}
		data, err := hexutil.Decode(txReq.Data)
		if err != nil {
			return exec, StatusFailed, fmt.Errorf("step %s: invalid calldata: %w", step.ID, err)
		}

		receipt, err := e.cfg.Sender.SendCalldata(ctx, common.HexToAddress(txReq.To), txReq.Value, data)
		if err != nil {
			return exec, StatusFailed, fmt.Errorf("step %s: %w", step.ID, err)
		}

		hash := receipt.TxHash.Hex()
		if exec.SourceTxHash == "" {
			exec.SourceTxHash = hash
		}
		e.log.Debug("bridge: step transaction landed", "step", step.ID, "tool", step.Tool, "hash", hash)
		notify(StepUpdate{StepID: step.ID, TxHash: hash, Status: StatusPending})
	}

	status, err := e.awaitConfirmation(ctx, route, exec, fromChainID, toChainID)
	if err != nil {
		return exec, StatusFailed, err
	}
	if status != nil {
		if status.ReceivingTxHash != "" {
			exec.DestinationTxHash = status.ReceivingTxHash
		}
		exec.ExplorerLink = status.ExplorerLink
		notify(StepUpdate{StepID: route.ID, TxHash: exec.SourceTxHash, Status: status.Kind})
		return exec, status.Kind, nil
	}

	// Timed out: the source legs landed, the destination leg is still
	// in flight. Not a failure.
	e.log.Warn("bridge: confirmation timed out, leaving transfer pending", "route", route.ID, "source_hash", exec.SourceTxHash)
	notify(StepUpdate{StepID: route.ID, TxHash: exec.SourceTxHash, Status: StatusPending})
	return exec, StatusPending, nil
}

// awaitConfirmation polls the provider until the transfer is terminal
// or the timeout elapses. Returns nil status on timeout.
func (e *Executor) awaitConfirmation(ctx context.Context, route *Route, exec *Execution, fromChainID, toChainID int64) (*Status, error) {
	deadline := e.cfg.Clock.Now().Add(e.cfg.StatusTimeout)
	ticker := e.cfg.Clock.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.cfg.API.GetStatus(ctx, exec.SourceTxHash, route.Tool, fromChainID, toChainID)
		if err != nil {
			// Status lookups are best-effort while the provider indexes
			// the transaction.
			e.log.Debug("bridge: status lookup failed", "route", route.ID, "error", err)
		} else {
			switch status.Kind {
			case StatusDone:
				return status, nil
			case StatusFailed:
				return nil, fmt.Errorf("bridge transfer %s failed", route.ID)
			}
		}

		if e.cfg.Clock.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}
