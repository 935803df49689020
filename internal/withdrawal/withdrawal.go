package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/SamFelix03/OnlyYield/internal/chain"
	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/SamFelix03/OnlyYield/internal/ledger"
	"github.com/SamFelix03/OnlyYield/internal/metrics"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Precondition failures, checked in order. Each maps to a distinct
// rejected outcome.
var (
	ErrDonationNotFound = errors.New("donation not found")
	ErrAlreadyWithdrawn = errors.New("donation already withdrawn")
	ErrDonorMismatch    = errors.New("donor wallet address does not match donation")
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrNoShares         = errors.New("no shares to withdraw")
)

// ApprovalRequiredError rejects a withdrawal until the donor approves
// the orchestrator to spend their strategy shares. The fields carry
// everything the caller needs to submit the approval and retry.
type ApprovalRequiredError struct {
	StrategyAddress     common.Address
	OrchestratorAddress common.Address
	RequiredShares      *big.Int
	CurrentAllowance    *big.Int
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("insufficient approval: orchestrator allowance %s, required %s",
		e.CurrentAllowance, e.RequiredShares)
}

// NoWithdrawableAssetsError means the share search found no positive
// asset amount the donor's balance can cover.
type NoWithdrawableAssetsError struct {
	EstimatedMax *big.Int
}

func (e *NoWithdrawableAssetsError) Error() string {
	return fmt.Sprintf("no withdrawable assets found (estimated max: %s)", e.EstimatedMax)
}

// Ledger is the bookkeeping surface the orchestrator needs.
// *ledger.Store satisfies it.
type Ledger interface {
	GetDonation(ctx context.Context, id uuid.UUID) (ledger.Donation, error)
}

// ShareVault is the strategy contract surface. *chain.Strategy
// satisfies it.
type ShareVault interface {
	ABI() abi.ABI
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	TotalAssets(ctx context.Context) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	PreviewWithdraw(ctx context.Context, assets *big.Int) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// Withdrawer is the orchestrator contract surface.
// *chain.Orchestrator satisfies it.
type Withdrawer interface {
	ABI() abi.ABI
	Address() common.Address
	WithdrawERC20(ctx context.Context, owner, strategyAsset common.Address, assets *big.Int, outputAsset common.Address, minAmountOut *big.Int, receiver common.Address) (*types.Receipt, error)
}

// Config holds withdrawal orchestration configuration.
type Config struct {
	Logger       *slog.Logger
	Ledger       Ledger
	Strategy     ShareVault
	Orchestrator Withdrawer

	StrategyAddress common.Address
	USDCAddress     common.Address

	// Share search bounds. Iterations bound the binary search depth;
	// preview calls bound total RPC load including the initial
	// conversion.
	SearchMaxIterations   int
	SearchMaxPreviewCalls int
	SearchDelay           time.Duration

	Clock clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.Strategy == nil {
		return fmt.Errorf("strategy is required")
	}
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}
	if c.SearchMaxIterations == 0 {
		c.SearchMaxIterations = 20
	}
	if c.SearchMaxPreviewCalls == 0 {
		c.SearchMaxPreviewCalls = 32
	}
	if c.SearchDelay == 0 {
		c.SearchDelay = 200 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Request asks to withdraw a donation's principal back to its donor.
type Request struct {
	DonationID         uuid.UUID
	DonorWalletAddress string
	AmountBaseUnits    string // optional; empty withdraws the donor's maximum
}

// BridgeParams is everything the caller needs to run the donor-signed
// cross-chain leg after the on-chain withdrawal settled on Base.
type BridgeParams struct {
	SourceChain            string `json:"source_chain"`
	SourceChainID          int64  `json:"source_chain_id"`
	SourceUSDCAddress      string `json:"source_usdc_address"`
	DestinationChain       string `json:"destination_chain"`
	DestinationChainID     int64  `json:"destination_chain_id"`
	DestinationUSDCAddress string `json:"destination_usdc_address"`
}

// Outcome is a settled withdrawal. Bridge is nil when the donation
// originated on Base.
type Outcome struct {
	SameChain       bool
	WithdrawTxHash  string
	AmountBaseUnits string
	Bridge          *BridgeParams
}

// Orchestrator settles donation withdrawals through the on-chain
// orchestrator contract.
type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Withdraw runs the full precondition ladder, resolves the asset
// amount, and executes the on-chain withdrawal as the operator.
func (o *Orchestrator) Withdraw(ctx context.Context, req Request) (*Outcome, error) {
	outcome, err := o.withdraw(ctx, req)
	metrics.WithdrawalsTotal.WithLabelValues(withdrawalOutcomeLabel(outcome, err)).Inc()
	return outcome, err
}

func (o *Orchestrator) withdraw(ctx context.Context, req Request) (*Outcome, error) {
	donation, err := o.cfg.Ledger.GetDonation(ctx, req.DonationID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrDonationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get donation: %w", err)
	}
	if donation.Withdrawn {
		return nil, ErrAlreadyWithdrawn
	}
	if !strings.EqualFold(donation.DonorWalletAddress, req.DonorWalletAddress) {
		return nil, ErrDonorMismatch
	}
	network, ok := chain.NetworkByID(donation.ChainID)
	if !ok {
		return nil, fmt.Errorf("%w: chain id %d", ErrUnsupportedChain, donation.ChainID)
	}

	donor := common.HexToAddress(donation.DonorWalletAddress)
	donorShares, err := o.cfg.Strategy.BalanceOf(ctx, donor)
	if err != nil {
		return nil, o.revertError("read share balance", err)
	}
	if donorShares.Sign() == 0 {
		return nil, ErrNoShares
	}

	amount, err := o.resolveAmount(ctx, req.AmountBaseUnits, donorShares)
	if err != nil {
		return nil, err
	}

	requiredShares, err := o.cfg.Strategy.PreviewWithdraw(ctx, amount)
	if err != nil {
		return nil, o.revertError("preview withdraw", err)
	}
	if requiredShares.Cmp(donorShares) > 0 {
		// The estimate and the live preview drifted apart. Search for
		// the largest amount the donor's shares still cover.
		amount, requiredShares, err = o.searchViableAmount(ctx, amount, donorShares)
		if err != nil {
			return nil, err
		}
	}

	allowance, err := o.cfg.Strategy.Allowance(ctx, donor, o.cfg.Orchestrator.Address())
	if err != nil {
		return nil, o.revertError("read allowance", err)
	}
	if allowance.Cmp(requiredShares) < 0 {
		return nil, &ApprovalRequiredError{
			StrategyAddress:     o.cfg.StrategyAddress,
			OrchestratorAddress: o.cfg.Orchestrator.Address(),
			RequiredShares:      requiredShares,
			CurrentAllowance:    allowance,
		}
	}

	o.log.Info("executing withdrawal",
		"donation", donation.ID,
		"donor", chain.ShortAddress(donation.DonorWalletAddress),
		"amount_base_units", amount,
		"target_chain", network.Name)
	receipt, err := o.cfg.Orchestrator.WithdrawERC20(ctx, donor, o.cfg.USDCAddress, amount, o.cfg.USDCAddress, new(big.Int), donor)
	if err != nil {
		return nil, o.revertError("withdraw", err)
	}

	outcome := &Outcome{
		SameChain:       donation.ChainID == config.BaseChainID,
		WithdrawTxHash:  receipt.TxHash.Hex(),
		AmountBaseUnits: amount.String(),
	}
	if !outcome.SameChain {
		baseNetwork, _ := chain.NetworkByID(config.BaseChainID)
		outcome.Bridge = &BridgeParams{
			SourceChain:            baseNetwork.Name,
			SourceChainID:          config.BaseChainID,
			SourceUSDCAddress:      o.cfg.USDCAddress.Hex(),
			DestinationChain:       network.Name,
			DestinationChainID:     network.ID,
			DestinationUSDCAddress: network.USDC.Hex(),
		}
	}
	return outcome, nil
}

// resolveAmount picks the asset amount to withdraw: the explicit
// request, or the donor's maximum as shares*totalAssets/totalSupply
// (1:1 when nothing has been minted yet).
func (o *Orchestrator) resolveAmount(ctx context.Context, explicit string, donorShares *big.Int) (*big.Int, error) {
	if explicit != "" {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(explicit), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("invalid withdrawal amount %q", explicit)
		}
		return amount, nil
	}

	totalAssets, err := o.cfg.Strategy.TotalAssets(ctx)
	if err != nil {
		return nil, o.revertError("read total assets", err)
	}
	totalSupply, err := o.cfg.Strategy.TotalSupply(ctx)
	if err != nil {
		return nil, o.revertError("read total supply", err)
	}
	if totalSupply.Sign() == 0 {
		return new(big.Int).Set(donorShares), nil
	}
	amount := new(big.Int).Mul(donorShares, totalAssets)
	return amount.Quo(amount, totalSupply), nil
}

// searchViableAmount binary-searches (0, estimate] for the largest
// asset amount whose live required-shares preview stays within the
// donor's balance. Previews are memoized per candidate, bounded by
// iteration and call caps, and spaced out to stay under provider rate
// limits.
func (o *Orchestrator) searchViableAmount(ctx context.Context, estimate, donorShares *big.Int) (*big.Int, *big.Int, error) {
	memo := make(map[string]*big.Int)
	calls := 0

	preview := func(amount *big.Int) (*big.Int, error) {
		if shares, ok := memo[amount.String()]; ok {
			return shares, nil
		}
		if calls >= o.cfg.SearchMaxPreviewCalls {
			return nil, fmt.Errorf("share search exceeded %d preview calls", o.cfg.SearchMaxPreviewCalls)
		}
		if calls > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-o.cfg.Clock.After(o.cfg.SearchDelay):
			}
		}
		calls++
		shares, err := o.cfg.Strategy.PreviewWithdraw(ctx, amount)
		if err != nil {
			return nil, o.revertError("preview withdraw", err)
		}
		memo[amount.String()] = shares
		return shares, nil
	}

	lo := new(big.Int)
	hi := new(big.Int).Set(estimate)
	iterations := 0
	for lo.Cmp(hi) < 0 && iterations < o.cfg.SearchMaxIterations {
		iterations++
		// Upper midpoint so the search converges onto the largest
		// viable amount rather than looping.
		mid := new(big.Int).Add(lo, hi)
		mid.Add(mid, big.NewInt(1))
		mid.Rsh(mid, 1)

		shares, err := preview(mid)
		if err != nil {
			break
		}
		if shares.Cmp(donorShares) <= 0 {
			lo.Set(mid)
		} else {
			hi.Sub(mid, big.NewInt(1))
		}
	}
	metrics.WithdrawalSearchIterations.Observe(float64(iterations))

	if lo.Sign() == 0 {
		return nil, nil, &NoWithdrawableAssetsError{EstimatedMax: estimate}
	}
	shares, ok := memo[lo.String()]
	if !ok {
		// The caps cut the search off before the low bound was
		// previewed; it came from the estimate, not a live preview,
		// so it cannot be trusted.
		return nil, nil, &NoWithdrawableAssetsError{EstimatedMax: estimate}
	}
	o.log.Debug("share search converged", "amount", lo, "required_shares", shares, "iterations", iterations, "previews", calls)
	return lo, shares, nil
}

// revertError decodes a reverted call's payload against the strategy
// interface first, then the orchestrator's. Undecodable reverts keep
// the raw error.
func (o *Orchestrator) revertError(op string, err error) error {
	if decoded := chain.DecodeRevert(err, o.cfg.Strategy.ABI(), o.cfg.Orchestrator.ABI()); decoded != "" {
		return fmt.Errorf("%s: %s", op, decoded)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func withdrawalOutcomeLabel(outcome *Outcome, err error) string {
	switch {
	case err == nil && outcome != nil && !outcome.SameChain:
		return "bridge_required"
	case err == nil:
		return "completed"
	case errors.As(err, new(*ApprovalRequiredError)):
		return "approval_required"
	case errors.Is(err, ErrDonationNotFound),
		errors.Is(err, ErrAlreadyWithdrawn),
		errors.Is(err, ErrDonorMismatch),
		errors.Is(err, ErrUnsupportedChain),
		errors.Is(err, ErrNoShares):
		return "rejected"
	default:
		return "error"
	}
}
