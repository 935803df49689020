package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/SamFelix03/OnlyYield/internal/bridge"
	"github.com/SamFelix03/OnlyYield/internal/chain"
	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/SamFelix03/OnlyYield/internal/ledger"
	"github.com/SamFelix03/OnlyYield/internal/metrics"
	"github.com/SamFelix03/OnlyYield/internal/split"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrCycleInProgress is returned when a cycle is requested while
// another one holds the slot. Cycles never overlap.
var ErrCycleInProgress = errors.New("distribution cycle already in progress")

// Ledger is the bookkeeping surface the runner needs. *ledger.Store
// satisfies it.
type Ledger interface {
	ListActiveDonations(ctx context.Context) ([]ledger.Donation, error)
	SelectionsForDonation(ctx context.Context, donationID uuid.UUID) ([]string, error)
	RecipientsByAddresses(ctx context.Context, addresses []string) (map[string]ledger.Recipient, error)
	InsertYieldDistribution(ctx context.Context, d ledger.YieldDistribution) error
}

// Harvester reports accrued yield into the strategy.
// *chain.Orchestrator satisfies it.
type Harvester interface {
	HarvestStrategy(ctx context.Context, strategy common.Address) (*types.Receipt, error)
}

// YieldSource exposes per-donor yield on the strategy. *chain.Strategy
// satisfies it.
type YieldSource interface {
	GetUserYield(ctx context.Context, user common.Address) (*big.Int, error)
	ClaimUserYield(ctx context.Context, user common.Address) (*types.Receipt, error)
	ClaimedAmountFromReceipt(receipt *types.Receipt, user, claimer common.Address) (*big.Int, bool)
}

// Token moves the payout asset on the settlement chain. *chain.ERC20
// satisfies it.
type Token interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Receipt, error)
}

// RouteQuoter quotes cross-chain routes. *bridge.Client satisfies it.
type RouteQuoter interface {
	QuoteRoute(ctx context.Context, req bridge.RouteRequest) (*bridge.Route, error)
}

// RouteRunner executes quoted routes. *bridge.Executor satisfies it.
type RouteRunner interface {
	Execute(ctx context.Context, route *bridge.Route, fromChainID, toChainID int64, onUpdate func(bridge.StepUpdate)) (*bridge.Execution, bridge.StatusKind, error)
}

// RunnerConfig holds distribution cycle configuration.
type RunnerConfig struct {
	Logger    *slog.Logger
	Ledger    Ledger
	Harvester Harvester
	Yield     YieldSource
	USDC      Token
	Quoter    RouteQuoter
	Bridge    RouteRunner

	Operator        common.Address
	StrategyAddress common.Address

	// SupplementPerRecipient is added on top of claimed yield, per
	// selected recipient, so every recipient receives a meaningful
	// amount even when accrued yield rounds to zero.
	SupplementPerRecipient *big.Int
	TokenDecimals          uint8

	// SettleDelay is how long to wait after claiming before reading
	// the operator balance, so the RPC node has caught up.
	SettleDelay time.Duration

	Clock clockwork.Clock
}

func (c *RunnerConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.Harvester == nil {
		return fmt.Errorf("harvester is required")
	}
	if c.Yield == nil {
		return fmt.Errorf("yield source is required")
	}
	if c.USDC == nil {
		return fmt.Errorf("token is required")
	}
	if c.Quoter == nil {
		return fmt.Errorf("route quoter is required")
	}
	if c.Bridge == nil {
		return fmt.Errorf("route runner is required")
	}
	if c.SupplementPerRecipient == nil {
		c.SupplementPerRecipient = new(big.Int)
	}
	if c.SupplementPerRecipient.Sign() < 0 {
		return fmt.Errorf("supplement per recipient must not be negative")
	}
	if c.TokenDecimals == 0 {
		c.TokenDecimals = 6
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = config.DefaultSettleDelay
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Transaction records one on-chain action taken during a cycle.
type Transaction struct {
	Type         string `json:"type"` // harvest, claim, transfer, bridge
	Hash         string `json:"hash"`
	Description  string `json:"description"`
	ExplorerLink string `json:"explorer_link,omitempty"`
}

// CycleResult is the outcome of one distribution cycle.
type CycleResult struct {
	OK             bool          `json:"ok"`
	Logs           []string      `json:"logs"`
	Transactions   []Transaction `json:"transactions"`
	ProcessedCount int           `json:"processed_count"`
	Error          string        `json:"error,omitempty"`
}

func (r *CycleResult) logf(format string, args ...any) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

func (r *CycleResult) addTx(txType, hash, description, explorerLink string) {
	r.Transactions = append(r.Transactions, Transaction{
		Type:         txType,
		Hash:         hash,
		Description:  description,
		ExplorerLink: explorerLink,
	})
}

// Runner executes yield distribution cycles. At most one cycle runs at
// a time; concurrent requests get ErrCycleInProgress instead of
// queueing.
type Runner struct {
	log *slog.Logger
	cfg RunnerConfig

	mu sync.Mutex // the single cycle slot
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{log: cfg.Logger, cfg: cfg}, nil
}

// RunCycle harvests the strategy and settles every active donation's
// yield to its selected recipients. Harvest failure aborts the cycle;
// everything after it is per-donation and per-recipient best-effort.
func (r *Runner) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !r.mu.TryLock() {
		metrics.DistributionCyclesTotal.WithLabelValues("busy").Inc()
		return nil, ErrCycleInProgress
	}
	defer r.mu.Unlock()

	start := r.cfg.Clock.Now()
	res := &CycleResult{}
	err := r.runCycle(ctx, res)
	metrics.RecordCycle(r.cfg.Clock.Since(start), res.ProcessedCount, err)
	if err != nil {
		res.OK = false
		res.Error = err.Error()
		r.log.Error("distribution cycle failed", "error", err, "processed", res.ProcessedCount)
		return res, err
	}
	res.OK = true
	r.log.Info("distribution cycle complete", "processed", res.ProcessedCount, "transactions", len(res.Transactions))
	return res, nil
}

func (r *Runner) runCycle(ctx context.Context, res *CycleResult) error {
	res.logf("[1/4] Harvesting strategy...")
	receipt, err := r.cfg.Harvester.HarvestStrategy(ctx, r.cfg.StrategyAddress)
	if err != nil {
		return fmt.Errorf("harvest strategy: %w", err)
	}
	harvestHash := receipt.TxHash.Hex()
	res.addTx("harvest", harvestHash, "Harvest strategy", "")
	res.logf("Harvested: %s", harvestHash)

	res.logf("[2/4] Fetching active donations...")
	donations, err := r.cfg.Ledger.ListActiveDonations(ctx)
	if err != nil {
		return fmt.Errorf("list active donations: %w", err)
	}
	if len(donations) == 0 {
		res.logf("No active donations found")
		return nil
	}
	res.logf("Found %d active donation(s)", len(donations))

	for _, donation := range donations {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.processDonation(ctx, res, donation)
	}
	return nil
}

// processDonation settles one donation's yield. Failures skip the
// donation rather than aborting the cycle.
func (r *Runner) processDonation(ctx context.Context, res *CycleResult, donation ledger.Donation) {
	donor := common.HexToAddress(donation.DonorWalletAddress)

	selections, err := r.cfg.Ledger.SelectionsForDonation(ctx, donation.ID)
	if err != nil {
		res.logf("Donation %s: error fetching recipients: %v", donation.ID, err)
		return
	}
	if len(selections) == 0 {
		res.logf("Donation %s: no recipients selected; skipping", donation.ID)
		return
	}

	recipients, err := r.cfg.Ledger.RecipientsByAddresses(ctx, selections)
	if err != nil {
		// Preferred chains default to Base when the lookup fails.
		r.log.Warn("recipient lookup failed, defaulting preferred chains", "donation", donation.ID, "error", err)
		recipients = map[string]ledger.Recipient{}
	}

	estYield, err := r.cfg.Yield.GetUserYield(ctx, donor)
	if err != nil {
		res.logf("Donation %s: yield lookup failed: %v; skipping", donation.ID, err)
		return
	}

	res.logf("[3/4] Processing donation %s (donor: %s)", donation.ID, chain.ShortAddress(donation.DonorWalletAddress))
	res.logf("  Accrued yield: %s USDC", chain.FormatUnits(estYield, r.cfg.TokenDecimals))
	res.logf("  Recipients: %d", len(selections))

	supplement := new(big.Int).Mul(r.cfg.SupplementPerRecipient, big.NewInt(int64(len(selections))))
	distribution := new(big.Int).Set(supplement)
	res.logf("  Supplement: %s USDC per recipient (%s USDC total)",
		chain.FormatUnits(r.cfg.SupplementPerRecipient, r.cfg.TokenDecimals),
		chain.FormatUnits(supplement, r.cfg.TokenDecimals))

	// Claim accrued yield when there is any. Claim failure is not
	// fatal: the supplement still goes out.
	claimHash := ""
	if estYield.Sign() > 0 {
		receipt, err := r.cfg.Yield.ClaimUserYield(ctx, donor)
		if err != nil {
			res.logf("  Could not claim yield (%v), proceeding with supplement only", err)
		} else {
			claimHash = receipt.TxHash.Hex()
			res.addTx("claim", claimHash, fmt.Sprintf("Claim yield for donation %s", donation.ID), "")
			res.logf("  Claimed yield: %s", claimHash)
			if claimed, ok := r.cfg.Yield.ClaimedAmountFromReceipt(receipt, donor, r.cfg.Operator); ok {
				distribution.Add(distribution, claimed)
				res.logf("  Claimed amount: %s USDC", chain.FormatUnits(claimed, r.cfg.TokenDecimals))
			}
		}
	} else {
		res.logf("  No accrued yield to claim, distributing supplement only")
	}

	// Let the RPC node catch up before reading the operator balance.
	select {
	case <-ctx.Done():
		return
	case <-r.cfg.Clock.After(r.cfg.SettleDelay):
	}

	balance, err := r.cfg.USDC.BalanceOf(ctx, r.cfg.Operator)
	if err != nil {
		res.logf("Donation %s: operator balance read failed: %v; skipping", donation.ID, err)
		return
	}
	if balance.Cmp(distribution) < 0 {
		res.logf("  Operator balance (%s USDC) below required (%s USDC); distributing available balance",
			chain.FormatUnits(balance, r.cfg.TokenDecimals),
			chain.FormatUnits(distribution, r.cfg.TokenDecimals))
		distribution = balance
	}
	if distribution.Sign() == 0 {
		res.logf("  Operator balance is 0; cannot distribute")
		return
	}

	res.logf("[4/4] Distributing %s USDC to %d recipient(s)...",
		chain.FormatUnits(distribution, r.cfg.TokenDecimals), len(selections))
	for _, share := range split.Equal(distribution, selections) {
		if share.Amount.Sign() == 0 {
			continue
		}
		r.settleShare(ctx, res, donation, claimHash, share, recipients)
	}
	res.ProcessedCount++
}

// settleShare pays one recipient their share, directly on Base or via
// a bridge to the recipient's preferred chain. Failures skip the
// recipient.
func (r *Runner) settleShare(ctx context.Context, res *CycleResult, donation ledger.Donation, claimHash string, share split.Share, recipients map[string]ledger.Recipient) {
	preferred := chain.DefaultNetworkKey
	if rec, ok := recipients[strings.ToLower(share.Recipient)]; ok && rec.PreferredChain != nil && *rec.PreferredChain != "" {
		preferred = *rec.PreferredChain
	}
	network, ok := chain.NetworkByKey(preferred)
	if !ok {
		res.logf("  Invalid preferred chain %q for %s; skipping", preferred, chain.ShortAddress(share.Recipient))
		metrics.DistributionTransfersTotal.WithLabelValues("bridge", "skipped").Inc()
		return
	}

	amountHuman := chain.FormatUnits(share.Amount, r.cfg.TokenDecimals)
	if network.ID == config.BaseChainID {
		receipt, err := r.cfg.USDC.Transfer(ctx, common.HexToAddress(share.Recipient), share.Amount)
		if err != nil {
			res.logf("  Transfer to %s failed: %v; skipping", chain.ShortAddress(share.Recipient), err)
			metrics.DistributionTransfersTotal.WithLabelValues("direct", "error").Inc()
			return
		}
		hash := receipt.TxHash.Hex()
		res.addTx("transfer", hash, fmt.Sprintf("Transfer %s USDC to %s (Base)", amountHuman, chain.ShortAddress(share.Recipient)), "")
		res.logf("  Sent %s USDC to %s on Base (%s)", amountHuman, chain.ShortAddress(share.Recipient), hash)
		metrics.DistributionTransfersTotal.WithLabelValues("direct", "success").Inc()
		r.recordDistribution(ctx, res, donation, share, claimHash, hash, config.BaseChainID)
		return
	}

	res.logf("  Bridging %s USDC to %s for %s...", amountHuman, network.Name, chain.ShortAddress(share.Recipient))
	baseNetwork, _ := chain.NetworkByID(config.BaseChainID)
	route, err := r.cfg.Quoter.QuoteRoute(ctx, bridge.RouteRequest{
		FromChainID:      config.BaseChainID,
		ToChainID:        network.ID,
		FromTokenAddress: baseNetwork.USDC.Hex(),
		ToTokenAddress:   network.USDC.Hex(),
		FromAddress:      r.cfg.Operator.Hex(),
		ToAddress:        share.Recipient,
		FromAmount:       share.Amount,
	})
	if errors.Is(err, bridge.ErrNoRoute) {
		res.logf("  No route found to %s; skipping", network.Name)
		metrics.BridgeRoutesTotal.WithLabelValues("no_route").Inc()
		metrics.DistributionTransfersTotal.WithLabelValues("bridge", "skipped").Inc()
		return
	}
	if err != nil {
		res.logf("  Route quote to %s failed: %v; skipping", network.Name, err)
		metrics.BridgeRoutesTotal.WithLabelValues("error").Inc()
		metrics.DistributionTransfersTotal.WithLabelValues("bridge", "error").Inc()
		return
	}
	metrics.BridgeRoutesTotal.WithLabelValues("success").Inc()
	res.logf("  Route found: %d step(s)", len(route.Steps))

	exec, kind, err := r.cfg.Bridge.Execute(ctx, route, config.BaseChainID, network.ID, func(u bridge.StepUpdate) {
		if u.TxHash != "" {
			res.logf("  Step %s: %s", u.StepID, u.TxHash)
		}
	})
	if err != nil {
		res.logf("  Bridge to %s failed: %v; continuing", network.Name, err)
		metrics.BridgeTransfersTotal.WithLabelValues(network.Key, "failed").Inc()
		metrics.DistributionTransfersTotal.WithLabelValues("bridge", "error").Inc()
		return
	}
	metrics.BridgeTransfersTotal.WithLabelValues(network.Key, kind.String()).Inc()
	metrics.DistributionTransfersTotal.WithLabelValues("bridge", "success").Inc()

	hash, _ := exec.ResolveHash()
	res.addTx("bridge", hash, fmt.Sprintf("Bridge %s USDC to %s for %s", amountHuman, network.Name, chain.ShortAddress(share.Recipient)), exec.ExplorerLink)
	if exec.ExplorerLink != "" {
		res.logf("  Explorer: %s", exec.ExplorerLink)
	}
	res.logf("  Bridged %s USDC to %s for %s (%s)", amountHuman, network.Name, chain.ShortAddress(share.Recipient), hash)
	r.recordDistribution(ctx, res, donation, share, claimHash, hash, network.ID)
}

// recordDistribution appends the ledger row for one settled share.
// Ledger failure is logged, never propagated: the funds already moved.
func (r *Runner) recordDistribution(ctx context.Context, res *CycleResult, donation ledger.Donation, share split.Share, claimHash, moveHash string, chainID int64) {
	transferHash := chain.ExtractTxHash(moveHash)

	// claimed_tx_hash is NOT NULL in the ledger; fall back to the
	// movement hash when no claim ran this cycle.
	claimed := chain.ExtractTxHash(claimHash)
	if claimed == "" {
		claimed = transferHash
	}
	if claimed == "" {
		claimed = bridge.PendingHashPlaceholder
	}

	row := ledger.YieldDistribution{
		ChainID:                chainID,
		DonationID:             donation.ID,
		DonorWalletAddress:     donation.DonorWalletAddress,
		RecipientWalletAddress: share.Recipient,
		ClaimedTxHash:          claimed,
		TransferTxHash:         &transferHash,
		AmountBaseUnits:        share.Amount.String(),
		Amount:                 chain.FormatUnits(share.Amount, r.cfg.TokenDecimals),
	}
	if err := r.cfg.Ledger.InsertYieldDistribution(ctx, row); err != nil {
		res.logf("  Failed to record yield distribution: %v", err)
		return
	}
	res.logf("  Recorded yield distribution (chain: %d, tx: %s)", chainID, transferHash)
}
