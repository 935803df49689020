package funds

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/SamFelix03/OnlyYield/internal/chain"
	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// VaultOps is the vault contract surface the manager needs.
// *chain.Vault satisfies it.
type VaultOps interface {
	Address() common.Address
	IdleUnderlying(ctx context.Context) (*big.Int, error)
	ATokenBalance(ctx context.Context) (*big.Int, error)
	SupplyToPool(ctx context.Context, amount *big.Int) (*types.Receipt, error)
	WithdrawFromPool(ctx context.Context, amount *big.Int) (*types.Receipt, error)
}

// Config holds vault fund management configuration.
type Config struct {
	Logger      *slog.Logger
	Vault       VaultOps
	USDCAddress common.Address

	TokenDecimals uint8

	// SupplyPercent is the share of idle underlying pushed into the
	// lending pool per Supply call, clamped to [0, 100].
	SupplyPercent int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Vault == nil {
		return fmt.Errorf("vault is required")
	}
	if c.TokenDecimals == 0 {
		c.TokenDecimals = 6
	}
	if c.SupplyPercent < 0 {
		c.SupplyPercent = 0
	}
	if c.SupplyPercent > 100 {
		c.SupplyPercent = 100
	}
	return nil
}

// Status is a point-in-time view of where the vault's underlying sits.
type Status struct {
	ChainID         int64  `json:"chain_id"`
	VaultAddress    string `json:"vault_address"`
	USDCAddress     string `json:"usdc_address"`
	Decimals        uint8  `json:"decimals"`
	IdleBaseUnits   string `json:"idle_underlying"`
	IdleFormatted   string `json:"idle_formatted"`
	PooledBaseUnits string `json:"pool_underlying"`
	PooledFormatted string `json:"pool_formatted"`
}

// MoveResult is the outcome of a supply or sweep. Skipped moves carry
// the reason instead of a transaction hash.
type MoveResult struct {
	Skipped         bool   `json:"skipped,omitempty"`
	Reason          string `json:"reason,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
	AmountBaseUnits string `json:"amount_base_units"`
}

// Manager moves the vault's underlying between the idle buffer and
// the lending pool.
type Manager struct {
	log *slog.Logger
	cfg Config
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{log: cfg.Logger, cfg: cfg}, nil
}

// Status reads the vault's idle and pooled balances.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	idle, err := m.cfg.Vault.IdleUnderlying(ctx)
	if err != nil {
		return nil, fmt.Errorf("read idle underlying: %w", err)
	}
	pooled, err := m.cfg.Vault.ATokenBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pool balance: %w", err)
	}
	return &Status{
		ChainID:         config.BaseChainID,
		VaultAddress:    m.cfg.Vault.Address().Hex(),
		USDCAddress:     m.cfg.USDCAddress.Hex(),
		Decimals:        m.cfg.TokenDecimals,
		IdleBaseUnits:   idle.String(),
		IdleFormatted:   chain.FormatUnits(idle, m.cfg.TokenDecimals),
		PooledBaseUnits: pooled.String(),
		PooledFormatted: chain.FormatUnits(pooled, m.cfg.TokenDecimals),
	}, nil
}

// Sweep pulls the vault's full pooled balance back into the idle
// buffer, making it available for distribution and withdrawals.
func (m *Manager) Sweep(ctx context.Context) (*MoveResult, error) {
	pooled, err := m.cfg.Vault.ATokenBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pool balance: %w", err)
	}
	if pooled.Sign() == 0 {
		return &MoveResult{Skipped: true, Reason: "no pooled funds", AmountBaseUnits: "0"}, nil
	}

	receipt, err := m.cfg.Vault.WithdrawFromPool(ctx, pooled)
	if err != nil {
		return nil, fmt.Errorf("withdraw from pool: %w", err)
	}
	m.log.Info("swept pooled funds back to vault",
		"amount", chain.FormatUnits(pooled, m.cfg.TokenDecimals),
		"tx_hash", receipt.TxHash.Hex())
	return &MoveResult{TxHash: receipt.TxHash.Hex(), AmountBaseUnits: pooled.String()}, nil
}

// Supply pushes the configured percentage of the vault's idle
// underlying into the lending pool.
func (m *Manager) Supply(ctx context.Context) (*MoveResult, error) {
	idle, err := m.cfg.Vault.IdleUnderlying(ctx)
	if err != nil {
		return nil, fmt.Errorf("read idle underlying: %w", err)
	}
	if idle.Sign() == 0 {
		return &MoveResult{Skipped: true, Reason: "no idle funds", AmountBaseUnits: "0"}, nil
	}

	amount := new(big.Int).Mul(idle, big.NewInt(int64(m.cfg.SupplyPercent)))
	amount.Quo(amount, big.NewInt(100))
	if amount.Sign() == 0 {
		return &MoveResult{Skipped: true, Reason: "supply amount rounds to 0", AmountBaseUnits: "0"}, nil
	}

	receipt, err := m.cfg.Vault.SupplyToPool(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("supply to pool: %w", err)
	}
	m.log.Info("supplied idle funds to pool",
		"percent", m.cfg.SupplyPercent,
		"amount", chain.FormatUnits(amount, m.cfg.TokenDecimals),
		"tx_hash", receipt.TxHash.Hex())
	return &MoveResult{TxHash: receipt.TxHash.Hex(), AmountBaseUnits: amount.String()}, nil
}
