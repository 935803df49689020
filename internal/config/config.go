package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseChainID is the chain the vault, strategy and orchestrator
	// contracts are deployed on. All settlement originates here.
	BaseChainID = int64(8453)

	DefaultListenAddr      = ":8080"
	DefaultMetricsAddr     = ":9090"
	DefaultRPCURL          = "https://mainnet.base.org"
	DefaultLIFIBaseURL     = "https://li.quest/v1"
	DefaultLIFIIntegrator  = "creator-support"
	DefaultLIFISlippage    = 0.03
	DefaultCycleInterval   = 2 * time.Minute
	DefaultSettleDelay     = 1500 * time.Millisecond
	DefaultSupplyPercent   = 5
	DefaultSupplementUnits = "100000" // 0.1 USDC at 6 decimals, per recipient
)

// Config holds the full operator configuration. Everything the
// orchestrators need is carried here explicitly; nothing reads the
// environment after startup.
type Config struct {
	Logger *slog.Logger

	// Base chain RPC and contract addresses.
	RPCURL              string
	OperatorPrivateKey  string
	USDCAddress         string
	StrategyAddress     string
	OrchestratorAddress string
	VaultAddress        string

	// Yield distribution.
	SupplementPerRecipient string // base units added per recipient on top of harvested yield
	CycleInterval          time.Duration
	SettleDelay            time.Duration

	// Bridge provider.
	LIFIBaseURL    string
	LIFIIntegrator string
	LIFISlippage   float64

	// Vault fund management.
	SupplyToPoolPercent int

	// HTTP.
	ListenAddr  string
	MetricsAddr string

	Postgres PostgresConfig
}

// PostgresConfig holds the ledger database configuration.
type PostgresConfig struct {
	Host          string
	Port          string
	Database      string
	Username      string
	Password      string
	SSLMode       string
	RunMigrations bool
}

// LoadFromEnv builds a Config from environment variables, applying
// defaults for everything optional.
func LoadFromEnv() Config {
	cfg := Config{
		RPCURL:                 envOr("BASE_MAINNET_RPC_URL", DefaultRPCURL),
		OperatorPrivateKey:     strings.TrimSpace(os.Getenv("OPERATOR_PRIVATE_KEY")),
		USDCAddress:            strings.TrimSpace(os.Getenv("USDC_ADDRESS")),
		StrategyAddress:        strings.TrimSpace(os.Getenv("YIELD_STRATEGY_ADDRESS")),
		OrchestratorAddress:    strings.TrimSpace(os.Getenv("YIELD_ORCHESTRATOR_ADDRESS")),
		VaultAddress:           strings.TrimSpace(os.Getenv("YIELD_VAULT_ADDRESS")),
		SupplementPerRecipient: envOr("SUPPLEMENT_PER_RECIPIENT_BASE_UNITS", DefaultSupplementUnits),
		CycleInterval:          envDurationOr("DISTRIBUTION_INTERVAL", DefaultCycleInterval),
		SettleDelay:            DefaultSettleDelay,
		LIFIBaseURL:            envOr("LIFI_BASE_URL", DefaultLIFIBaseURL),
		LIFIIntegrator:         envOr("LIFI_INTEGRATOR", DefaultLIFIIntegrator),
		LIFISlippage:           DefaultLIFISlippage,
		SupplyToPoolPercent:    envIntOr("SUPPLY_TO_POOL_PERCENT", DefaultSupplyPercent),
		ListenAddr:             envOr("LISTEN_ADDR", DefaultListenAddr),
		MetricsAddr:            envOr("METRICS_ADDR", DefaultMetricsAddr),
		Postgres: PostgresConfig{
			Host:          envOr("POSTGRES_HOST", "localhost"),
			Port:          envOr("POSTGRES_PORT", "5432"),
			Database:      os.Getenv("POSTGRES_DB"),
			Username:      os.Getenv("POSTGRES_USER"),
			Password:      os.Getenv("POSTGRES_PASSWORD"),
			SSLMode:       envOr("POSTGRES_SSLMODE", "disable"),
			RunMigrations: os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true",
		},
	}
	if cfg.SupplyToPoolPercent < 0 {
		cfg.SupplyToPoolPercent = 0
	}
	if cfg.SupplyToPoolPercent > 100 {
		cfg.SupplyToPoolPercent = 100
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.OperatorPrivateKey == "" {
		return fmt.Errorf("OPERATOR_PRIVATE_KEY is required")
	}
	if c.USDCAddress == "" {
		return fmt.Errorf("USDC_ADDRESS is required")
	}
	if c.StrategyAddress == "" {
		return fmt.Errorf("YIELD_STRATEGY_ADDRESS is required")
	}
	if c.OrchestratorAddress == "" {
		return fmt.Errorf("YIELD_ORCHESTRATOR_ADDRESS is required")
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("distribution interval must be positive")
	}
	if c.LIFISlippage <= 0 || c.LIFISlippage >= 1 {
		return fmt.Errorf("slippage must be in (0, 1)")
	}
	return nil
}

func (p *PostgresConfig) Validate() error {
	if p.Database == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if p.Username == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if p.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	return nil
}

// ConnString returns the pgx connection string for the ledger database.
func (p *PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
