package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/SamFelix03/OnlyYield/internal/bridge"
	"github.com/SamFelix03/OnlyYield/internal/chain"
	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/SamFelix03/OnlyYield/internal/distributor"
	"github.com/SamFelix03/OnlyYield/internal/funds"
	"github.com/SamFelix03/OnlyYield/internal/ledger"
	"github.com/SamFelix03/OnlyYield/internal/metrics"
	"github.com/SamFelix03/OnlyYield/internal/server"
	"github.com/SamFelix03/OnlyYield/internal/withdrawal"
	"github.com/SamFelix03/OnlyYield/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", "", "env file to load before reading configuration")
	listenAddrFlag := flag.String("listen-addr", "", "HTTP listen address (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", "", "prometheus metrics listen address (or set METRICS_ADDR env var)")
	migrateFlag := flag.Bool("migrate", false, "run ledger database migrations on startup")
	flag.Parse()

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
		}
	} else {
		_ = godotenv.Load()
	}

	log := logger.New(*verboseFlag)
	log.Info("starting onlyyield api", "version", version, "commit", commit)

	cfg := config.LoadFromEnv()
	cfg.Logger = log
	if *listenAddrFlag != "" {
		cfg.ListenAddr = *listenAddrFlag
	}
	if *metricsAddrFlag != "" {
		cfg.MetricsAddr = *metricsAddrFlag
	}
	if *migrateFlag {
		cfg.Postgres.RunMigrations = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Postgres.Validate(); err != nil {
		return err
	}
	if cfg.VaultAddress == "" {
		return fmt.Errorf("YIELD_VAULT_ADDRESS is required")
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     version,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		})
		if err != nil {
			log.Warn("failed to initialize sentry, continuing without it", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	operator, err := chain.NewOperator(cfg.OperatorPrivateKey)
	if err != nil {
		return err
	}
	client, err := chain.Dial(ctx, log, cfg.RPCURL, operator)
	if err != nil {
		return err
	}
	log.Info("connected to rpc", "chain_id", client.ChainID(), "operator", operator.Address().Hex())

	store, err := ledger.Connect(ctx, log, cfg.Postgres)
	if err != nil {
		return err
	}
	defer store.Close()

	usdc := chain.NewERC20(client, common.HexToAddress(cfg.USDCAddress))
	strategy := chain.NewStrategy(client, common.HexToAddress(cfg.StrategyAddress))
	orchestrator := chain.NewOrchestrator(client, common.HexToAddress(cfg.OrchestratorAddress))
	vault := chain.NewVault(client, common.HexToAddress(cfg.VaultAddress))

	lifi, err := bridge.NewClient(bridge.ClientConfig{
		Logger:     log,
		BaseURL:    cfg.LIFIBaseURL,
		Integrator: cfg.LIFIIntegrator,
		Slippage:   cfg.LIFISlippage,
	})
	if err != nil {
		return err
	}
	executor, err := bridge.NewExecutor(bridge.ExecutorConfig{
		Logger: log,
		API:    lifi,
		Sender: client,
	})
	if err != nil {
		return err
	}

	supplement, ok := new(big.Int).SetString(cfg.SupplementPerRecipient, 10)
	if !ok {
		return fmt.Errorf("invalid SUPPLEMENT_PER_RECIPIENT_BASE_UNITS %q", cfg.SupplementPerRecipient)
	}

	runner, err := distributor.NewRunner(distributor.RunnerConfig{
		Logger:                 log,
		Ledger:                 store,
		Harvester:              orchestrator,
		Yield:                  strategy,
		USDC:                   usdc,
		Quoter:                 lifi,
		Bridge:                 executor,
		Operator:               operator.Address(),
		StrategyAddress:        strategy.Address(),
		SupplementPerRecipient: supplement,
		SettleDelay:            cfg.SettleDelay,
	})
	if err != nil {
		return err
	}

	withdrawer, err := withdrawal.NewOrchestrator(withdrawal.Config{
		Logger:          log,
		Ledger:          store,
		Strategy:        strategy,
		Orchestrator:    orchestrator,
		StrategyAddress: strategy.Address(),
		USDCAddress:     usdc.Address(),
	})
	if err != nil {
		return err
	}

	fundsManager, err := funds.NewManager(funds.Config{
		Logger:        log,
		Vault:         vault,
		USDCAddress:   usdc.Address(),
		SupplyPercent: cfg.SupplyToPoolPercent,
	})
	if err != nil {
		return err
	}

	srv, err := server.NewServer(server.Config{
		Logger:     log,
		ListenAddr: cfg.ListenAddr,
		Store:      store,
		Runner:     runner,
		Withdrawer: withdrawer,
		Funds:      fundsManager,
		Build:      server.BuildInfo{Version: version, Commit: commit, Date: date},
	})
	if err != nil {
		return err
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if cfg.MetricsAddr != "" {
		go serveMetrics(log, cfg.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		sentry.CaptureException(err)
		return err
	}
	log.Info("onlyyield api stopped")
	return nil
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start prometheus metrics listener", "error", err)
		return
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("prometheus metrics server error", "error", err)
	}
}
