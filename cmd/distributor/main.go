package main

import (
	"context"
	"errors"
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

	"github.com/SamFelix03/OnlyYield/internal/bridge"
	"github.com/SamFelix03/OnlyYield/internal/chain"
	"github.com/SamFelix03/OnlyYield/internal/config"
	"github.com/SamFelix03/OnlyYield/internal/distributor"
	"github.com/SamFelix03/OnlyYield/internal/ledger"
	"github.com/SamFelix03/OnlyYield/internal/metrics"
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
	intervalFlag := flag.Duration("interval", 0, "distribution cycle interval (or set DISTRIBUTION_INTERVAL env var)")
	metricsAddrFlag := flag.String("metrics-addr", "", "prometheus metrics listen address (or set METRICS_ADDR env var)")
	onceFlag := flag.Bool("once", false, "run a single distribution cycle and exit")
	flag.Parse()

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
		}
	} else {
		_ = godotenv.Load()
	}

	log := logger.New(*verboseFlag)
	log.Info("starting onlyyield distributor", "version", version, "commit", commit)

	cfg := config.LoadFromEnv()
	cfg.Logger = log
	if *intervalFlag > 0 {
		cfg.CycleInterval = *intervalFlag
	}
	if *metricsAddrFlag != "" {
		cfg.MetricsAddr = *metricsAddrFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Postgres.Validate(); err != nil {
		return err
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

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if cfg.MetricsAddr != "" {
		go serveMetrics(log, cfg.MetricsAddr)
	}

	if *onceFlag {
		res, err := runner.RunCycle(ctx)
		if err != nil {
			sentry.CaptureException(err)
			return err
		}
		log.Info("distribution cycle complete", "processed", res.ProcessedCount, "transactions", len(res.Transactions))
		return nil
	}

	scheduler, err := distributor.NewScheduler(distributor.SchedulerConfig{
		Logger:   log,
		Runner:   runner,
		Interval: cfg.CycleInterval,
	})
	if err != nil {
		return err
	}

	err = scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("onlyyield distributor stopped")
		return nil
	}
	if err != nil {
		sentry.CaptureException(err)
	}
	return err
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
