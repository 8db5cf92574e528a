package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/nftmarket/service/chain"
	"github.com/brojonat/nftmarket/service/config"
	"github.com/brojonat/nftmarket/service/market"
	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/storage"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/brojonat/nftmarket/service/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	node, err := chain.Dial(ctx, cfg.EthRPCURL, common.HexToAddress(cfg.MarketAddress), cfg.ChainID)
	if err != nil {
		logger.Error("failed to connect to chain", "error", err)
		os.Exit(1)
	}
	defer node.Close()
	gateway := chain.NewGateway(common.HexToAddress(cfg.MarketAddress), node.Contract, metricsCollector, logger)

	// The worker signs every listing it submits, so a wallet is mandatory.
	provider, err := wallet.NewProviderFromConfig(cfg)
	if err != nil {
		logger.Error("failed to open wallet", "error", err)
		os.Exit(1)
	}
	if provider == nil {
		logger.Error("worker requires WALLET_KEYSTORE_DIR or WALLET_MNEMONIC")
		os.Exit(1)
	}
	if _, err := wallet.Preauthorize(provider, cfg.WalletPassphrase); err != nil {
		logger.Error("failed to preauthorize wallet", "error", err)
		os.Exit(1)
	}

	deps := market.Deps{
		Wallet: wallet.NewGateway(provider, metricsCollector, logger),
		Store: storage.NewClient(storage.Config{
			APIURL:        cfg.IPFSAPIURL,
			GatewayURL:    cfg.IPFSGatewayURL,
			ProjectID:     cfg.IPFSProjectID,
			ProjectSecret: cfg.IPFSProjectSecret,
			Timeout:       cfg.StorageTimeout,
		}, nil, metricsCollector, logger),
		Reader: gateway,
		NewWriter: func(opts *bind.TransactOpts) market.ContractWriter {
			return gateway.WithSigner(opts, node.Client, chain.WriterConfig{
				ConfirmationTimeout: cfg.ConfirmationTimeout,
			})
		},
	}

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Events = publisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	orchestrator := market.New(deps, market.Config{
		ChainID:          node.ChainID,
		Currency:         cfg.Currency,
		FetchConcurrency: cfg.MetadataFetchConcurrency,
	}, metricsCollector, logger)

	account, err := orchestrator.Restore(ctx)
	if err != nil {
		logger.Error("failed to restore wallet connection", "error", err)
		os.Exit(1)
	}
	if account == "" {
		account, err = orchestrator.Connect(ctx, wallet.Approve(cfg.WalletPassphrase))
		if err != nil {
			logger.Error("failed to connect wallet", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("worker signing as", "account", account)

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Market:            orchestrator,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"chain_id", node.ChainID.String(),
		"market", cfg.MarketAddress,
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		worker.Stop()
		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
