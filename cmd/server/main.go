package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/nftmarket/service/chain"
	"github.com/brojonat/nftmarket/service/config"
	"github.com/brojonat/nftmarket/service/market"
	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/server"
	"github.com/brojonat/nftmarket/service/storage"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/brojonat/nftmarket/service/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Chain: one RPC connection shared by reads and receipt polling.
	node, err := chain.Dial(ctx, cfg.EthRPCURL, common.HexToAddress(cfg.MarketAddress), cfg.ChainID)
	if err != nil {
		logger.Error("failed to connect to chain", "error", err)
		os.Exit(1)
	}
	defer node.Close()
	gateway := chain.NewGateway(common.HexToAddress(cfg.MarketAddress), node.Contract, metricsCollector, logger)
	logger.Info("connected to chain",
		"chain_id", node.ChainID.String(),
		"market", cfg.MarketAddress,
	)

	// Wallet: optional. Without one the service is read-only.
	provider, err := wallet.NewProviderFromConfig(cfg)
	if err != nil {
		logger.Error("failed to open wallet", "error", err)
		os.Exit(1)
	}
	if ok, err := wallet.Preauthorize(provider, cfg.WalletPassphrase); err != nil {
		logger.Error("failed to preauthorize wallet", "error", err)
		os.Exit(1)
	} else if ok {
		logger.Info("wallet preauthorized from configuration", "provider", provider.Name())
	}

	store := storage.NewClient(storage.Config{
		APIURL:        cfg.IPFSAPIURL,
		GatewayURL:    cfg.IPFSGatewayURL,
		ProjectID:     cfg.IPFSProjectID,
		ProjectSecret: cfg.IPFSProjectSecret,
		Timeout:       cfg.StorageTimeout,
	}, nil, metricsCollector, logger)

	deps := market.Deps{
		Wallet: wallet.NewGateway(provider, metricsCollector, logger),
		Store:  store,
		Reader: gateway,
		NewWriter: func(opts *bind.TransactOpts) market.ContractWriter {
			return gateway.WithSigner(opts, node.Client, chain.WriterConfig{
				ConfirmationTimeout: cfg.ConfirmationTimeout,
			})
		},
	}

	// NATS: optional event fan-out and SSE.
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Events = publisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, market events are not published")
	}

	orchestrator := market.New(deps, market.Config{
		ChainID:          node.ChainID,
		Currency:         cfg.Currency,
		FetchConcurrency: cfg.MetadataFetchConcurrency,
	}, metricsCollector, logger)
	orchestrator.OnInvalidate(func(account string) {
		logger.Info("wallet account changed, cached listings are stale", "account", account)
	})
	if _, err := orchestrator.Restore(ctx); err != nil {
		logger.Warn("failed to restore wallet connection", "error", err)
	}

	// Temporal: optional durable listing creation.
	var workflows server.WorkflowClient
	if cfg.TemporalEnabled {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		workflows = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
		)
	}

	httpServer := server.New(cfg.ServerAddr, orchestrator, workflows, ssePublisher, metricsCollector, logger).
		WithCORSOrigins(cfg.CORSOrigins).
		WithVersion(version)

	logger.Info("server initialized, all dependencies ready",
		"eth_rpc", redact(cfg.EthRPCURL),
		"ipfs_api", cfg.IPFSAPIURL,
		"has_wallet", orchestrator.HasWallet(),
		"temporal_enabled", cfg.TemporalEnabled,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// redact drops the path of an RPC URL, which often carries an API key.
func redact(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Scheme + "://" + parsed.Host
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
