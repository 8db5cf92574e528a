package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nftmarket/service/market"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/brojonat/nftmarket/service/wallet"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Marketplace is the orchestrator surface the API exposes.
// *market.Orchestrator implements it.
type Marketplace interface {
	State() market.State
	CurrentAccount() string
	Currency() string
	HasWallet() bool
	Connect(ctx context.Context, approve wallet.Approver) (string, error)
	UploadAsset(ctx context.Context, name string, payload []byte) (string, error)
	CreateNFT(ctx context.Context, in market.CreateInput, onCreated func(*market.CreateResult)) (*market.CreateResult, error)
	ResellNFT(ctx context.Context, tokenID, price string) (*market.CreateResult, error)
	FetchNFTs(ctx context.Context) ([]market.MarketItem, error)
}

// WorkflowClient starts and inspects durable create-and-list runs.
// *temporal.Client implements it.
type WorkflowClient interface {
	StartCreateListing(ctx context.Context, in market.CreateInput) (string, error)
	GetCreateListingStatus(ctx context.Context, workflowID string) (*temporal.CreateListingStatus, error)
}

// Server represents the HTTP server for the marketplace API.
type Server struct {
	addr         string
	market       Marketplace
	workflows    WorkflowClient
	ssePublisher *SSEPublisher
	corsOrigins  []string
	version      string
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The workflows client is optional; if nil, durable listing creation is unavailable.
// The ssePublisher is optional; if nil, the event stream endpoint is not registered.
// The metrics is optional; if nil, the metrics endpoint is not registered.
func New(addr string, mkt Marketplace, workflows WorkflowClient, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		market:       mkt,
		workflows:    workflows,
		ssePublisher: ssePublisher,
		corsOrigins:  []string{"*"},
		version:      "dev",
		metrics:      m,
		logger:       logger,
	}
}

// WithCORSOrigins restricts the browser origins allowed to call the API.
func (s *Server) WithCORSOrigins(origins []string) *Server {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
	return s
}

// WithVersion sets the version reported by /version.
func (s *Server) WithVersion(version string) *Server {
	s.version = version
	return s
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/wallet", "wallet", handleGetWallet(s.market))
	route("POST /api/v1/wallet/connect", "wallet_connect", handleConnectWallet(s.market, s.logger))
	route("POST /api/v1/assets", "assets", handleUploadAsset(s.market, s.logger))
	route("POST /api/v1/listings", "listings_create", handleCreateListing(s.market, s.workflows, s.logger))
	route("GET /api/v1/listings/workflows/{workflow_id}", "listings_workflow", handleGetListingWorkflow(s.workflows, s.logger))
	route("POST /api/v1/listings/{token_id}/resale", "listings_resale", handleResellListing(s.market, s.logger))
	route("GET /api/v1/listings", "listings", handleListListings(s.market, s.logger))

	if s.ssePublisher != nil {
		route("GET /api/v1/stream/events", "stream_events", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoint disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": s.version}, http.StatusOK)
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	})(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: listing creation waits for block confirmation
		// and the event stream stays open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
