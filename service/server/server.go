package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/nodedash/service/console"
	"github.com/brojonat/nodedash/service/link"
	"github.com/brojonat/nodedash/service/metrics"
	"github.com/brojonat/nodedash/service/monitor"
	natspkg "github.com/brojonat/nodedash/service/nats"
	"github.com/brojonat/nodedash/service/registry"
	"github.com/brojonat/nodedash/service/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps is the dashboard state the server is built around. Registry,
// Transfers, Console and Monitor are required.
type Deps struct {
	Registry  *registry.Registry
	Transfers *transfer.Simulator
	Console   *console.Console
	Monitor   *monitor.Monitor

	// Publisher is optional - if nil, transfers are not published to NATS.
	Publisher natspkg.Publisher
	// Metrics is optional - if nil, no metrics are recorded and /metrics is not served.
	Metrics *metrics.Metrics
}

// Server represents the HTTP server for the dashboard.
type Server struct {
	addr     string
	deps     Deps
	hub      *Hub
	feed     *link.Stub
	renderer *TemplateRenderer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies and subscribes
// to console and monitor changes.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		deps:    deps,
		hub:     NewHub(deps.Metrics, logger),
		metrics: deps.Metrics,
		logger:  logger,
	}

	deps.Console.Observe(s.commandChanged)
	if s.metrics != nil {
		deps.Monitor.OnRefresh(s.recordNetworkStatus)
		s.recordBalances()
	}
	return s
}

// WithTemplates adds template rendering support to the server using embedded files
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// WithFeed attaches the transaction feed connection so its state is reported
// by the network status endpoint.
func (s *Server) WithFeed(feed *link.Stub) {
	s.feed = feed
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Legacy transfer endpoint used by the dashboard form
	s.route(mux, "POST /api/transaction", "/api/transaction", handleLegacyTransaction(s.deps.Transfers, s.transactionApplied, s.metrics, s.logger))

	// Node and transfer routes
	s.route(mux, "GET /api/v1/nodes", "/api/v1/nodes", handleListNodes(s.deps.Registry, s.logger))
	s.route(mux, "GET /api/v1/nodes/{id}", "/api/v1/nodes/{id}", handleGetNode(s.deps.Registry, s.logger))
	s.route(mux, "POST /api/v1/transfers", "/api/v1/transfers", handleCreateTransfer(s.deps.Transfers, s.transactionApplied, s.metrics, s.logger))
	s.route(mux, "GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.deps.Transfers.Ledger(), s.logger))

	// Command console routes
	s.route(mux, "GET /api/v1/commands", "/api/v1/commands", handleListCommands(s.deps.Console, s.logger))
	s.route(mux, "POST /api/v1/commands", "/api/v1/commands", handleSubmitCommand(s.deps.Console, s.logger))
	s.route(mux, "DELETE /api/v1/commands", "/api/v1/commands", handleClearCommands(s.deps.Console, s.logger))
	s.route(mux, "GET /api/v1/commands/presets", "/api/v1/commands/presets", handleListPresets())
	s.route(mux, "GET /api/v1/commands/{id}", "/api/v1/commands/{id}", handleGetCommand(s.deps.Console, s.logger))

	// Network monitor routes
	s.route(mux, "GET /api/v1/network/status", "/api/v1/network/status", handleNetworkStatus(s.deps.Monitor, s.feedInfo, s.logger))
	s.route(mux, "POST /api/v1/network/refresh", "/api/v1/network/refresh", handleRefreshNetwork(s.deps.Monitor, s.feedInfo, s.logger))
	s.route(mux, "GET /api/v1/settings", "/api/v1/settings", handleGetSettings(s.deps.Monitor))
	s.route(mux, "PUT /api/v1/settings", "/api/v1/settings", handleUpdateSettings(s.deps.Monitor, s.logger))

	// Streaming endpoints
	s.route(mux, "GET /ws", "/ws", handleWebSocket(s.hub, s.metrics, s.logger))
	s.route(mux, "GET /api/v1/stream/transactions", "/api/v1/stream/transactions", handleStreamTransactions(s.hub, s.metrics, s.logger))
	s.route(mux, "GET /api/v1/stream/transactions/{address}", "/api/v1/stream/transactions/{address}", handleStreamTransactions(s.hub, s.metrics, s.logger))

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		mux.HandleFunc("GET /{$}", handleDashboardPage(s.renderer, s.deps))
		mux.HandleFunc("GET /favicon.svg", handleFavicon())
		mux.HandleFunc("GET /favicon.ico", handleFavicon())
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	if s.metrics != nil {
		h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}
	mux.Handle(pattern, h)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the WebSocket and SSE endpoints hold responses open.
		IdleTimeout: 60 * time.Second,
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

	// Close stream clients first so their handlers return
	s.hub.Close()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ReplayTransaction applies a transaction received from the feed and, when
// it was new, pushes it to stream clients. It is the feed's handler.
func (s *Server) ReplayTransaction(ctx context.Context, txn transfer.Transaction) error {
	applied, err := s.deps.Transfers.Replay(ctx, txn)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTransfer(string(transfer.OriginRemote), "rejected", 0)
		}
		return err
	}
	if !applied {
		return nil
	}
	replayed, _ := s.deps.Transfers.Ledger().Get(txn.ID)
	s.transactionApplied(ctx, replayed)
	return nil
}

// RecordFeedState is the feed's state callback.
func (s *Server) RecordFeedState(state link.State) {
	if s.metrics != nil {
		s.metrics.RecordFeedState(string(state))
		st := s.deps.Monitor.Status()
		s.metrics.RecordNetworkStatus(s.deps.Registry.ConnectedCount(), st.ActiveConnections, st.SyncProgress)
	}
}

// transactionApplied fans an applied transfer out to stream clients and,
// for local transfers, to NATS. Remote transfers already came from a feed and
// are not published again.
func (s *Server) transactionApplied(ctx context.Context, txn transfer.Transaction) {
	s.hub.Broadcast(link.Message{Type: link.TypeTransaction, Transaction: &txn})

	if s.metrics != nil {
		s.metrics.RecordTransfer(string(txn.Origin), "success", txn.Amount.InexactFloat64())
		s.recordBalances()
	}

	if s.deps.Publisher == nil || txn.Origin != transfer.OriginLocal {
		return
	}

	start := time.Now()
	err := s.deps.Publisher.PublishTransaction(ctx, natspkg.FromTransaction(txn))
	status := "success"
	if err != nil {
		status = "error"
		// The transfer already happened; publishing is best effort.
		s.logger.ErrorContext(ctx, "failed to publish transaction", "id", txn.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordNATSPublish(status, time.Since(start).Seconds())
	}
}

func (s *Server) commandChanged(e console.Entry) {
	s.hub.Broadcast(link.Message{Type: link.TypeCommand, Command: &e})

	if s.metrics == nil {
		return
	}
	base := commandBase(e.Command)
	switch {
	case e.Status == console.StatusRunning:
		s.metrics.RecordCommandSubmitted(base)
	case e.Status.Terminal():
		s.metrics.RecordCommandCompleted(base, string(e.Status))
	}
}

func (s *Server) recordNetworkStatus(st monitor.Status) {
	s.metrics.RecordNetworkStatus(s.deps.Registry.ConnectedCount(), st.ActiveConnections, st.SyncProgress)
	for _, n := range st.Nodes {
		s.metrics.SetNodeLatency(strconv.Itoa(n.ID), n.LatencyMS)
	}
}

func (s *Server) recordBalances() {
	for _, n := range s.deps.Registry.List() {
		s.metrics.SetNodeBalance(strconv.Itoa(n.ID), n.Balance.InexactFloat64())
	}
}

func (s *Server) feedInfo() *feedResponse {
	if s.feed == nil {
		return nil
	}
	return &feedResponse{
		State:    string(s.feed.State()),
		Attempts: s.feed.Attempts(),
		Received: s.feed.Received(),
	}
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
