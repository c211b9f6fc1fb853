// Package server is the bot's headless HTTP and WebSocket API: strategy
// lifecycle, execution quality, risk state and job triggers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/server/handler"
	"github.com/alanyoungcy/optionsbot/internal/server/middleware"
	"github.com/alanyoungcy/optionsbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimitPerMin caps requests per client per minute. Zero disables it.
	RateLimitPerMin int
}

// Handlers aggregates the HTTP handlers the server registers. A nil handler
// leaves its routes unregistered, which is how the monitor-only mode hides
// the strategy endpoints.
type Handlers struct {
	Health    *handler.HealthHandler
	Strategy  *handler.StrategyHandler
	Monitor   *handler.MonitorHandler
	Execution *handler.ExecutionHandler
	Portfolio *handler.PortfolioHandler
	Pipeline  *handler.PipelineHandler
	Metrics   http.Handler
}

// Options carries the optional collaborators of the middleware chain.
type Options struct {
	Limiter  domain.RateLimiter
	Recorder middleware.RequestRecorder
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. The middleware
// chain runs CORS, then logging, then auth, then rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, handlers, wsHub)

	var h http.Handler = mux
	if opts.Limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(opts.Limiter, cfg.RateLimitPerMin, time.Minute, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, opts.Recorder)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Routes registers every non-nil handler on mux.
func Routes(mux *http.ServeMux, handlers Handlers, wsHub *ws.Hub) {
	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	if h := handlers.Strategy; h != nil {
		mux.HandleFunc("GET /api/strategies", h.List)
		mux.HandleFunc("POST /api/strategies", h.Deploy)
		mux.HandleFunc("GET /api/strategies/{id}", h.Get)
		mux.HandleFunc("PUT /api/strategies/{id}", h.Update)
		mux.HandleFunc("DELETE /api/strategies/{id}", h.Deactivate)
		mux.HandleFunc("POST /api/strategies/{id}/pause", h.Pause)
		mux.HandleFunc("POST /api/strategies/{id}/resume", h.Resume)
		mux.HandleFunc("POST /api/strategies/{id}/pnl", h.RecordPnL)
		mux.HandleFunc("GET /api/signals/recent", h.RecentSignals)
	}

	if h := handlers.Monitor; h != nil {
		mux.HandleFunc("GET /api/tca/brokers/{id}", h.BrokerReport)
		mux.HandleFunc("GET /api/tca/algorithms/{name}", h.AlgorithmReport)
		mux.HandleFunc("GET /api/tca/report", h.Comprehensive)
		mux.HandleFunc("GET /api/tca/rankings", h.BrokerRankings)
		mux.HandleFunc("GET /api/latency", h.Latency)
		mux.HandleFunc("GET /api/latency/{stage}", h.LatencyStage)
	}

	if h := handlers.Execution; h != nil {
		mux.HandleFunc("GET /api/brokers", h.Brokers)
		mux.HandleFunc("GET /api/spreads", h.Spreads)
		mux.HandleFunc("GET /api/spreads/{id}", h.Spread)
	}

	if h := handlers.Portfolio; h != nil {
		mux.HandleFunc("GET /api/allocations", h.Allocations)
		mux.HandleFunc("POST /api/allocations/rebalance", h.Rebalance)
		mux.HandleFunc("GET /api/risk/{owner}", h.Risk)
		mux.HandleFunc("GET /api/ml/accuracy", h.Accuracy)
	}

	if h := handlers.Pipeline; h != nil {
		mux.HandleFunc("GET /api/pipeline/jobs", h.ListJobs)
		mux.HandleFunc("POST /api/pipeline/jobs/{name}/trigger", h.TriggerJob)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
