package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/server/handler"
	"github.com/alanyoungcy/outcomebook/internal/server/middleware"
	"github.com/alanyoungcy/outcomebook/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateWindow per client IP; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Orders     *handler.OrderHandler
	Collateral *handler.CollateralHandler
	Batches    *handler.BatchHandler
	Claims     *handler.ClaimHandler

	// Metrics serves /metrics; nil omits the route.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API of the exchange.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in middleware. hub and
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Markets.SettleMarket)

	mux.HandleFunc("POST /api/orders", handlers.Orders.SubmitOrder)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)
	mux.HandleFunc("GET /api/accounts/{owner}/orders", handlers.Orders.ListOwnerOrders)

	mux.HandleFunc("GET /api/accounts/{owner}", handlers.Collateral.GetAccount)
	mux.HandleFunc("GET /api/platform", handlers.Collateral.GetPlatform)
	mux.HandleFunc("POST /api/collateral/deposit", handlers.Collateral.Deposit)
	mux.HandleFunc("POST /api/collateral/withdraw", handlers.Collateral.Withdraw)
	mux.HandleFunc("POST /api/collateral/topup", handlers.Collateral.Topup)
	mux.HandleFunc("POST /api/collateral/exclusions", handlers.Collateral.SetExclusion)

	mux.HandleFunc("POST /api/batches/limit", handlers.Batches.MatchLimit)
	mux.HandleFunc("POST /api/batches/market", handlers.Batches.MatchMarket)
	mux.HandleFunc("POST /api/batches/leverage/open", handlers.Batches.OpenLeverage)
	mux.HandleFunc("POST /api/batches/leverage/close", handlers.Batches.CloseLeverage)

	mux.HandleFunc("POST /api/claims", handlers.Claims.Claim)
	mux.HandleFunc("GET /api/claims/{market}/{owner}", handlers.Claims.Claimable)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// /metrics stays outside auth and rate limiting for the scraper.
	root := http.NewServeMux()
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}

	var api http.Handler = mux
	api = middleware.Auth(cfg.APIKey)(api)
	api = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(api)
	root.Handle("/", api)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start blocks serving requests until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
