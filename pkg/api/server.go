package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"approval-chain/pkg/banking"
	"approval-chain/pkg/logging"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the banking services over HTTP.
type Server struct {
	services Services
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	config   ServerConfig
	logger   *logging.Logger
	started  time.Time
}

// Services are the operations the API serves.
type Services struct {
	Transactions *banking.TransactionService
	Groups       *banking.GroupService
	Accounts     *banking.AccountService
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string `mapstructure:"address"`

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds the work done for one request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c ServerConfig) Validate() error {
	if c.Address == "" {
		return errors.New("api: address is required")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return errors.New("api: timeouts must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("api: request_timeout must be positive")
	}
	return nil
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler replaces the /metrics handler. The default serves the
// default prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.router.Handle("/metrics", h).Methods(http.MethodGet)
		}
	}
}

// WithHTTPMetrics instruments every route with m.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.router.Use(m.Middleware)
		}
	}
}

// NewServer creates an API server.
func NewServer(services Services, config ServerConfig, opts ...Option) *Server {
	s := &Server{
		services: services,
		router:   mux.NewRouter(),
		config:   config,
		logger:   logging.Global().Named("api"),
		started:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.routes()

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if !s.hasRoute("/metrics") {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	tx := r.PathPrefix("/transactions").Subrouter()
	tx.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	tx.HandleFunc("/withdrawal", s.handleWithdrawal).Methods(http.MethodPost)
	tx.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	tx.HandleFunc("/payment", s.handlePayment).Methods(http.MethodPost)
	tx.HandleFunc("/pending-approval", s.handlePendingApprovals).Methods(http.MethodGet)
	tx.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	tx.HandleFunc("/reference/{reference}", s.handleGetByReference).Methods(http.MethodGet)
	tx.HandleFunc("/{id:[0-9]+}", s.handleGetTransaction).Methods(http.MethodGet)
	tx.HandleFunc("/{id:[0-9]+}/approve", s.handleApprove).Methods(http.MethodPost)
	tx.HandleFunc("/{id:[0-9]+}/reject", s.handleReject).Methods(http.MethodPost)
	tx.HandleFunc("/{id:[0-9]+}/cancel", s.handleCancel).Methods(http.MethodPost)

	acc := r.PathPrefix("/accounts").Subrouter()
	acc.HandleFunc("/{number}", s.handleGetAccount).Methods(http.MethodGet)
	acc.HandleFunc("/{number}/transactions", s.handleAccountTransactions).Methods(http.MethodGet)
	acc.HandleFunc("/{number}/statistics", s.handleAccountStatistics).Methods(http.MethodGet)

	r.HandleFunc("/groups/{number}/stats", s.handleGroupStats).Methods(http.MethodGet)
}

func (s *Server) hasRoute(path string) bool {
	found := false
	s.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl == path {
			found = true
		}
		return nil
	})
	return found
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured address and serves HTTP in a goroutine.
// A bind failure is returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.config.Address, err)
	}
	s.listener = ln

	s.logger.Info("api listening", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}
