// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/workpay/internal/accounts"
	"github.com/mbd888/workpay/internal/auth"
	"github.com/mbd888/workpay/internal/config"
	"github.com/mbd888/workpay/internal/contracts"
	"github.com/mbd888/workpay/internal/fees"
	"github.com/mbd888/workpay/internal/health"
	"github.com/mbd888/workpay/internal/logging"
	"github.com/mbd888/workpay/internal/marketplace"
	"github.com/mbd888/workpay/internal/metrics"
	"github.com/mbd888/workpay/internal/notify"
	"github.com/mbd888/workpay/internal/ratelimit"
	"github.com/mbd888/workpay/internal/realtime"
	"github.com/mbd888/workpay/internal/security"
	"github.com/mbd888/workpay/internal/settings"
	"github.com/mbd888/workpay/internal/stripegw"
	"github.com/mbd888/workpay/internal/traces"
	"github.com/mbd888/workpay/internal/transactions"
	"github.com/mbd888/workpay/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg             *config.Config
	authMgr         *auth.Manager
	accountService  *accounts.Service
	settingsService *settings.Service
	feeService      *fees.Service
	contractService *contracts.Service
	txnService      *transactions.Service
	holdTimer       *transactions.HoldTimer
	marketService   *marketplace.Service
	dispatcher      *notify.Dispatcher
	notifyStore     notify.Store
	realtimeHub     *realtime.Hub
	gateway         transactions.Gateway
	rateLimiter     *ratelimit.Limiter
	checker         *health.Checker
	db              *sql.DB // nil if using in-memory
	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	cancelRunCtx    context.CancelFunc          // cancels background goroutines started in Run
	tracesShutdown  func(context.Context) error // flushes the OTLP exporter

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g transactions.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	var (
		accountStore  accounts.Store
		authStore     auth.Store
		settingsStore settings.Store
		contractStore contracts.Store
		txnStore      transactions.Store
		marketStore   marketplace.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		accountStore = accounts.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		settingsStore = settings.NewPostgresStore(db)
		contractStore = contracts.NewPostgresStore(db)
		txnStore = transactions.NewPostgresStore(db)
		marketStore = marketplace.NewPostgresStore(db)
		s.notifyStore = notify.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		accountStore = accounts.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		settingsStore = settings.NewMemoryStore()
		contractStore = contracts.NewMemoryStore()
		txnStore = transactions.NewMemoryStore()
		marketStore = marketplace.NewMemoryStore()
		s.notifyStore = notify.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.authMgr = auth.NewManager(authStore)
	s.accountService = accounts.NewService(accountStore, s.authMgr)
	s.settingsService = settings.NewService(settingsStore)
	s.feeService = fees.NewService(s.settingsService)

	// Webhook dispatcher and realtime hub share the platform event stream
	s.dispatcher = notify.NewDispatcher(s.notifyStore, s.logger)
	s.realtimeHub = realtime.NewHub(s.logger)
	events := &eventFanout{dispatcher: s.dispatcher, hub: s.realtimeHub}

	s.contractService = contracts.NewService(contractStore).WithEvents(events)

	// Payment gateway: Stripe when configured, simulated otherwise
	if s.gateway == nil {
		if cfg.StripeSecretKey != "" {
			s.gateway = stripegw.New(cfg.StripeSecretKey, s.logger)
			s.logger.Info("stripe gateway enabled")
		} else {
			s.gateway = newSimGateway()
			s.logger.Warn("no STRIPE_SECRET_KEY set, payments are simulated")
		}
	}

	s.txnService = transactions.NewService(
		txnStore,
		s.gateway,
		&contractMilestoneAdapter{s.contractService},
		&accountDirectoryAdapter{s.accountService},
		s.feeService,
		s.logger,
	).
		WithHoldPolicy(&settingsHoldPolicy{s.settingsService, cfg.EscrowHoldDays}).
		WithEvents(events).
		WithRefundWindow(time.Duration(cfg.RefundWindowDays) * 24 * time.Hour)

	s.holdTimer = transactions.NewHoldTimer(s.txnService, time.Minute, s.logger)

	s.marketService = marketplace.NewService(marketStore, &draftContractAdapter{s.contractService})

	// Dependency health checks
	s.checker = health.NewChecker()
	if s.db != nil {
		s.checker.Register("database", func(ctx context.Context) error {
			return s.db.PingContext(ctx)
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins in development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time payment streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group. Auth middleware is pass-through: it attaches the
	// account when a valid key is present, and RequireAuth/RequireRole
	// enforce it per route group.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))
	v1.Use(auth.AdminSecretMiddleware(s.cfg.AdminSecret))

	accountHandler := accounts.NewHandler(s.accountService)
	authHandler := auth.NewHandler(s.authMgr)
	settingsHandler := settings.NewHandler(s.settingsService)
	contractHandler := contracts.NewHandler(s.contractService)
	txnHandler := transactions.NewServiceHandlers(s.txnService)
	marketHandler := marketplace.NewServiceHandlers(s.marketService)
	notifyHandler := notify.NewHandler(s.notifyStore)

	// PUBLIC ROUTES (no auth required)
	accountHandler.RegisterRoutes(v1) // registration returns the API key once
	settingsHandler.RegisterRoutes(v1)
	v1.GET("/auth/info", authHandler.Info)

	// Stripe webhooks authenticate by signature, not API key
	if s.cfg.StripeWebhookSecret != "" {
		stripegw.NewWebhookHandler(s.cfg.StripeWebhookSecret, s.txnService, s.logger).RegisterRoutes(v1)
	} else {
		s.logger.Warn("no STRIPE_WEBHOOK_SECRET set, payment confirmation webhook disabled")
	}

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		accountHandler.RegisterProtectedRoutes(protected)
		authHandler.RegisterProtectedRoutes(protected)
		contractHandler.RegisterProtectedRoutes(protected)
	}

	// These guard their own subgroups with RequireAuth
	txnHandler.RegisterRoutes(v1)
	marketHandler.RegisterRoutes(v1)
	notifyHandler.RegisterRoutes(v1)

	// ADMIN ROUTES
	admin := v1.Group("/admin")
	admin.Use(auth.RequireRole("admin"))
	{
		accountHandler.RegisterAdminRoutes(admin)
		settingsHandler.RegisterAdminRoutes(admin)
		contractHandler.RegisterAdminRoutes(admin)
		txnHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Result `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, results := s.checker.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    results,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Workpay",
		"description": "Escrow payments and commissions for freelance marketplaces",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when OTEL_EXPORTER_OTLP_ENDPOINT is unset)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.cfg.Env)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start escrow auto-release timer
	go s.holdTimer.Start(runCtx)

	// Export connection pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop escrow auto-release timer
	if s.holdTimer != nil {
		s.holdTimer.Stop()
		s.logger.Info("hold timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending spans
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
