// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/checkoutkit/internal/checkout"
	"github.com/mbd888/checkoutkit/internal/circuitbreaker"
	"github.com/mbd888/checkoutkit/internal/config"
	"github.com/mbd888/checkoutkit/internal/events"
	"github.com/mbd888/checkoutkit/internal/health"
	"github.com/mbd888/checkoutkit/internal/idgen"
	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/internal/metrics"
	"github.com/mbd888/checkoutkit/internal/notification"
	"github.com/mbd888/checkoutkit/internal/payments"
	"github.com/mbd888/checkoutkit/internal/ratelimit"
	"github.com/mbd888/checkoutkit/internal/security"
	"github.com/mbd888/checkoutkit/internal/subscription"
	"github.com/mbd888/checkoutkit/internal/tokenstore"
	"github.com/mbd888/checkoutkit/internal/validation"
)

// Version is reported by /health. Set from cmd/server at build time.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	store         tokenstore.Store
	checkout      checkout.API
	publisher     events.Publisher
	processor     *notification.Processor
	subscriptions *subscription.Service
	health        *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB                // nil unless DATABASE_URL is set
	redis         *tokenstore.RedisStore // nil unless REDIS_URL is set
	amqp          *events.AMQPPublisher  // nil unless AMQP_URL is set
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc

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

// WithCheckout replaces the Checkout API client (for testing)
func WithCheckout(api checkout.API) Option {
	return func(s *Server) {
		s.checkout = api
	}
}

// WithTokenStore replaces the token store selected from config (for testing)
func WithTokenStore(store tokenstore.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithPublisher replaces the event publisher selected from config (for testing)
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.store == nil {
		if err := s.openTokenStore(ctx); err != nil {
			s.closeBackends()
			return nil, err
		}
	}
	switch st := s.store.(type) {
	case tokenstore.Pinger:
		s.health.Register("tokenstore", health.Ping("tokenstore", st.Ping))
	case *tokenstore.MemoryStore:
		s.health.Register("tokenstore", func(context.Context) health.Status {
			return health.Status{Name: "tokenstore", Healthy: true, Detail: fmt.Sprintf("memory, %d tokens", st.Len())}
		})
	}

	if s.publisher == nil {
		if err := s.openPublisher(); err != nil {
			s.closeBackends()
			return nil, err
		}
	}

	if s.checkout == nil {
		client := checkout.NewClient(checkout.Config{
			APIKey:      cfg.AdyenAPIKey,
			Environment: cfg.AdyenEnvironment,
			LivePrefix:  cfg.AdyenLiveURLPrefix,
		})
		s.checkout = client
		s.health.Register("checkout", breakerChecker(client.Breaker()))
		s.logger.Info("checkout client configured",
			"environment", cfg.AdyenEnvironment,
			"base_url", checkout.BaseURL(cfg.AdyenEnvironment, cfg.AdyenLiveURLPrefix),
			"api_key", logging.Redact(cfg.AdyenAPIKey),
		)
	}

	var validator notification.Validator
	if cfg.WebhookAuthEnabled() {
		validator = notification.NewHMACValidator(cfg.AdyenHMACKey)
	} else {
		s.logger.Warn("ADYEN_HMAC_KEY not set: webhook notifications are NOT authenticated")
	}
	s.processor = notification.NewProcessor(s.store, validator, s.publisher, s.logger)

	paymentsCfg := payments.Config{MerchantAccount: cfg.AdyenMerchantAccount, BaseURL: cfg.BaseURL}
	paymentsHandler := payments.NewHandler(s.checkout, paymentsCfg, s.logger)

	s.subscriptions = subscription.NewService(s.store, s.checkout, s.checkout, s.publisher, subscription.Config{
		MerchantAccount: cfg.AdyenMerchantAccount,
		ReturnURL:       paymentsHandler.ReturnURL(),
	}, s.logger)

	if !cfg.IsDevelopment() && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(paymentsHandler)

	s.healthy.Store(true)

	return s, nil
}

// openTokenStore picks the backend: Postgres, then Redis, then memory.
func (s *Server) openTokenStore(ctx context.Context) error {
	switch {
	case s.cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		pg := tokenstore.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		s.store = pg
		s.logger.Info("using PostgreSQL token store", "url", maskDSN(s.cfg.DatabaseURL))

	case s.cfg.RedisURL != "":
		rs, err := tokenstore.NewRedisStoreFromURL(ctx, s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = rs
		s.store = rs
		s.logger.Info("using Redis token store", "url", maskDSN(s.cfg.RedisURL))

	default:
		s.store = tokenstore.NewMemoryStore()
		s.logger.Info("using in-memory token store (tokens are lost on restart)")
	}
	return nil
}

func (s *Server) openPublisher() error {
	if s.cfg.AMQPURL == "" {
		s.publisher = events.NopPublisher{}
		return nil
	}
	p, err := events.DialAMQP(s.cfg.AMQPURL, s.cfg.AMQPExchange)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	s.amqp = p
	s.publisher = p
	s.health.Register("amqp", health.Ping("amqp", p.Ping))
	s.logger.Info("publishing token events", "url", maskDSN(s.cfg.AMQPURL), "exchange", s.cfg.AMQPExchange)
	return nil
}

func breakerChecker(b *circuitbreaker.Breaker) health.Checker {
	return func(context.Context) health.Status {
		for endpoint, state := range b.Snapshot() {
			if state == circuitbreaker.StateOpen {
				return health.Status{Name: "checkout", Healthy: false, Detail: "circuit open: " + endpoint}
			}
		}
		return health.Status{Name: "checkout", Healthy: true}
	}
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(nil))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig(s.cfg.RateLimitRPM))
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.RequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes(paymentsHandler *payments.Handler) {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	notification.NewHandler(s.processor, s.cfg.WebhookUsername, s.cfg.WebhookPassword).RegisterRoutes(s.router)

	api := s.router.Group("/api")
	api.GET("/config", s.clientConfigHandler)
	paymentsHandler.RegisterRoutes(s.router, api)
	subscription.NewHandler(s.subscriptions).RegisterRoutes(api)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
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

// clientConfigHandler hands the drop-in its public settings.
func (s *Server) clientConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"clientKey":   s.cfg.AdyenClientKey,
		"environment": s.cfg.AdyenEnvironment,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // checkout calls retry upstream
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"merchant_account", s.cfg.AdyenMerchantAccount,
			"webhook_basic_auth", s.cfg.WebhookUsername != "",
			"hmac", s.processor.Authenticated(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.httpSrv != nil {
		// Give load balancers time to stop sending traffic
		time.Sleep(5 * time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.closeBackends()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeBackends() {
	if s.amqp != nil {
		if err := s.amqp.Close(); err != nil {
			s.logger.Error("amqp close error", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Store returns the active token store.
func (s *Server) Store() tokenstore.Store {
	return s.store
}
