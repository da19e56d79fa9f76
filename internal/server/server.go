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

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/vigil/internal/anomaly"
	"github.com/mbd888/vigil/internal/baseline"
	"github.com/mbd888/vigil/internal/chain"
	"github.com/mbd888/vigil/internal/config"
	"github.com/mbd888/vigil/internal/events"
	"github.com/mbd888/vigil/internal/fraud"
	"github.com/mbd888/vigil/internal/health"
	"github.com/mbd888/vigil/internal/idgen"
	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/metrics"
	"github.com/mbd888/vigil/internal/monitor"
	"github.com/mbd888/vigil/internal/outage"
	"github.com/mbd888/vigil/internal/predictions"
	"github.com/mbd888/vigil/internal/ratelimit"
	"github.com/mbd888/vigil/internal/realtime"
	"github.com/mbd888/vigil/internal/security"
	"github.com/mbd888/vigil/internal/validation"
)

// Version is reported by the info endpoint. Set by cmd/server.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	detectors   config.Detectors
	db          *sql.DB       // nil if using in-memory
	redis       *redis.Client // nil without REDIS_ADDR
	chainReader chain.Reader  // overrides dialing RPC_URL
	bus         *events.Bus
	baselines   *baseline.Store
	monitor     *monitor.Service
	predictions predictions.Store
	watcher     *chain.Watcher
	hub         *realtime.Hub
	rateLimiter *ratelimit.Limiter
	health      *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	busDone      chan struct{}

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

// WithChainReader enables wallet scanning over reader instead of dialing
// RPC_URL (for testing)
func WithChainReader(reader chain.Reader) Option {
	return func(s *Server) {
		s.chainReader = reader
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	detectors, err := config.LoadDetectors(cfg.DetectorsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load detector tuning: %w", err)
	}
	detectors.Fraud.Web3.SuspiciousContracts = append(detectors.Fraud.Web3.SuspiciousContracts, cfg.SuspiciousContracts...)
	s.detectors = detectors

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var profiles fraud.ProfileStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		profileStore := fraud.NewPostgresProfileStore(db)
		if err := profileStore.Migrate(ctx); err != nil {
			return nil, s.closeOnError(fmt.Errorf("failed to migrate fraud profiles: %w", err))
		}
		predictionStore := predictions.NewPostgresStore(db)
		if err := predictionStore.Migrate(ctx); err != nil {
			return nil, s.closeOnError(fmt.Errorf("failed to migrate predictions: %w", err))
		}
		profiles = profileStore
		s.predictions = predictionStore
		s.health.RegisterPing("database", db.PingContext)

		s.logger.Info("using PostgreSQL storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		profiles = fraud.NewMemoryProfileStore()
		s.predictions = predictions.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if cfg.RedisAddr != "" {
		client, err := fraud.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, s.closeOnError(fmt.Errorf("failed to connect to redis: %w", err))
		}
		s.redis = client
		profiles = fraud.NewRedisProfileCache(client, profiles, cfg.ProfileCacheTTL, s.logger)
		s.health.RegisterPing("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		s.logger.Info("fraud profile cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.ProfileCacheTTL)
	}

	// Event bus and the prediction audit log behind it
	s.bus = events.NewBus(s.logger, events.WithBufferSize(cfg.EventBufferSize))
	predictions.NewRecorder(s.predictions, s.logger).Subscribe(s.bus)
	s.hub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.CORSOrigins))
	s.hub.Subscribe(s.bus)
	s.health.Register("events", func(context.Context) health.Status {
		return health.Status{
			Healthy: s.bus.Running(),
			Detail:  fmt.Sprintf("dropped=%d", s.bus.Dropped()),
		}
	})

	// Detectors
	s.baselines = baseline.NewStore(cfg.BaselineCapacity)
	anomalies := anomaly.NewDetector(s.baselines, detectors.Anomaly,
		anomaly.WithPublisher(s.bus), anomaly.WithLogger(s.logger))
	outages := outage.NewPredictor(detectors.Outage,
		outage.WithPublisher(s.bus), outage.WithLogger(s.logger))
	fraudPredictor := fraud.NewPredictor(profiles, detectors.Fraud,
		fraud.WithPublisher(s.bus), fraud.WithLogger(s.logger))

	monitorOpts := []monitor.Option{monitor.WithLogger(s.logger)}
	collector, err := s.newCollector()
	if err != nil {
		return nil, s.closeOnError(err)
	}
	if collector != nil {
		monitorOpts = append(monitorOpts, monitor.WithChain(collector))
	}
	s.monitor = monitor.NewService(s.baselines, anomalies, outages, fraudPredictor, monitorOpts...)

	if collector != nil && len(cfg.WatchWallets) > 0 {
		tenant := cfg.WatchTenant
		s.watcher = chain.NewWatcher(collector, cfg.WatchWallets, cfg.WatchInterval,
			func(ctx context.Context, activity *fraud.Web3Activity) error {
				_, err := s.monitor.DetectWeb3SuspiciousActivity(ctx, tenant, activity)
				return err
			}, s.logger)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPM,
		BurstSize:         cfg.RateLimitBurst,
	})
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) newCollector() (*chain.Collector, error) {
	if s.chainReader == nil && !s.cfg.ChainEnabled() {
		return nil, nil
	}

	chainCfg := chain.Config{
		RPCURL:              s.cfg.RPCURL,
		ChainID:             s.cfg.ChainID,
		LookbackBlocks:      s.cfg.LookbackBlocks,
		SuspiciousContracts: s.detectors.Fraud.Web3.SuspiciousContracts,
	}
	for _, token := range s.cfg.Tokens {
		chainCfg.Tokens = append(chainCfg.Tokens, common.HexToAddress(token))
	}

	if s.chainReader != nil {
		return chain.NewCollector(s.chainReader, chainCfg, s.logger), nil
	}
	collector, err := chain.Dial(chainCfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info("wallet scanning enabled", "chain_id", s.cfg.ChainID, "tokens", len(chainCfg.Tokens))
	return collector, nil
}

// closeOnError releases connections opened during a failed New.
func (s *Server) closeOnError(err error) error {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
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
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		if tenant := c.GetHeader(ratelimit.TenantHeader); tenant != "" {
			ctx = logging.WithTenantID(ctx, tenant)
		}
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
			logger.Debug("request completed",
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
	s.router.GET("/health", s.health.Handler())
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware())
	monitor.NewHandler(s.monitor).RegisterRoutes(v1)
	predictions.NewHandler(s.predictions).RegisterRoutes(v1)
	v1.GET("/stream", s.hub.HandleStream)
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
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}
	c.JSON(http.StatusOK, gin.H{
		"service":          "vigil",
		"version":          Version,
		"storage":          storage,
		"profileCache":     s.redis != nil,
		"walletScan":       s.monitor.ChainEnabled(),
		"watchedWallets":   len(s.cfg.WatchWallets),
		"baselineCapacity": s.baselines.Capacity(),
		"trackedMetrics":   len(s.baselines.Metrics()),
		"streamClients":    s.hub.Clients(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// startBackground launches the event bus, the stream hub and the chain watcher.
func (s *Server) startBackground(ctx context.Context) {
	s.busDone = make(chan struct{})
	go func() {
		defer close(s.busDone)
		s.bus.Start(ctx)
	}()
	go s.hub.Run(ctx)

	if s.watcher != nil {
		s.watcher.Start(ctx)
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
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

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	var shutdownErr error
	if s.httpSrv != nil {
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.watcher != nil {
		s.watcher.Stop()
		s.logger.Info("chain watcher stopped")
	}

	// Flush queued events before the stores close
	s.bus.Stop()
	if s.busDone != nil {
		<-s.busDone
	}

	// Cancel the context for all background goroutines, closing stream clients
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.rateLimiter.Stop()

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

	s.healthy.Store(false)
	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Monitor returns the monitoring service, for embedding callers such as the
// MCP server
func (s *Server) Monitor() *monitor.Service {
	return s.monitor
}
