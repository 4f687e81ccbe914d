package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"auditchain/internal/config"
	"auditchain/internal/domain"
	"auditchain/internal/infra/cachemem"
	"auditchain/internal/infra/db"
	"auditchain/internal/infra/metrics"
	"auditchain/internal/infra/policyopa"
	"auditchain/internal/infra/ratelimit"
	"auditchain/internal/infra/stream"
	"auditchain/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	cfg     config.Config
	store   *db.Store
	r       *gin.Engine
	logger  *slog.Logger
	metrics *metrics.Collector

	chain  *usecase.AuditChain
	scopes *usecase.ScopeService
	hub    *stream.Hub

	adminAPIKey string
	authorizer  domain.Authorizer
	initErr     error

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool

	redis      redis.UniversalClient
	background []func(ctx context.Context) error
}

// NewServer wires the full service from configuration. Wiring errors are kept
// and reported by Run.
func NewServer(cfg config.Config, store *db.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, store: store, logger: logger}
	s.initDeps()
	s.r = s.newEngine()
	s.routes()
	return s
}

type ServerDeps struct {
	Chain       *usecase.AuditChain
	Scopes      *usecase.ScopeService
	Hub         *stream.Hub
	Authorizer  domain.Authorizer
	RateLimiter domain.RateLimiter
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	AdminAPIKey string
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		chain:       deps.Chain,
		scopes:      deps.Scopes,
		hub:         deps.Hub,
		authorizer:  deps.Authorizer,
		adminAPIKey: deps.AdminAPIKey,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.adminAPIKey == "" {
		s.adminAPIKey = cfg.AdminAPIKey
	}
	s.initRateLimit(deps.RateLimiter)
	if cfg.AuthMode == "header" && s.authorizer == nil {
		s.initErr = errors.New("header auth requires an authorizer")
	}
	s.r = s.newEngine()
	s.routes()
	return s
}

func (s *Server) newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	return r
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey
	s.metrics = metrics.New()

	if s.store == nil || s.store.DB == nil {
		s.initErr = errors.New("database store is required")
		return
	}

	if s.cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
	}

	s.hub = stream.NewHub(s.cfg.StreamBuffer, s.metrics)
	var publisher usecase.EventPublisher = s.hub
	if s.redis != nil {
		relay := stream.NewRedisRelay(s.redis, s.hub, s.logger)
		publisher = relay
		s.background = append(s.background, relay.Run)
	}

	s.chain = usecase.NewAuditChain(db.NewAuditEventRepository(s.store.DB))
	s.chain.Publisher = publisher
	s.chain.Metrics = s.metrics
	s.chain.Logger = s.logger
	s.chain.MaxRetries = s.cfg.AppendMaxRetries

	recorder := usecase.NewRecorder(s.chain, s.logger)
	s.scopes = usecase.NewScopeService(db.NewScopeRepository(s.store.DB), recorder, cachemem.New(), s.cfg.ScopeCacheTTL(), nil)

	s.initRateLimit(nil)
	s.initAuth()
}

func (s *Server) initAuth() {
	switch s.cfg.AuthMode {
	case "":
		s.initErr = errors.New("AUTH_MODE is required")
	case "none":
		return
	case "header":
		if s.authorizer != nil {
			return
		}
		ctx := context.Background()
		var (
			engine *policyopa.Engine
			err    error
		)
		if s.cfg.PolicyPath != "" {
			engine, err = policyopa.NewEngineFromFile(ctx, s.cfg.PolicyPath)
		} else {
			engine, err = policyopa.NewDefaultEngine(ctx)
		}
		if err != nil {
			s.initErr = err
			return
		}
		s.logger.Info("access policy loaded", "path", engine.Path(), "policy_hash", engine.PolicyHash())
		if s.cfg.PolicyWatch {
			s.background = append(s.background, func(ctx context.Context) error {
				return policyopa.Watch(ctx, engine, s.logger)
			})
		}
		s.authorizer = usecase.NewAccessControl(engine, s.scopes)
	default:
		s.initErr = errors.New("unsupported auth mode")
	}
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.redis != nil {
			if limiter, err := ratelimit.NewRedisLimiter(s.redis, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		driver := "none"
		if s.store != nil {
			driver = s.store.Driver
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "driver": driver})
	})
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.r.Group("/v1")
	{
		v1.POST("/scopes", s.auth(domain.PermissionAdmin, true), s.handleCreateScope)
		v1.GET("/scopes/:scope_id", s.auth(domain.PermissionRead, false), s.handleGetScope)
		v1.POST("/scopes/:scope_id/events", s.auth(domain.PermissionAppend, true), s.handleAppendEvent)
		v1.GET("/scopes/:scope_id/events", s.auth(domain.PermissionRead, false), s.handleListEvents)
		v1.GET("/scopes/:scope_id/verify", s.auth(domain.PermissionVerify, false), s.handleVerify)
		v1.GET("/scopes/:scope_id/stream", s.auth(domain.PermissionRead, false), s.handleStream)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	for _, task := range s.background {
		go func(task func(context.Context) error) {
			if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("background task stopped", "error", err)
			}
		}(task)
	}

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("auditd listening", "addr", s.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return err
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			logger.Error("http request", append(attrs, "error", c.Errors.String())...)
			return
		}
		logger.Info("http request", attrs...)
	}
}
