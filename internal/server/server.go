package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"kiro-relay/internal/config"
	"kiro-relay/internal/metrics"
	"kiro-relay/internal/models"
	"kiro-relay/internal/proxy"
	"kiro-relay/internal/storage"
	"kiro-relay/internal/translator"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	// writeTimeout leaves room for the full upstream timeout plus replay.
	writeTimeout = 90 * time.Second
	idleTimeout  = 120 * time.Second
)

// Proxy handles one canonical request.
type Proxy interface {
	Handle(ctx context.Context, dialect translator.Dialect, req models.CanonicalRequest) (proxy.Result, error)
}

// APIKeyLookup resolves caller keys. It returns storage.ErrNotFound for
// unknown or disabled keys.
type APIKeyLookup interface {
	LookupAPIKey(ctx context.Context, value string) (storage.APIKey, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server needs. Metrics, Health and Logger are
// optional; APIKeys may be nil only when auth is disabled.
type Deps struct {
	Proxy   Proxy
	Catalog *models.Catalog
	APIKeys APIKeyLookup
	Health  Pinger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type Server struct {
	cfg     config.Config
	proxy   Proxy
	catalog *models.Catalog
	apiKeys APIKeyLookup
	health  Pinger
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Proxy == nil {
		return nil, errors.New("proxy must not be nil")
	}
	if deps.APIKeys == nil && !cfg.Server.DisableAuth {
		return nil, errors.New("api key lookup is required unless server.disable_auth is set")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:     cfg,
		proxy:   deps.Proxy,
		catalog: deps.Catalog,
		apiKeys: deps.APIKeys,
		health:  deps.Health,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     deps.Now,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}
	if srv.catalog == nil {
		srv.catalog = models.DefaultCatalog()
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			srv.logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, headerAPIKey, "anthropic-version"},
		}))
	}
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	srv.app = e
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	s.logger.Info("starting server", "addr", s.address, "auth", !s.cfg.Server.DisableAuth)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.app.Group("/v1")
	if rl := s.cfg.Server.RateLimit; rl.RequestsPerSecond > 0 {
		v1.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(rl.RequestsPerSecond),
				Burst:     rl.Burst,
				ExpiresIn: rl.ExpiresIn,
			}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return requestError{Status: http.StatusTooManyRequests, Message: "rate limit exceeded", Type: translator.ErrorTypeRateLimit}
			},
		}))
	}
	if !s.cfg.Server.DisableAuth {
		v1.Use(s.requireAPIKey)
	}

	v1.POST("/messages", s.handleMessages, withDialect(translator.DialectAnthropic))
	v1.POST("/chat/completions", s.handleChatCompletions, withDialect(translator.DialectOpenAI))
	v1.GET("/models", s.handleListModels)
	v1.GET("/models/:id", s.handleGetModel)
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("kiro-relay ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  POST /v1/messages")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  GET  /v1/models")
	fmt.Printf("Messages example:\n  curl http://%s:%d/v1/messages -H 'x-api-key: <key>' -H 'Content-Type: application/json' -d '{\"model\":\"claude-sonnet-4-5\",\"max_tokens\":1024,\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
