// Package server is the inbound HTTP transport: the task acceptance
// endpoint, probes, metrics and the run status API.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/pagesmith/internal/engine"
	"github.com/p-blackswan/pagesmith/internal/health"
	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/models"
	"github.com/p-blackswan/pagesmith/internal/requestid"
)

// Engine accepts tasks and exposes run snapshots.
type Engine interface {
	Submit(task models.Task) (string, error)
	Get(id string) (engine.Run, bool)
	List() []engine.Run
}

// Config holds configuration for the server.
type Config struct {
	ListenAddr   string
	SharedSecret string
	MgmtAPIKey   string // enables the run status API when set
	RateLimit    RateLimitConfig
	CORSOrigins  string
	BodyLimit    int
}

// Server is the Fiber application.
type Server struct {
	app     *fiber.App
	engine  Engine
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  Config
}

// New creates and configures the server. checker and m may be nil.
func New(cfg Config, eng Engine, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 10 * 1024 * 1024
	}
	if checker == nil {
		checker = health.NewChecker(logger)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	s := &Server{
		app:     app,
		engine:  eng,
		checker: checker,
		metrics: m,
		logger:  logger,
		config:  cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.Middleware())

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	if s.config.RateLimit.RPS > 0 {
		s.app.Use(newRateLimitMiddleware(newRateLimiter(s.config.RateLimit)))
	}

	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", c.Response().StatusCode()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", requestid.FromFiber(c)).
			Msg("request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.Liveness)
	s.app.Get("/readyz", s.checker.Readiness)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	s.app.Post("/api-endpoint", s.acceptTask)

	if s.config.MgmtAPIKey != "" {
		v1 := s.app.Group("/api/v1", bearerAuth(s.config.MgmtAPIKey, s.logger))
		v1.Get("/runs", s.listRuns)
		v1.Get("/runs/:id", s.getRun)
	}
}

// Start listens on the configured address. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8000"
	}
	s.logger.Info().Str("addr", addr).Msg("server starting")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for open requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
