package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/jabook/bookcache/internal/config"
	"github.com/jabook/bookcache/internal/controllers"
)

// Server exposes the cache over HTTP
type Server struct {
	app    *fiber.App
	cache  *controllers.CacheController
	port   string
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, cache *controllers.CacheController, logger *logrus.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
	})

	s := &Server{
		app:    app,
		cache:  cache,
		port:   cfg.ServerPort,
		logger: logger,
	}

	app.Use(requestLogger(logger))
	s.setupRoutes()

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/status", s.handleStatus)
	s.app.Get("/search", s.handleSearch)

	s.app.Post("/api/sync", s.handleStartSync)
	s.app.Post("/api/sync/stop", s.handleStopSync)
	s.app.Get("/api/progress", s.handleProgress)
	s.app.Post("/api/cleanup", s.handleCleanup)
	s.app.Post("/api/cache/clear", s.handleClearCache)
	s.app.Post("/api/index/rebuild", s.handleRebuildIndex)
	s.app.Get("/api/settings", s.handleGetSettings)
	s.app.Put("/api/settings", s.handleUpdateSettings)
	s.app.Get("/api/similar/:topicID", s.handleSimilar)

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.WithField("port", s.port).Info("Starting HTTP server")
	return s.app.Listen(":" + s.port)
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// requestLogger logs every HTTP request with its status and duration
func requestLogger(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		logger.WithFields(logrus.Fields{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": c.IP(),
		}).Info("HTTP request")

		return err
	}
}
