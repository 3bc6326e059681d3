package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/monitoring"
)

const shutdownTimeout = 2 * time.Second

// Server serves worker metrics and health over HTTP
type Server struct {
	router   *gin.Engine
	http     *http.Server
	listener net.Listener
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// Config holds metrics server configuration
type Config struct {
	Development bool
	RateLimit   RateLimitConfig
}

// DefaultConfig returns the default metrics server configuration
func DefaultConfig() Config {
	return Config{RateLimit: DefaultRateLimitConfig()}
}

// NewServer creates a metrics server. Nothing listens until Start.
func NewServer(metrics *monitoring.Metrics, logger *logging.Logger, cfg Config) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(RateLimit(cfg.RateLimit))

	s := &Server{
		router:  router,
		metrics: metrics,
		logger:  logger,
	}

	// Register routes
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	s.logger.Info("Starting metrics server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or empty before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"metrics": s.metrics.Snapshot(),
	})
}
