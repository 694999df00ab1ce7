package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/health"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/aescanero/flowdeploy/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RunStatusService answers run status queries
type RunStatusService interface {
	RunStatus(ctx context.Context, backendType, deployment, pathspec string) (domain.RunStatus, error)
}

// LifecycleService runs lifecycle operations on deployments and runs
type LifecycleService interface {
	CreateDeployment(ctx context.Context, backendType, flowFile string, deployerOpts, createOpts commands.Options) (*domain.DeploymentRecord, error)
	TriggerDeployment(ctx context.Context, backendType, deployment string, params commands.Options) (*domain.RunRecord, error)
	RunAction(ctx context.Context, verb commands.Verb, backendType, deployment, pathspec string) (bool, error)
	DeleteDeployment(ctx context.Context, backendType, deployment string) (bool, error)
}

// Server represents the HTTP API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	store     ports.DeploymentStore
	status    RunStatusService
	lifecycle LifecycleService
	health    BackendHealth
	logger    *zap.Logger
}

// BackendHealth reports the last probe results of the backends
type BackendHealth interface {
	GetStatus() []health.Status
	IsHealthy() bool
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Store  ports.DeploymentStore
	Status RunStatusService
	// Lifecycle is optional; without it the mutating routes answer 503
	Lifecycle LifecycleService
	// Health is optional; without it backends are not reported
	Health BackendHealth
	// Token, when set, is required as a bearer token on /api routes
	Token  string
	Logger *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		store:     cfg.Store,
		status:    cfg.Status,
		lifecycle: cfg.Lifecycle,
		health:    cfg.Health,
		logger:    cfg.Logger,
	}

	s.setupRoutes(cfg.Token)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(token string) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(AuthMiddleware(token))
	{
		v1.POST("/deployments", s.handleCreateDeployment)
		v1.GET("/deployments", s.handleListDeployments)
		v1.GET("/deployments/:name", s.handleGetDeployment)
		v1.DELETE("/deployments/:name", s.handleDeleteDeployment)
		v1.POST("/deployments/:name/trigger", s.handleTriggerDeployment)
		v1.GET("/deployments/:name/runs", s.handleListRuns)
		v1.GET("/runs/status", s.handleRunStatus)
		v1.POST("/runs/suspend", s.handleRunAction(commands.VerbSuspend))
		v1.POST("/runs/unsuspend", s.handleRunAction(commands.VerbUnsuspend))
		v1.POST("/runs/terminate", s.handleRunAction(commands.VerbTerminate))
	}
}

// SetupWebSocket adds the run event stream to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleRunStream(*gin.Context)
}) {
	s.router.GET("/api/v1/runs/ws", handler.HandleRunStream)
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
