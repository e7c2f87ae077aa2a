// Package api provides the HTTP surface of a destiny node: the robot
// polling protocol, robot/automation registration, and the read/write
// endpoints driving ingestion and enhancement requests.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/destiny/pkg/blob"
	"github.com/codeready-toolchain/destiny/pkg/config"
	"github.com/codeready-toolchain/destiny/pkg/database"
	"github.com/codeready-toolchain/destiny/pkg/ingestion"
	"github.com/codeready-toolchain/destiny/pkg/metrics"
	"github.com/codeready-toolchain/destiny/pkg/orchestrator"
	"github.com/codeready-toolchain/destiny/pkg/store"
	"github.com/codeready-toolchain/destiny/pkg/taskbus"
)

// Server is the HTTP API server fronting a destiny node.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	dbClient   *database.Client

	imports *store.ImportStore
	robots  *store.RobotStore
	blobs   *blob.Gateway

	pipeline     *ingestion.Pipeline
	orchestrator *orchestrator.Orchestrator

	workerPool *taskbus.Pool    // nil until set
	metrics    *metrics.Registry // nil until set
}

// NewServer creates a new API server with Echo v5, wiring the dependencies
// every route needs. Optional pieces (worker pool health) are wired
// afterward through their Set* method.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	imports *store.ImportStore,
	robots *store.RobotStore,
	blobs *blob.Gateway,
	pipeline *ingestion.Pipeline,
	orch *orchestrator.Orchestrator,
) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		cfg:          cfg,
		dbClient:     dbClient,
		imports:      imports,
		robots:       robots,
		blobs:        blobs,
		pipeline:     pipeline,
		orchestrator: orch,
	}

	s.setupRoutes()
	return s
}

// SetWorkerPool wires the taskbus worker pool for the health endpoint.
func (s *Server) SetWorkerPool(pool *taskbus.Pool) {
	s.workerPool = pool
}

// SetMetrics wires a metrics registry, exposing it at GET /metrics.
func (s *Server) SetMetrics(m *metrics.Registry) {
	s.metrics = m
	handler := m.Handler()
	s.echo.GET("/metrics", func(c *echo.Context) error {
		handler.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

// ValidateWiring checks that every required dependency was supplied to
// NewServer, catching a wiring gap at startup instead of a nil-pointer
// panic at request time.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.imports == nil {
		errs = append(errs, fmt.Errorf("imports store not set"))
	}
	if s.robots == nil {
		errs = append(errs, fmt.Errorf("robots store not set"))
	}
	if s.blobs == nil {
		errs = append(errs, fmt.Errorf("blob gateway not set"))
	}
	if s.pipeline == nil {
		errs = append(errs, fmt.Errorf("ingestion pipeline not set"))
	}
	if s.orchestrator == nil {
		errs = append(errs, fmt.Errorf("orchestrator not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers every route this node serves.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(16 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/import-uploads", s.createImportUploadHandler)
	v1.POST("/import-batches", s.createImportBatchHandler)
	v1.GET("/import-batches/:id", s.getImportBatchHandler)

	v1.POST("/robots", s.registerRobotHandler)
	v1.POST("/robots/:robot_id/automations", s.registerAutomationHandler)

	v1.POST("/enhancement-requests", s.createEnhancementRequestHandler)
	v1.GET("/enhancement-requests/:id", s.getEnhancementRequestHandler)

	robotProtocol := v1.Group("", s.robotAuthMiddleware())
	robotProtocol.POST("/robot-enhancement-batches", s.pullBatchHandler)
	robotProtocol.GET("/robot-enhancement-batches/:batch_id", s.refreshBatchHandler)
	robotProtocol.POST("/robot-enhancement-batches/:batch_id/results", s.submitResultHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.echo,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server, bounded by
// ServerConfig.ShutdownTimeout if ctx carries no earlier deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
