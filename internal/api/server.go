package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/errors"
	"github.com/jaecopzm/postcraft-sub000/internal/gate"
	"github.com/jaecopzm/postcraft-sub000/internal/logging"
	"github.com/jaecopzm/postcraft-sub000/internal/metrics"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
)

// Server represents the HTTP admission API server
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	gate       *gate.Gate
	store      store.Store
	metrics    *metrics.Metrics
	logger     *logging.Logger
	guard      *IPGuard
	httpServer *http.Server
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new admission API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, g *gate.Gate, st store.Store, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if m == nil {
		m = metrics.NewMetrics("postcraft")
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	server := &Server{
		router:    gin.New(),
		config:    cfg,
		apiConfig: apiCfg,
		gate:      g,
		store:     st,
		metrics:   m,
		logger:    logger,
		guard:     NewIPGuard(apiCfg.Guard.RequestsPerMinute, apiCfg.Guard.Burst),
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(guardMiddleware(server.guard))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/health", s.handleHealth)

	if len(s.apiConfig.Auth.APIKeys) > 0 {
		s.logger.Info("API key auth enabled", "keys", MaskAPIKeys(s.apiConfig.Auth.APIKeys))
	}
	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)

	base := s.apiConfig.BasePath
	if base == "" {
		base = "/v1"
	}

	v1 := s.router.Group(base)
	v1.Use(authMiddleware)
	{
		v1.POST("/admit", s.handleAdmit)
		v1.GET("/usage/:account_id", s.handleUsage)
		v1.GET("/limits/:identifier", s.handleInspectLimit)
		v1.PUT("/accounts/:id", s.handleUpsertAccount)
		v1.GET("/accounts/:id", s.handleGetAccount)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	var err error
	if s.config.TLS() {
		s.logger.Info("starting HTTPS server", "addr", addr)
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
	} else {
		s.logger.Info("starting HTTP server", "addr", addr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown gracefully shuts down the server and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("HTTP server shutdown error", "error", err.Error())
				errs <- err
			}
		}()
	}

	if s.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Close(); err != nil {
				errs <- fmt.Errorf("store close: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	var errList []error
	for err := range errs {
		if err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	storeHealthy := true
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			storeHealthy = false
		}
	}

	status := http.StatusOK
	statusText := "healthy"
	if !storeHealthy {
		// The admission path fails open, so a degraded store is reported but
		// the service stays up.
		statusText = "degraded"
	}

	c.JSON(status, gin.H{
		"status":    statusText,
		"store":     s.store.Backend(),
		"timestamp": time.Now().UTC(),
	})
}
