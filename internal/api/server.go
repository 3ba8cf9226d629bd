// Package api exposes the engine's operations over HTTP: batch submission,
// the approval gate, and ledger-backed status reporting.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"perp-trade-engine/config"
	"perp-trade-engine/internal/engine"
	"perp-trade-engine/internal/ledger"
	"perp-trade-engine/internal/snapshot"
)

// HealthChecker is a named dependency probe reported by /health.
type HealthChecker struct {
	Name  string
	Check func(context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     *engine.Engine
	tracker    *snapshot.Tracker
	store      ledger.Store
	config     config.ServerConfig
	checkers   []HealthChecker
	logger     zerolog.Logger
}

// NewServer creates the API server and wires up routes.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, tracker *snapshot.Tracker,
	store ledger.Store, checkers []HealthChecker, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:   router,
		engine:   eng,
		tracker:  tracker,
		store:    store,
		config:   cfg,
		checkers: checkers,
		logger:   logger.With().Str("component", "APIServer").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/batches", s.handleSubmitBatch)
		v1.GET("/batches/:id", s.handleGetBatch)
		v1.GET("/batches/:id/records", s.handleBatchRecords)
		v1.POST("/batches/:id/approve", s.handleApprove)
		v1.POST("/batches/:id/reject", s.handleReject)
		v1.POST("/batches/:id/cancel", s.handleCancel)

		v1.GET("/positions", s.handlePositions)
		v1.GET("/orders/:symbol/:orderId", s.handleOrderStatus)
		v1.GET("/records", s.handleRecentRecords)
	}
}

// Start runs the HTTP server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch execution can take the full budget
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("API server stopped")
	return nil
}

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
