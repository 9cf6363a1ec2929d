package server

import (
	"context"
	"net/http"
	"time"

	"github.com/civicmesh/presence/internal/database"
	"github.com/civicmesh/presence/internal/realtime"
	"github.com/civicmesh/presence/internal/realtime/ws"
	"github.com/civicmesh/presence/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the websocket entry point plus the monitoring and
// presence read surface
type Server struct {
	logger  *zap.Logger
	engine  *gin.Engine
	manager *realtime.Manager
	db      database.Database
	httpSrv *http.Server
}

// New creates the HTTP server and registers its routes
func New(logger *zap.Logger, manager *realtime.Manager, db database.Database, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		logger:  logger.Named("server"),
		engine:  engine,
		manager: manager,
		db:      db,
	}

	wsHandler := ws.NewHandler(logger, manager)
	engine.GET("/ws", wsHandler.Handle)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/api/presence", s.handlePresence)
	engine.GET("/api/sessions", s.handleSessions)
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	return s
}

// Engine returns the underlying gin engine, mainly for tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts serving on addr, blocking until the server stops
func (s *Server) Run(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Health())
}

// handlePresence reads the persisted connection table, the durable
// mirror of who is online
func (s *Server) handlePresence(c *gin.Context) {
	records, err := s.db.ListConnections(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list connections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":       len(records),
		"connections": records,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":    s.manager.ConnectionCount(),
		"sessions": s.manager.Sessions(),
		"retries":  s.manager.RetryAttempts(),
	})
}

// requestLogger logs each HTTP request with zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
