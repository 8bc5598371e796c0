// Package api exposes a small local status endpoint so scrapers and
// humans can check the monitor without reading logs.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
	"ipwatch/internal/version"
)

// StatusProvider supplies the current monitor state
type StatusProvider interface {
	Status() types.Status
}

// response represents the standard API response envelope
type response struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Server serves the status API
type Server struct {
	cfg    *config.APIConfig
	srv    *http.Server
	status StatusProvider
	logger *zap.Logger
}

// NewServer creates the status API server
func NewServer(cfg *config.APIConfig, status StatusProvider, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		status: status,
		logger: logger,
	}

	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery())

	engine.GET("/healthz", s.handleHealth)

	v1 := engine.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/version", s.handleVersion)

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status API listening", zap.String("addr", s.cfg.Listen))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status API server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger logs each request with zap
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("API request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, response{
		Code:      http.StatusOK,
		Message:   "ok",
		Timestamp: time.Now(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, response{
		Code:      http.StatusOK,
		Message:   "success",
		Data:      s.status.Status(),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, response{
		Code:      http.StatusOK,
		Message:   "success",
		Data:      version.GetInfo(),
		Timestamp: time.Now(),
	})
}
