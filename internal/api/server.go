package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/onchainlabs1/sentinel/internal/services"
	"github.com/onchainlabs1/sentinel/internal/stream"
)

// Server exposes the incident API over HTTP.
type Server struct {
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(logger *slog.Logger, addr string, svc *services.Service, hub *stream.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	h := &handlers{logger: logger, svc: svc, hub: hub}

	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/signals", h.reportSignal)
		v1.GET("/incidents", h.listIncidents)
		v1.GET("/incidents/:id", h.getIncident)
		v1.POST("/incidents/:id/reclassify", h.reclassifyIncident)
		v1.POST("/incidents/:id/resolve", h.resolveIncident)
		v1.GET("/patterns", h.listPatterns)
		v1.GET("/stats", h.getStats)
		v1.GET("/stream", h.streamEvents)
	}

	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}
