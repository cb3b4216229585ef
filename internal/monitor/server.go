// Package monitor serves health, metrics and a manual trigger over HTTP.
package monitor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/digestbot/internal/digest"
	"github.com/deusflow/digestbot/internal/logger"
	"github.com/deusflow/digestbot/internal/metrics"
	"github.com/deusflow/digestbot/internal/ratelimit"
)

// Runner starts a manual digest run.
type Runner interface {
	RunManual(ctx context.Context) (*digest.Report, error)
}

// StatsSource is anything that reports a flat stats map.
type StatsSource interface {
	GetStats() map[string]interface{}
}

type Options struct {
	Addr    string
	APIKey  string // empty disables POST /api/digest
	Runner  Runner
	Metrics *metrics.Metrics
	Limiter StatsSource
	// NextRun reports the next scheduled digest, zero if unknown.
	NextRun func() time.Time
	Logger  *slog.Logger
}

type Server struct {
	opts   Options
	engine *gin.Engine
	http   *http.Server
	log    *slog.Logger
}

func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{opts: opts, log: logger.Or(opts.Logger)}
	if s.opts.Metrics == nil {
		s.opts.Metrics = metrics.New()
	}

	r := gin.New()
	r.Use(s.requestLogger())
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/metrics", s.stats)

	api := r.Group("/api")
	api.Use(s.requireAPIKey())
	{
		api.POST("/digest", s.triggerDigest)
	}

	s.engine = r
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a manual run waits for the whole pipeline
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("Monitoring server listening", "addr", s.opts.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitoring server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.APIKey == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "manual trigger over HTTP is disabled"})
			return
		}
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if !s.opts.Metrics.Healthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.opts.NextRun != nil {
		if next := s.opts.NextRun(); !next.IsZero() {
			body["next_run"] = next.Format(time.RFC3339)
		}
	}
	c.JSON(code, body)
}

func (s *Server) stats(c *gin.Context) {
	body := gin.H{
		"timestamp": time.Now().Format(time.RFC3339),
		"digest":    s.opts.Metrics.GetStats(),
	}
	if s.opts.Limiter != nil {
		body["manual_limiter"] = s.opts.Limiter.GetStats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) triggerDigest(c *gin.Context) {
	if s.opts.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no digest runner configured"})
		return
	}

	report, err := s.opts.Runner.RunManual(c.Request.Context())
	var de *digest.DeliveryError
	switch {
	case errors.Is(err, digest.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ratelimit.ErrLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.As(err, &de):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": reportJSON(report)})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent", "report": reportJSON(report)})
}

func reportJSON(r *digest.Report) gin.H {
	if r == nil {
		return nil
	}
	return gin.H{
		"trigger":        string(r.Trigger),
		"domestic":       r.Domestic,
		"international":  r.International,
		"selected":       r.Selected,
		"failed_sources": r.FailedSources,
		"not_found":      r.NotFound,
		"chars":          r.Chars,
		"duration_ms":    r.Duration.Milliseconds(),
	}
}
