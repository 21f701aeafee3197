// Package opsapi serves health, stats, positions, metrics and the pause /
// resume / kill control plane over HTTP.
package opsapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
)

// Controller is the trading control plane.
type Controller interface {
	Pause(reason string)
	Resume() bool
	Kill(ctx context.Context) (int, error)
}

// Deps is what the server reads from. Stats and Positions are called per
// request and must be safe for concurrent use.
type Deps struct {
	Control   Controller
	Health    *observability.HealthMonitor
	Gatherer  prometheus.Gatherer
	Stats     func() any
	Positions func() any
}

type Server struct {
	deps        Deps
	engine      *gin.Engine
	srv         *http.Server
	killTimeout time.Duration
}

func New(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		deps:        deps,
		engine:      gin.New(),
		killTimeout: 30 * time.Second,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.health)
	r.GET("/stats", func(c *gin.Context) { c.JSON(http.StatusOK, s.deps.Stats()) })
	r.GET("/positions", func(c *gin.Context) { c.JSON(http.StatusOK, s.deps.Positions()) })
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(observability.Handler(s.deps.Gatherer)))
	}

	ctl := r.Group("/control")
	ctl.POST("/pause", s.pause)
	ctl.POST("/resume", s.resume)
	ctl.POST("/kill", s.kill)
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": observability.StatusHealthy})
		return
	}
	h := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if h.Status == observability.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) pause(c *gin.Context) {
	reason := c.DefaultQuery("reason", "ops request")
	s.deps.Control.Pause(reason)
	log.Warn().Str("reason", reason).Msg("opsapi: trading paused")
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resume(c *gin.Context) {
	if !s.deps.Control.Resume() {
		c.JSON(http.StatusConflict, gin.H{"status": "killed", "error": "kill switch active, restart required"})
		return
	}
	log.Info().Msg("opsapi: trading resumed")
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// kill blocks until the liquidation pass returns or times out.
func (s *Server) kill(c *gin.Context) {
	log.Error().Msg("opsapi: KILL SWITCH requested, closing all positions")
	ctx, cancel := context.WithTimeout(context.Background(), s.killTimeout)
	defer cancel()

	closed, err := s.deps.Control.Kill(ctx)
	body := gin.H{"status": "killed", "closed": closed}
	if err != nil {
		body["error"] = err.Error()
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("opsapi: listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("opsapi: stopped")
	return nil
}
