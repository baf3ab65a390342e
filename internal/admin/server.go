// Package admin serves a read-only HTTP view of a running node.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/relink/internal/auth"
	"github.com/danmuck/relink/internal/conn"
	"github.com/danmuck/relink/internal/logging"
	"github.com/danmuck/relink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const Version = "0.0.1"

// Source supplies the roster view. Implementations must be safe to call from
// the HTTP goroutines.
type Source interface {
	Snapshot() conn.Snapshot
	Ready() bool
}

// Config configures the admin router. A non-empty Token gates /peers and
// /metrics behind a bearer token.
type Config struct {
	Name        string
	CorsOrigins []string
	Token       string
}

type Server struct {
	Name    string
	Started time.Time

	src    Source
	router *gin.Engine
	log    zerolog.Logger
}

func New(cfg Config, src Source) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	logger := logging.Component("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:    cfg.Name,
		Started: time.Now(),
		src:     src,
		router:  r,
		log:     logger,
	}
	s.registerRoutes(cfg.Token)
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes(token string) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"node":    s.Name,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.src.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Started).String(),
			"node":    s.Name,
			"version": Version,
		})
	})

	private := s.router.Group("/")
	if token != "" {
		private.Use(auth.Require(auth.StaticToken{Token: token}))
	}
	private.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.src.Snapshot())
	})
	private.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("admin.Server.serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("admin.Server.serve shutdown")
			return err
		}
		s.log.Info().Msg("admin.Server.serve shutdown")
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
