package favsync

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/bragi/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	statusNode      = "bragisync"
	shutdownTimeout = 5 * time.Second
	version         = "0.1.0"
)

// StatusServer exposes bridge health, readiness and metrics over HTTP.
type StatusServer struct {
	bridge *Bridge
	addr   string
	router *gin.Engine
}

func NewStatusServer(b *Bridge, addr string, corsOrigins []string) *StatusServer {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/ready", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(statusNode))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{bridge: b, addr: addr, router: r}
	s.registerRoutes()
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.bridge.started).String(),
			"service": statusNode,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.bridge.Connected()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.bridge.started).String(),
			"service": statusNode,
			"version": version,
		})
	})

	s.router.GET("/state", func(c *gin.Context) {
		body := gin.H{
			"connected":     s.bridge.Connected(),
			"player_id":     s.bridge.cfg.PlayerID,
			"input_boolean": s.bridge.cfg.InputBoolean,
			"favorite":      nil,
		}
		if fav, ok := s.bridge.LastFavorite(); ok {
			body["favorite"] = fav
		}
		c.JSON(http.StatusOK, body)
	})
}

// Serve listens on the configured address until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *StatusServer) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve runs the sync loop and, when status_addr is set, the status server.
// A status server failure stops the sync loop too.
func (b *Bridge) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if strings.TrimSpace(b.cfg.StatusAddr) != "" {
		status := NewStatusServer(b, b.cfg.StatusAddr, b.cfg.CorsOrigins)
		g.Go(func() error {
			return status.Serve(gctx)
		})
	}
	g.Go(func() error {
		return b.Run(gctx)
	})
	return g.Wait()
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:8123"}
	}
	return origins
}
