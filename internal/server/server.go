// Package server exposes execution requests, process status, reports and the
// live feed over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/observability"
)

const requestTimeout = 60 * time.Second

// Server hosts the API router.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer builds the router. metrics may be nil, in which case /metrics is
// not served.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, handlers *Handlers, metrics *observability.Metrics) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		handlers.RegisterRoutes(r)
		if metrics != nil {
			r.Method(http.MethodGet, "/metrics", metrics.Handler())
		}
	})
	r.Group(func(r chi.Router) {
		handlers.RegisterStreamRoutes(r)
	})

	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		handler: r,
	}
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening.", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server.")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
			return err
		}
		return nil
	})
	return g.Wait()
}
