// Package server exposes the host's operational HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/pkg/federation"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 5 * time.Second

// Host is the part of the host the server drives
type Host interface {
	Ready() bool
	Config() *v1alpha1.RegistryResponse
	Reload(ctx context.Context) (*v1alpha1.RegistryResponse, error)
	Stats() federation.Stats
	HealthCheck(ctx context.Context) federation.HealthReport
	Mount(ctx context.Context, scope, module string, opts ...federation.LoadOption) (*federation.Export, error)
	Invalidate(scope string) int
}

// Server serves health endpoints, metrics and the host API
type Server struct {
	addr   string
	host   Host
	router chi.Router
	log    logr.Logger
}

// New creates a server for host listening on addr
func New(addr string, host Host) *Server {
	s := &Server{
		addr: addr,
		host: host,
		log:  logf.Log.WithName("server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Mount("/healthz", http.StripPrefix("/healthz", &healthz.Handler{
		Checks: map[string]healthz.Checker{"ping": healthz.Ping},
	}))
	r.Mount("/readyz", http.StripPrefix("/readyz", &healthz.Handler{
		Checks: map[string]healthz.Checker{"config": s.configLoaded},
	}))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/config", s.handleConfig)
		r.Post("/config/reload", s.handleReload)
		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
		r.Post("/modules/{scope}/load", s.handleLoad)
		r.Delete("/modules/{scope}", s.handleInvalidate)
	})
	return r
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Serving", "address", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) configLoaded(*http.Request) error {
	if !s.host.Ready() {
		return errors.New("configuration not loaded")
	}
	return nil
}
