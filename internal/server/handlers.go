package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/chazu/mfhost/internal/host"
	"github.com/chazu/mfhost/pkg/federation"
)

// ExportResponse describes a loaded export
type ExportResponse struct {
	Key      string    `json:"key"`
	URL      string    `json:"url"`
	LoadedAt time.Time `json:"loadedAt"`
	Attempts int       `json:"attempts"`
}

// InvalidateResponse reports how many records an invalidation removed
type InvalidateResponse struct {
	Scope   string `json:"scope"`
	Removed int    `json:"removed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	manifest := s.host.Config()
	if manifest == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, host.ErrNotStarted)
		return
	}
	s.writeJSON(w, r, http.StatusOK, manifest)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	manifest, err := s.host.Reload(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusGatewayTimeout, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, manifest)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.host.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.host.HealthCheck(r.Context()))
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	module := r.URL.Query().Get("module")

	var opts []federation.LoadOption
	if raw := r.URL.Query().Get("attempts"); raw != "" {
		attempts, err := strconv.Atoi(raw)
		if err != nil || attempts < 1 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("attempts must be a positive integer, got %q", raw))
			return
		}
		opts = append(opts, federation.WithAttempts(attempts))
	}

	export, err := s.host.Mount(r.Context(), scope, module, opts...)
	if err != nil {
		var recent *federation.RecentFailureError
		if errors.As(err, &recent) {
			w.Header().Set("Retry-After", strconv.Itoa(int(recent.RetryAfter.Round(time.Second).Seconds())))
		}
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, ExportResponse{
		Key:      export.Key.String(),
		URL:      export.URL,
		LoadedAt: export.LoadedAt,
		Attempts: export.Attempts,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	removed := s.host.Invalidate(scope)
	s.writeJSON(w, r, http.StatusOK, InvalidateResponse{Scope: scope, Removed: removed})
}

// statusFor maps load errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrUnknownScope):
		return http.StatusNotFound
	case errors.Is(err, host.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, host.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, federation.ErrRecentFailure):
		return http.StatusTooManyRequests
	case errors.Is(err, federation.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(err, "Failed to encode response", "path", r.URL.Path)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// requestLogger logs each request at V(1)
func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.V(1).Info("Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
				"requestID", middleware.GetReqID(r.Context()))
		})
	}
}
