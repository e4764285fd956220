package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

// RunTrigger starts pipeline stages in the background.
type RunTrigger interface {
	Trigger(ctx context.Context, target pipeline.Target, w domain.Window, p pipeline.RetryPolicy) (<-chan error, error)
}

// Server exposes health, readiness, metrics, and run trigger HTTP endpoints.
type Server struct {
	httpServer *http.Server
	runCtx     context.Context
	runs       RunTrigger
	policy     pipeline.RetryPolicy
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics routes.
// When runs is non-nil it also serves POST /runs; triggered runs live in ctx
// rather than in the request that started them.
func NewServer(ctx context.Context, addr string, ready sharedobs.ReadinessChecker, runs RunTrigger, policy pipeline.RetryPolicy, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		runCtx: ctx,
		runs:   runs,
		policy: policy,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if runs != nil {
		mux.HandleFunc("POST /runs", s.handleRun)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleRun starts ?stage= (default all) for ?date= (default the previous
// UTC day) and answers 202 without waiting for the outcome.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := pipeline.ParseTarget(q.Get("stage"))
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	window := domain.PreviousDay(domain.Now())
	if d := q.Get("date"); d != "" {
		if window, err = domain.ParseDate(d); err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if _, err := s.runs.Trigger(s.runCtx, target, window, s.policy); err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{"status": "busy", "error": err.Error()})
			return
		}
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("run triggered", "stage", target, "window_start", window.Start)
	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"stage":  target,
		"window": window,
	})
}
