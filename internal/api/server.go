// Package api exposes the operational HTTP surface: health, metrics, and
// run control (status, pause, resume, abort).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/metrics"
	"github.com/JakeFAU/crawlpool/internal/scheduler"
)

// Pool is the control surface the API needs from the scheduler.
type Pool interface {
	Status() scheduler.RunStatus
	Pause()
	Resume()
	Abort()
}

// Config controls the HTTP listener.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the ops endpoints for one pool.
type Server struct {
	cfg    Config
	pool   Pool
	logger *zap.Logger
	srv    *http.Server
}

// New builds a Server around the given pool.
func New(cfg Config, pool Pool, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	s := &Server{cfg: cfg, pool: pool, logger: logger}
	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the router; exposed separately for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1/run", func(r chi.Router) {
		r.Get("/", s.handleStatus)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/abort", s.handleAbort)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", s.cfg.Listen))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pool.Status())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.pool.Pause()
	s.logger.Info("pause requested via api")
	s.writeJSON(w, http.StatusAccepted, s.pool.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.pool.Resume()
	s.logger.Info("resume requested via api")
	s.writeJSON(w, http.StatusAccepted, s.pool.Status())
}

func (s *Server) handleAbort(w http.ResponseWriter, _ *http.Request) {
	s.pool.Abort()
	s.logger.Info("abort requested via api")
	s.writeJSON(w, http.StatusAccepted, s.pool.Status())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}
