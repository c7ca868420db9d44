// Package httpapi exposes the server's plain-HTTP surface: liveness for
// operators, Prometheus metrics and the match-data proxy routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/config"
	"github.com/watsonu/WebChat-Furia/internal/metrics"
)

// HealthSource reports whether the backing store is reachable.
type HealthSource interface {
	Healthy(ctx context.Context) bool
}

// ConnectionCounter reports the current size of the connection registry.
type ConnectionCounter interface {
	Count() int
}

// MatchSource serves the team's upcoming and live match data.
type MatchSource interface {
	Upcoming(ctx context.Context) ([]json.RawMessage, error)
	Live(ctx context.Context) (json.RawMessage, error)
}

// Server is the sidecar HTTP server next to the WebSocket transport.
type Server struct {
	cfg     config.HTTPConfig
	logger  *zap.Logger
	health  HealthSource
	conns   ConnectionCounter
	matches MatchSource
	metrics *metrics.Registry
}

func NewServer(cfg config.HTTPConfig, logger *zap.Logger, health HealthSource, conns ConnectionCounter, matches MatchSource, m *metrics.Registry) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		health:  health,
		conns:   conns,
		matches: matches,
		metrics: m,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/matches/upcoming", s.handleUpcoming)
	mux.HandleFunc("/api/matches/live", s.handleLive)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", zap.String("addr", s.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// handleHealth reflects the live store probe and registry size. A dead store
// turns the whole endpoint non-2xx so load balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbConnected := s.health.Healthy(r.Context())

	status := "healthy"
	code := http.StatusOK
	if !dbConnected {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	s.writeJSON(w, code, map[string]any{
		"status":      status,
		"dbConnected": dbConnected,
		"connections": s.conns.Count(),
	})
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	upcoming, err := s.matches.Upcoming(r.Context())
	if err != nil {
		s.logger.Warn("upcoming matches fetch failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to fetch matches"})
		return
	}
	if upcoming == nil {
		upcoming = []json.RawMessage{}
	}
	s.writeJSON(w, http.StatusOK, upcoming)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	live, err := s.matches.Live(r.Context())
	if err != nil {
		s.logger.Warn("live score fetch failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to fetch live score"})
		return
	}
	if live == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "no live match"})
		return
	}
	s.writeJSON(w, http.StatusOK, live)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}
