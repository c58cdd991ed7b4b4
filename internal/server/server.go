package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/dashboard"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Dashboard interface {
	Snapshot() dashboard.Snapshot
	TriggerRefresh() error
	Subscribe() (<-chan dashboard.Snapshot, func())
}

type ServerConfig struct {
	Logger    *slog.Logger
	Dashboard Dashboard
	Config    *config.Config

	// MetricsHandler serves /metrics. Defaults to the prometheus handler.
	MetricsHandler http.Handler
	// Middleware wraps the API handler, e.g. for tracing.
	Middleware func(http.Handler) http.Handler
	// AllowedOrigins lists extra websocket origins. Same-origin requests are
	// always allowed.
	AllowedOrigins []string
}

func (c *ServerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Dashboard == nil {
		return errors.New("dashboard is required")
	}
	if c.Config == nil {
		return errors.New("config is required")
	}
	if c.MetricsHandler == nil {
		c.MetricsHandler = promhttp.Handler()
	}
	return nil
}

type Server struct {
	log *slog.Logger
	cfg *ServerConfig

	Mux *http.ServeMux
}

func NewServer(cfg *ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		Mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.Mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.Mux.HandleFunc("GET /api/samples", s.handleSamples)
	s.Mux.HandleFunc("GET /api/nodes", s.handleNodes)
	s.Mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.Mux.HandleFunc("GET /api/history", s.handleHistory)
	s.Mux.HandleFunc("GET /api/locations", s.handleLocations)
	s.Mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.Mux.HandleFunc("GET /api/stream", s.handleStream)
	s.Mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.Mux.Handle("GET /metrics", s.cfg.MetricsHandler)
}

// Handler returns the root handler with the configured middleware applied.
func (s *Server) Handler() http.Handler {
	if s.cfg.Middleware != nil {
		return s.cfg.Middleware(s.Mux)
	}
	return s.Mux
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.log.Info("server: listening", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server: shutdown error", "error", err)
		} else {
			s.log.Info("server: shutdown via context")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			s.log.Info("server: closed")
			return nil
		}
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, format string, args ...any) {
	http.Error(w, fmt.Sprintf(format, args...), status)
}
