package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health is what /health reports.
type Health struct {
	Status    string    `json:"status"`
	LastMerge time.Time `json:"last_merge,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// HealthFunc produces the current health snapshot.
type HealthFunc func() Health

// Server exposes /metrics and /health.
type Server struct {
	addr   string
	health HealthFunc
	log    *slog.Logger
	server *http.Server
}

func NewServer(addr string, health HealthFunc, log *slog.Logger) *Server {
	return &Server{addr: addr, health: health, log: log}
}

// Handler builds the route set; split out so tests can hit it
// without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.health()
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
	return mux
}

func (s *Server) Start() {
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.log.Info("observability server starting", slog.String("addr", s.addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("observability server failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
