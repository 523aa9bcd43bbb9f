package bot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/sonata/internal/health"
	"github.com/MrWong99/sonata/internal/observe"
	"github.com/MrWong99/sonata/pkg/sonata"
)

// Server exposes the operational HTTP endpoints: Prometheus metrics on
// /metrics and health probes on /healthz and /readyz.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds the operational HTTP server for the given pool.
func NewServer(addr string, pool *sonata.Pool) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.NodesConnected(pool)).Register(mux)

	handler := observe.Middleware(observe.DefaultMetrics())(mux)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: slog.Default().With("component", "http"),
	}
}

// Start serves in a background goroutine until Shutdown is called.
func (s *Server) Start() {
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "err", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
