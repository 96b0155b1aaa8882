package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics (Prometheus exposition format) and /health on
// its own listener, separate from the webhook ingress server, so
// scraping never competes with request traffic. Shape grounded on
// jordigilh-kubernaut's pkg/metrics.Server (NewServer/StartAsync/Stop).
type Server struct {
	server *http.Server
	log    *slog.Logger
}

func NewServer(port string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux},
		log:    log,
	}
}

// StartAsync starts the server in the background. Listen errors other
// than a clean shutdown are logged, not returned, since this runs
// detached from the caller's lifecycle.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
