package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// errorResponse is the body of every non-metrics response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRouter serves GET /metrics from reg. Every other path or method gets a
// JSON 404.
func NewRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Message: "Not Found"})
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// Server is the scrape endpoint.
type Server struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// NewServer returns a Server for stage's counters on port.
func NewServer(stage *Stage, port int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := fmt.Sprintf(":%d", port)
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(stage.Registry()),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Listen binds the server's port.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen on %s: %w", s.addr, err)
	}
	return ln, nil
}

// Serve answers scrapes on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
