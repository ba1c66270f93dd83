// Package api serves the debug and introspection HTTP endpoints of a running
// pipeline: probes, Prometheus metrics, a JSON snapshot, and the websocket
// snapshot feed.
package api

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitsync/internal/auth"
	"github.com/star/orbitsync/internal/health"
	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/pipeline"
	"github.com/star/orbitsync/internal/stream"
)

// Config holds debug server configuration.
type Config struct {
	Addr   string
	Auth   auth.Config
	Stream stream.Config
}

// Source is the pipeline view the server needs. *pipeline.Pipeline
// satisfies it.
type Source interface {
	Snapshot() *pipeline.Snapshot
	Ready() bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	stream     *stream.Handler
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, src Source, logger *slog.Logger) *Server {
	feed := stream.NewHandler(src, cfg.Stream, logger.With("component", "stream"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(src.Ready))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /debug/snapshot", snapshotHandler(src))
	mux.HandleFunc("GET /debug/stream", feed.HandleSnapshots)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		stream: feed,
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("debug server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func snapshotHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snap := src.Snapshot()
		if snap == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "no frame published yet"})
			return
		}
		json.NewEncoder(w).Encode(snap)
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(sr.ResponseWriter).Hijack()
	if err == nil {
		sr.statusCode = http.StatusSwitchingProtocols
	}
	return conn, brw, err
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
