// Package api wires the HTTP surface: catalog queries, propagation lookups,
// ambient conditions, alerts, the SSE stream, probes, metrics, and the
// embedded frontend.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"github.com/helio/solwind/internal/alerts"
	"github.com/helio/solwind/internal/auth"
	"github.com/helio/solwind/internal/config"
	"github.com/helio/solwind/internal/donki"
	"github.com/helio/solwind/internal/health"
	"github.com/helio/solwind/internal/metrics"
	"github.com/helio/solwind/internal/stream"
	"github.com/helio/solwind/internal/swpc"
	"github.com/helio/solwind/web"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	store      *donki.Store
	conditions *swpc.Client        // nil when SWPC polling is disabled
	alerts     *alerts.Evaluator   // nil when alerting is disabled
	streams    *stream.Handler
}

// Deps collects the components the API serves.
type Deps struct {
	Store      *donki.Store
	Conditions *swpc.Client
	Alerts     *alerts.Evaluator
	Streams    *stream.Handler
}

// NewServer creates a configured HTTP server.
func NewServer(cfg config.ServerConfig, deps Deps, authCfg auth.Config, logger *slog.Logger) *Server {
	s := &Server{
		logger:     logger,
		store:      deps.Store,
		conditions: deps.Conditions,
		alerts:     deps.Alerts,
		streams:    deps.Streams,
	}

	r := chi.NewRouter()

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz(deps.Store))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cmes", s.handleListCMEs)
		r.Get("/cmes/{id}", s.handleGetCME)
		r.Get("/cmes/{id}/position", s.handlePosition)
		r.Get("/conditions", s.handleConditions)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/stream/cmes", deps.Streams.HandleCMEs)
	})

	// Embedded frontend at the root, gzip-compressed.
	r.Handle("/*", gzhttp.GzipHandler(http.FileServerFS(web.Content)))

	// Build middleware chain: metrics -> logging -> auth -> router.
	var handler http.Handler = r
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
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

// Flush forwards to the wrapped writer so SSE handlers keep working behind
// the middleware chain.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
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
