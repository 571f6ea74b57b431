// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/config"
	"github.com/assetblue/scraping-pipeline/internal/metrics"
	"github.com/assetblue/scraping-pipeline/internal/planner"
	"github.com/assetblue/scraping-pipeline/internal/registry"
	"github.com/assetblue/scraping-pipeline/internal/runner"
	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Server wires HTTP handlers to the registry, runner, and stores.
type Server struct {
	router   chi.Router
	registry *registry.Registry
	runner   *runner.Runner
	planner  *planner.Planner
	items    scrape.ItemStore
	objects  scrape.ObjectStore
	idGen    scrape.IDGenerator
	clock    scrape.Clock
	cfg      config.Config
	logger   *zap.Logger
	// download proxies fetch item bytes; replaced in tests.
	download *http.Client
}

// Options collects the Server dependencies.
type Options struct {
	Registry *registry.Registry
	Runner   *runner.Runner
	Planner  *planner.Planner
	Items    scrape.ItemStore
	Objects  scrape.ObjectStore
	IDGen    scrape.IDGenerator
	Clock    scrape.Clock
	Config   config.Config
	Logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: opts.Registry,
		runner:   opts.Runner,
		planner:  opts.Planner,
		items:    opts.Items,
		objects:  opts.Objects,
		idGen:    opts.IDGen,
		clock:    opts.Clock,
		cfg:      opts.Config,
		logger:   logger,
		download: &http.Client{Timeout: 60 * time.Second},
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.Config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	if opts.Config.Auth.Enabled {
		r.Use(apiKeyMiddleware(opts.Config.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/scraping", func(r chi.Router) {
		r.Post("/upload-csv", s.uploadCSV)
		r.Get("/progress/{task_id}", s.getProgress)
		r.Post("/cancel/{task_id}", s.cancelTask)
		r.Get("/tasks", s.listTasks)
		r.Post("/clear-database", s.clearDatabase)
		r.Get("/items", s.getItems)
		r.Get("/download/{item_id}", s.downloadItem)
		r.Get("/download-bulk", s.downloadBulk)
		r.Get("/source-files", s.sourceFiles)
		r.Get("/download-source-file-csv", s.downloadSourceFileCSV)
		r.Get("/download-video-csv", s.downloadVideoCSV)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.items.CountItems(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "item store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
