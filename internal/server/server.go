// Package server exposes the memory engine over a local HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/engram/internal/memory"
	"github.com/lazypower/engram/internal/metrics"
	"github.com/lazypower/engram/internal/store"
)

// Server is the engram HTTP API server.
type Server struct {
	engine  *memory.Engine
	db      *store.DB
	router  chi.Router
	version string
	started time.Time

	// collector, when set, backs the /metrics endpoint.
	collector *metrics.PrometheusCollector
}

// New creates a Server over an engine. collector may be nil; /metrics then
// returns 404.
func New(engine *memory.Engine, version string, collector *metrics.PrometheusCollector) *Server {
	s := &Server{
		engine:    engine,
		db:        engine.DB,
		version:   version,
		started:   time.Now(),
		collector: collector,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/store", s.handleStore)
		r.Post("/recall", s.handleRecall)
		r.Post("/forget", s.handleForget)
		r.Post("/prune", s.handlePrune)

		r.Get("/context", s.handleContext)
		r.Get("/records/{recordID}", s.handleGetRecord)
		r.Post("/records/{recordID}/restore", s.handleRestore)
	})

	if s.collector != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{}))
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP statuses: validation failures are
// the caller's fault, missing records are 404, everything else is a server
// error.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case memory.IsValidation(err):
		status = http.StatusBadRequest
	case memory.IsNotFound(err):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
