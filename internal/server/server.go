// Package server provides the HTTP and WebSocket API for vivavoce.
//
// Routes:
//
//   - POST /v1/sessions                     — start a session from the question bank or an inline question
//   - GET  /v1/sessions/{id}                — current bullet states
//   - POST /v1/sessions/{id}/fragments      — submit one transcript fragment
//   - POST /v1/sessions/{id}/finalize       — stop evaluation and return the scored report
//   - GET  /v1/sessions/{id}/ws             — bidirectional stream: fragments in, follow-ups out
//   - GET  /v1/reports/{id}                 — fetch a persisted report
//   - GET  /v1/answers/search               — semantic search over persisted answers
//   - GET  /healthz, /readyz, /metrics
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vivavoce-ai/vivavoce/internal/app"
	"github.com/vivavoce-ai/vivavoce/internal/health"
	"github.com/vivavoce-ai/vivavoce/internal/observe"
)

// Server holds the API handlers and their dependencies.
type Server struct {
	app     *app.App
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Server around a built application. When the app has a
// Postgres store, its ping becomes a readiness check.
func New(a *app.App, metrics *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	var checkers []health.Checker
	if store := a.Store(); store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: store.Ping})
	}

	return &Server{
		app:     a,
		health:  health.New(checkers...),
		metrics: metrics,
		log:     log,
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.createSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/fragments", s.postFragment)
			r.Post("/finalize", s.finalizeSession)
			r.Get("/ws", s.streamSession)
		})
		r.Get("/reports/{sessionID}", s.getReport)
		r.Get("/answers/search", s.searchAnswers)
	})

	return r
}

// writeJSON writes v with the given status. Encoding failures are logged; the
// status line has already been sent by then.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response failed", "error", err)
	}
}

// writeError writes a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
