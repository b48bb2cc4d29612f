// Package httpapi exposes the attendance engines over HTTP for the clinic UI
// and other collaborators.
//
// Identity is taken from the X-Actor-ID, X-Actor-Name and X-Actor-Roles
// headers, which an authenticating proxy in front of this service sets.
// Nothing here authenticates requests.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/metrics"
)

// Actor headers.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorName  = "X-Actor-Name"
	HeaderActorRoles = "X-Actor-Roles"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators the router serves. Engine, Audit and Drafts
// are required.
type Deps struct {
	Engine *engine.Engine
	Audit  *audit.Log
	Drafts *draft.Drafts

	// Autosaver enables PATCH /drafts/{slot}; nil leaves it unrouted.
	Autosaver        *draft.Autosaver
	AutosaveInterval time.Duration

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Health is called by /healthz; nil always reports ok.
	Health func(ctx context.Context) error
	// Now stamps export filenames. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/subjects", func(r chi.Router) {
		r.Get("/", s.handleListSubjects)
		r.Post("/", s.handleAdmit)
		r.Get("/{id}", s.handleGetSubject)
		r.Get("/{id}/history", s.handleHistory)
		r.Post("/{id}/transitions", s.handleTransition)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Get("/", s.handleAuditQuery)
		r.Get("/export", s.handleAuditExport)
	})

	r.Route("/drafts", func(r chi.Router) {
		r.Get("/", s.handleListDrafts)
		r.Get("/{slot}", s.handleLoadDraft)
		r.Put("/{slot}", s.handleSaveDraft)
		r.Delete("/{slot}", s.handleClearDraft)
		if d.Autosaver != nil {
			r.Patch("/{slot}", s.handleBufferDraft)
		}
	})

	return r
}

// unmatchedRoute labels requests that matched no route, keeping the latency
// histogram's label set bounded.
const unmatchedRoute = "unmatched"

// instrument logs each request and records its latency by route pattern.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := unmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.Metrics != nil {
			s.Metrics.ObserveHTTP(r.Method, route, status, start)
		}
		s.Logger.DebugContext(r.Context(), "http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			s.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
