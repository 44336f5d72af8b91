// Package httpapi implements the HTTP Transport (SPEC_FULL.md §4.N): the
// REST API of spec.md §6 in front of the Run Manager. Routing is
// go-chi/chi/v5 (a teacher dependency); SSE streaming uses http.Flusher
// directly, since nothing in the examples corpus fits that narrow a need
// better than the standard library.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/runmgr"
	"github.com/loomrun/agentcore/internal/streamfabric"
	"github.com/loomrun/agentcore/internal/telemetry"
)

// Server wires the Run Manager and Streaming Fabric behind the REST API.
type Server struct {
	runs   *runmgr.Manager
	fabric streamfabric.Fabric
	log    telemetry.Logger
	policy dispatcher.Policy // default dispatch policy applied to every run
	now    func() time.Time

	router chi.Router
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithDispatchPolicy overrides the default dispatch policy every run is
// started with.
func WithDispatchPolicy(p dispatcher.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithLogger overrides the Server's request logger (defaults to a no-op).
func WithLogger(log telemetry.Logger) Option {
	return func(s *Server) { s.log = log }
}

func defaultPolicy() dispatcher.Policy {
	return dispatcher.Policy{
		XMLToolCalling:    true,
		NativeToolCalling: true,
		ExecuteTools:      true,
		Strategy:          dispatcher.Parallel,
		ToolTimeout:       60 * time.Second,
	}
}

// NewServer builds a Server with its route tree mounted.
func NewServer(runs *runmgr.Manager, fabric streamfabric.Fabric, opts ...Option) *Server {
	s := &Server{
		runs:   runs,
		fabric: fabric,
		log:    telemetry.NoopLogger{},
		policy: defaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/agent", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/{runId}", s.handleGetRun)
		r.Post("/runs/{runId}/stop", s.handleStopRun)
		r.Get("/runs/{runId}/stream", s.handleStreamRun)
	})
	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		next.ServeHTTP(w, r)
		s.log.Info(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: s.now()})
}
