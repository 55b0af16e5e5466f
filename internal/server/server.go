// Package server exposes fleets over HTTP: control commands, status polling,
// and a resumable server-sent event stream.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/internal/fleet"
	"github.com/ShayCichocki/armada/internal/plan"
)

// defaultMaxRequestBodyBytes limits request bodies (plans included) to 4 MiB.
const defaultMaxRequestBodyBytes = 4 << 20

// Options configures the HTTP surface.
type Options struct {
	Registry *fleet.Registry
	// Metrics serves /metrics. When nil the route is not registered.
	Metrics http.Handler
	// Executor picks the executor for a plan posted over HTTP.
	// Nil, or a nil return, uses the registry's default executor.
	Executor func(p *plan.Plan) agent.Executor
	// Keepalive is the interval of SSE comment frames. Defaults to 15s.
	Keepalive time.Duration
	// MaxBodyBytes limits request bodies. Defaults to 4 MiB.
	MaxBodyBytes int64
}

// Server routes HTTP requests to the fleet registry.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxRequestBodyBytes
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}

	s.mux.HandleFunc("GET /api/fleets", s.handleList)
	s.mux.HandleFunc("POST /api/fleets", s.handleCreate)
	s.mux.HandleFunc("GET /api/fleets/{project}", s.handleSnapshot)
	s.mux.HandleFunc("DELETE /api/fleets/{project}", s.handleRemove)
	s.mux.HandleFunc("GET /api/fleets/{project}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/fleets/{project}/events", s.handleEvents)

	s.mux.HandleFunc("POST /api/fleets/{project}/start", s.control(opStart))
	s.mux.HandleFunc("POST /api/fleets/{project}/pause", s.control(opPause))
	s.mux.HandleFunc("POST /api/fleets/{project}/resume", s.control(opResume))
	s.mux.HandleFunc("POST /api/fleets/{project}/stop", s.control(opStop))
	s.mux.HandleFunc("POST /api/fleets/{project}/retry-failed", s.control(opRetryFailed))
	s.mux.HandleFunc("POST /api/fleets/{project}/conflicts/{id}/resolve", s.handleResolve)
}

// Handler returns the root handler with body limits applied.
func (s *Server) Handler() http.Handler {
	return bodyLimitMiddleware(s.opts.MaxBodyBytes, s.mux)
}

// NewHTTPServer wraps a handler in an http.Server with conservative timeouts.
// WriteTimeout stays zero so event streams are not cut.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fleets": s.opts.Registry.Count()})
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message})
}
