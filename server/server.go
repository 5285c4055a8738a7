// Package server exposes the mounting runtime over HTTP: health, module
// listing, diagnostics, the observability snapshot, action execution, the
// manifest catalog and a per-tool event stream.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/petal-labs/toolmount/bootstrap"
	"github.com/petal-labs/toolmount/bus"
	"github.com/petal-labs/toolmount/manifest"
	"github.com/petal-labs/toolmount/registry"
	"github.com/petal-labs/toolmount/sse"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Runtime    *bootstrap.Bootstrapper
	Manifests  manifest.Source
	Modules    *registry.Registry
	Bus        bus.EventBus
	EventStore bus.EventStore
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the toolmount HTTP API server.
type Server struct {
	runtime    *bootstrap.Bootstrapper
	manifests  manifest.Source
	modules    *registry.Registry
	bus        bus.EventBus
	eventStore bus.EventStore
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	modules := cfg.Modules
	if modules == nil {
		modules = registry.Global()
	}
	return &Server{
		runtime:    cfg.Runtime,
		manifests:  cfg.Manifests,
		modules:    modules,
		bus:        cfg.Bus,
		eventStore: cfg.EventStore,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.Middleware(mux)
}

// Middleware wraps next with the CORS and body size limits. Use it when
// composing RegisterRoutes with other routes on one mux.
func (s *Server) Middleware(next http.Handler) http.Handler {
	handler := s.corsMiddleware(next)
	return s.maxBodyMiddleware(handler)
}

// RegisterRoutes mounts the API routes onto an existing mux. Routes whose
// backing component is not configured answer 501.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/modules", s.handleListModules)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/last-error", s.handleLastError)
	mux.HandleFunc("POST /api/tools/{tool}/execute", s.handleExecute)
	mux.HandleFunc("GET /api/tools/{tool}/history", s.handleHistory)

	if s.eventStore != nil && s.bus != nil {
		mux.Handle("GET /api/tools/{tool}/events", sse.NewSSEHandler(s.eventStore, s.bus))
	} else {
		mux.HandleFunc("GET /api/tools/{tool}/events", notConfigured("event stream"))
	}

	if s.manifests != nil {
		manifest.NewHandler(s.manifests).RegisterRoutes(mux)
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}

func notConfigured(what string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", what+" not configured")
	}
}
