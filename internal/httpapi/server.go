// Package httpapi implements the stateless REST facade: agents
// CRUD+disable, memory CRUD+search+stats, and /health, served over
// chi.Router with rs/cors and the standard chi middleware stack.
// Errors are mapped to HTTP statuses by swarmerr.Kind.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/repo"
)

// Server provides the HTTP REST API endpoints.
type Server struct {
	router   chi.Router
	agents   *agentservice.Service
	memories repo.MemoryRepository
	logger   *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server's logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCORS enables permissive CORS for browser clients.
func WithCORS() Option {
	return func(s *Server) { s.router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}).Handler) }
}

// NewServer creates a Server over agents and memories.
func NewServer(agents *agentservice.Service, memories repo.MemoryRepository, opts ...Option) *Server {
	s := &Server{agents: agents, memories: memories, logger: log.Default(), router: chi.NewRouter()}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.loggingMiddleware)

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Post("/", s.handleCreateAgent)
			r.Get("/", s.handleListAgents)
			r.Get("/{name}", s.handleGetAgent)
			r.Delete("/{name}", s.handleDisableAgent)
		})
		r.Route("/memory", func(r chi.Router) {
			r.Post("/", s.handleCreateMemory)
			r.Get("/", s.handleListMemorySearchAll)
			r.Get("/search", s.handleSearchMemory)
			r.Get("/stats", s.handleMemoryStats)
			r.Get("/key/{namespace}/{key}", s.handleGetMemoryByKey)
			r.Get("/{id}", s.handleGetMemory)
			r.Put("/{id}", s.handleUpdateMemory)
			r.Delete("/{id}", s.handleDeleteMemory)
		})
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Printf("http %s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// errorResponse is the {error, code} body every failure returns.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondErr(w http.ResponseWriter, err error) {
	status, code := httpStatusForError(err)
	respondJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ListenAndServe starts the HTTP server at addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Printf("httpapi: listening on %s", addr)
	return srv.ListenAndServe()
}
