package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dhruvsoni1802/browser-gateway/internal/gateway"
	"github.com/dhruvsoni1802/browser-gateway/internal/session"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the API serves
type Deps struct {
	Sessions *session.Manager
	Executor *session.Executor
	Gateway  *gateway.Manager
	// Metrics serves /metrics when set
	Metrics http.Handler
	// Redis is checked by /healthz when set
	Redis Pinger
}

// Server represents the HTTP API server
type Server struct {
	router *chi.Mux
	server *http.Server
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(port string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
	}

	handlers := NewHandlers(deps.Sessions, deps.Executor)
	mcpHandlers := NewMCPHandlers(deps.Gateway)

	router.Route("/api/browser/sessions", func(r chi.Router) {
		r.Post("/", handlers.CreateSession)
		r.Get("/", handlers.ListSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetSession)
			r.Delete("/", handlers.DeleteSession)
			r.Post("/start", handlers.StartSession)
			r.Post("/stop", handlers.StopSession)
			r.Post("/actions", handlers.ExecuteAction)
			r.Post("/navigate", handlers.Navigate)
			r.Post("/execute", handlers.ExecuteJS)
			r.Post("/screenshot", handlers.CaptureScreenshot)
			r.Get("/content", handlers.GetPageContent)
		})
	})

	router.Route("/api/mcp", func(r chi.Router) {
		r.Route("/server", func(r chi.Router) {
			r.Get("/config", mcpHandlers.GetServerConfig)
			r.Put("/config", mcpHandlers.UpdateServerConfig)
			r.Post("/start", mcpHandlers.StartServer)
			r.Post("/stop", mcpHandlers.StopServer)
		})

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", mcpHandlers.ListConnections)
			r.Post("/", mcpHandlers.CreateConnection)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", mcpHandlers.GetConnection)
				r.Put("/", mcpHandlers.UpdateConnection)
				r.Delete("/", mcpHandlers.DeleteConnection)
				r.Post("/connect", mcpHandlers.Connect)
				r.Post("/disconnect", mcpHandlers.Disconnect)
			})
		})

		r.Get("/messages", mcpHandlers.ListMessages)
		r.Post("/messages", mcpHandlers.SendMessage)
		r.Get("/tools", mcpHandlers.ListTools)
		r.Get("/ws", deps.Gateway.ServeWebSocket)
	})

	router.Get("/healthz", s.health)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}

	// No WriteTimeout: starting a browser or running an action can take
	// as long as the configured timeouts allow.
	s.server = &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Sessions:     s.deps.Sessions.Count(),
		MCPListening: s.deps.Gateway.Running(),
	}

	status := http.StatusOK
	if s.deps.Redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Redis = "ok"
		if err := s.deps.Redis.Ping(ctx); err != nil {
			s.logger.Warn("redis health check failed", "error", err)
			resp.Status = "degraded"
			resp.Redis = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
