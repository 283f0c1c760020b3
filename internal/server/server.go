// Package server exposes the entity store over HTTP/JSON.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/config"
	"github.com/devrev/entitydb/internal/metrics"
)

// Server represents the HTTP server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	handlers    *Handlers
	healthCheck *HealthCheck
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         *config.Config
}

// NewServer creates a new HTTP server. m may be nil.
func NewServer(cfg *config.Config, store Store, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s := &Server{
		router:      router,
		httpServer:  httpServer,
		handlers:    NewHandlers(store, cfg.Server.MaxBodyBytes, logger),
		healthCheck: NewHealthCheck(logger),
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		Recovery(s.logger),
		RequestID,
		Logging(s.logger),
	}
	if s.metrics != nil {
		middlewareChain = append(middlewareChain, Metrics(s.metrics))
	}
	if s.cfg.RateLimiter.Enabled {
		rateLimiter := NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}
	if s.cfg.Server.WriteTimeout > 0 {
		middlewareChain = append(middlewareChain, Timeout(s.cfg.Server.WriteTimeout))
	}
	s.router.Use(Chain(middlewareChain...))

	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Schema administration
	v1.HandleFunc("/schema", s.handlers.ExportSchema).Methods(http.MethodGet)
	v1.HandleFunc("/schema", s.handlers.ApplySchema).Methods(http.MethodPost)
	v1.HandleFunc("/schema/entities", s.handlers.ListEntityDefinitions).Methods(http.MethodGet)
	v1.HandleFunc("/schema/entities", s.handlers.CreateEntityDefinition).Methods(http.MethodPost)
	v1.HandleFunc("/schema/entities/{entity}", s.handlers.GetEntityDefinition).Methods(http.MethodGet)
	v1.HandleFunc("/schema/entities/{entity}/fields", s.handlers.AddEntityField).Methods(http.MethodPost)
	v1.HandleFunc("/schema/entities/{entity}/indexes", s.handlers.ListEntityIndexes).Methods(http.MethodGet)
	v1.HandleFunc("/schema/entities/{entity}/indexes", s.handlers.CreateEntityIndex).Methods(http.MethodPost)
	v1.HandleFunc("/schema/entities/{entity}/indexes/{index}", s.handlers.DeleteEntityIndex).Methods(http.MethodDelete)

	// Entities
	v1.HandleFunc("/entities/{entity}", s.handlers.CreateEntity).Methods(http.MethodPost)
	v1.HandleFunc("/entities/{entity}/query", s.handlers.Query).Methods(http.MethodPost)
	v1.HandleFunc("/entities/{entity}/count", s.handlers.Count).Methods(http.MethodPost)
	v1.HandleFunc("/entities/{entity}/explain", s.handlers.Explain).Methods(http.MethodPost)
	v1.HandleFunc("/entities/{entity}/{id:[0-9]+}", s.handlers.GetEntity).Methods(http.MethodGet)
	v1.HandleFunc("/entities/{entity}/{id:[0-9]+}", s.handlers.UpdateEntity).Methods(http.MethodPut)
	v1.HandleFunc("/entities/{entity}/{id:[0-9]+}", s.handlers.DeleteEntity).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, ErrorResponse{
			Status:    "error",
			ErrorCode: "NOT_FOUND",
			Message:   "endpoint not found",
			RequestID: r.Header.Get(requestIDHeader),
		})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, ErrorResponse{
			Status:    "error",
			ErrorCode: "METHOD_NOT_ALLOWED",
			Message:   "method not allowed",
			RequestID: r.Header.Get(requestIDHeader),
		})
	})
}

// SetReady marks the server ready or not ready to take traffic.
func (s *Server) SetReady(ready bool, reason string) {
	s.healthCheck.SetReady(ready, reason)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}
