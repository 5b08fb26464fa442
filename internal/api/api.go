// Package api exposes the coordinator over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/efebarandurmaz/vectordb/internal/coordinator"
	"github.com/efebarandurmaz/vectordb/internal/integrity"
	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/server"
)

// maxBodyBytes bounds request bodies; a batch of 10k 1024-d vectors fits.
const maxBodyBytes = 256 << 20

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Server is the vectordb HTTP server.
type Server struct {
	config  *Config
	coord   *coordinator.Coordinator
	checker *integrity.Checker
	health  *server.HealthServer
	metrics *observability.VectorDBMetrics
	logger  *slog.Logger
	server  *http.Server
}

// NewServer wires the routes. health and metrics may be nil.
func NewServer(config *Config, coord *coordinator.Coordinator, checker *integrity.Checker,
	health *server.HealthServer, metrics *observability.VectorDBMetrics, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  config,
		coord:   coord,
		checker: checker,
		health:  health,
		metrics: metrics,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /collections", s.handleCreateCollection)
	mux.HandleFunc("GET /collections", s.handleListCollections)
	mux.HandleFunc("GET /collections/{name}", s.handleDescribeCollection)
	mux.HandleFunc("DELETE /collections/{name}", s.handleDeleteCollection)
	mux.HandleFunc("PUT /collections/{name}/points", s.handleInsert)
	mux.HandleFunc("GET /collections/{name}/points/{id}", s.handleGetPoint)
	mux.HandleFunc("GET /collections/{name}/assets/{asset}/points", s.handlePointsWithAsset)
	mux.HandleFunc("POST /collections/{name}/lookup", s.handleLookup)
	mux.HandleFunc("GET /collections/{name}/sample", s.handleSample)
	mux.HandleFunc("GET /integrity", s.handleIntegrity)

	if s.health != nil {
		s.health.Mount(mux)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return requestIDMiddleware(loggingMiddleware(s.logger, corsMiddleware(mux)))
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting vectordb server", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("vectordb server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping vectordb server")
	return s.server.Shutdown(ctx)
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// decodeJSON reads a bounded request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequestError{msg: "malformed request body: " + err.Error()}
	}
	return nil
}
