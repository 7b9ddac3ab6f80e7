// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/rag"
)

// WatchService manages watched directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the chat and ingestion API.
type Server struct {
	rag        *rag.Orchestrator
	cfg        *config.Config
	configPath string
	cfgMu      sync.Mutex
	watch      WatchService
	version    string
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the /watch/directories endpoints. When configPath is set,
// directory changes are written back to it.
func WithWatch(ws WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = ws
		s.configPath = configPath
	}
}

// WithVersion sets the version reported by GET /.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server with the given dependencies.
func NewServer(orch *rag.Orchestrator, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		rag:     orch,
		cfg:     cfg,
		version: "dev",
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router. Streaming chat is mounted outside the request timeout.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.cfg.Debug {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/chat", s.handleChat)

	r.Group(func(r chi.Router) {
		timeout := s.cfg.Server.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		r.Use(middleware.Timeout(timeout))
		r.Use(middleware.Compress(5))

		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)
		r.Get("/health/ready", s.handleReady)

		r.Post("/ingest/text", s.handleIngestText)
		r.Post("/ingest/file", s.handleIngestFile)
		r.Post("/ingest/directory", s.handleIngestDirectory)

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/count", s.handleCountDocuments)
		r.Delete("/documents", s.handleClearDocuments)
		r.Delete("/documents/{filename}", s.handleDeleteDocument)

		r.Post("/search", s.handleSearch)

		r.Post("/test/completion", s.handleTestCompletion)
		r.Post("/test/azure-openai", s.handleTestCompletion)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
