// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/directory"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/store"
)

// TenantWatcher registers a tenant's docs directory for change watching.
// Implemented by the fsnotify watcher; nil when watching is disabled.
type TenantWatcher interface {
	AddTenant(tenant string) error
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	engine    *query.Engine
	builder   *pipeline.Builder
	layout    *store.Layout
	directory *directory.Directory
	config    *config.ServerConfig
	logger    *zap.Logger
	watch     TenantWatcher
	server    *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	engine *query.Engine,
	builder *pipeline.Builder,
	layout *store.Layout,
	dir *directory.Directory,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch TenantWatcher,
) *Server {
	return &Server{
		engine:    engine,
		builder:   builder,
		layout:    layout,
		directory: dir,
		config:    cfg,
		logger:    logger,
		watch:     watch,
	}
}

// Router assembles the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(s.requireAPIKey)

	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/providers", s.handleListProviders)
	r.Post("/v1/query", s.handleQuery)
	r.Post("/v1/admin/rebuild-index/{tenant}", s.handleRebuild)
	r.Post("/v1/upload/provider/{tenant}/metadata", s.handleUploadMetadata)
	r.Post("/v1/upload/provider/{tenant}/document", s.handleUploadDocument)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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

// requireAPIKey rejects requests whose X-API-Key (or bearer token) does not
// match a configured key. With no keys configured, every request is allowed.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			if len(auth) > 7 && auth[:7] == "Bearer " {
				key = auth[7:]
			}
		}
		for _, allowed := range s.config.APIKeys {
			if key == allowed {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.respondError(w, http.StatusForbidden, "invalid or missing API key")
	})
}
