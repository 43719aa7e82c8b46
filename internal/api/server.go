// Package api provides the HTTP API in front of the audio catalog.
package api

import (
	"context"
	"iter"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/audiocache/internal/catalog"
	"github.com/listenupapp/audiocache/internal/domain"
	"github.com/listenupapp/audiocache/internal/validation"
	"github.com/listenupapp/audiocache/internal/workpool"
)

// Catalog is the subset of the catalog the API serves.
type Catalog interface {
	Add(ctx context.Context, sender, source string, hints domain.SourceMetadata) (*domain.AudioRecord, error)
	Get(ctx context.Context, id string) (*domain.AudioRecord, error)
	GetFile(rec *domain.AudioRecord) (string, bool)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, filter domain.SearchFilter) iter.Seq2[*domain.AudioRecord, error]
	CheckCache(ctx context.Context, deep bool) (catalog.SweepReport, error)
	Pools() (probes, transcodes *workpool.Pool)
}

// SourceLister reports registered source handlers in match order.
type SourceLister interface {
	Handlers() []string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	catalog   Catalog
	sources   SourceLister
	limiter   *RateLimiter
	validator *validation.Validator
	router    *chi.Mux
	api       huma.API
	logger    *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured. A nil
// limiter leaves the add route unthrottled.
func NewServer(cat Catalog, sources SourceLister, limiter *RateLimiter, logger *slog.Logger) *Server {
	s := &Server{
		catalog:   cat,
		sources:   sources,
		limiter:   limiter,
		validator: validation.New(),
		router:    chi.NewRouter(),
		logger:    logger,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("Audio Cache API", "1.0.0")
	// Bodies are wrapped in the envelope, so the $schema link would land
	// inside data rather than on the document clients read.
	humaConfig.Transformers = []huma.Transformer{EnvelopeTransformer}
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerSourceRoutes()
	s.registerAudioRoutes()
	s.registerCacheRoutes()

	// Streaming stays on plain chi so http.ServeFile can handle ranges.
	s.router.Get("/api/v1/audio/{id}/file", s.handleGetAudioFile)
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
