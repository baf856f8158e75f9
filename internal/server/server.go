// Package server exposes the HTTP API: decision CRUD, plan operations,
// the plan chat, and the per-decision SSE stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirokuhq/kiroku/internal/ctxutil"
	"github.com/kirokuhq/kiroku/internal/notify"
	"github.com/kirokuhq/kiroku/internal/ratelimit"
	"github.com/kirokuhq/kiroku/internal/service/decisions"
	"github.com/kirokuhq/kiroku/internal/storage"
)

// Server is the Kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds the server's dependencies and settings. Broker may be nil
// when no LISTEN/NOTIFY connection is available; the SSE route then
// returns 503.
type Config struct {
	DB          *storage.DB
	DecisionSvc *decisions.Service
	Broker      *notify.Broker
	Logger      *slog.Logger

	Port        int
	ReadTimeout time.Duration
	Version     string

	// Limiter rate-limits decision API calls per caller. Nil disables.
	Limiter ratelimit.Limiter
	// OpenAPISpec, when set, is served at GET /openapi.yaml.
	OpenAPISpec []byte
	// ExtraRoutes are called after the built-in routes are registered.
	ExtraRoutes []func(chi.Router)
	// Middlewares wrap the whole router, first registered outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &handlers{
		db:      cfg.DB,
		svc:     cfg.DecisionSvc,
		broker:  cfg.Broker,
		logger:  cfg.Logger,
		version: cfg.Version,
	}

	r := chi.NewRouter()
	for _, mw := range cfg.Middlewares {
		r.Use(mw)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)

	if len(cfg.OpenAPISpec) > 0 {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
	}

	r.Route("/v1/decisions", func(r chi.Router) {
		r.Use(h.identity)
		r.Use(ratelimit.Middleware(cfg.Limiter, func(req *http.Request) string {
			return "owner:" + ctxutil.OwnerIDFromContext(req.Context()).String()
		}))
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/plan/confirm", h.handleConfirmPlan)
		r.Put("/{id}/plan", h.handleUpdatePlan)
		r.Post("/{id}/complete", h.handleComplete)
		r.Post("/{id}/fast-track", h.handleFastTrack)
		r.Post("/{id}/chat", h.handleChat)
		r.Get("/{id}/stream", h.handleStream)
	})

	for _, fn := range cfg.ExtraRoutes {
		fn(r)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     r,
			ReadTimeout: cfg.ReadTimeout,
			// SSE streams outlive any sane write timeout; rely on
			// per-request contexts instead.
			WriteTimeout: 0,
		},
		handler: r,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("server: request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
