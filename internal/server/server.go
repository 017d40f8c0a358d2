// Package server provides the full HTTP API: typed huma operations on a chi
// router with CORS, rate limiting and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/pkg/utils"
	"go.uber.org/zap"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "Image Similarity Search API"

const shutdownTimeout = 10 * time.Second

func init() {
	// Validation failures are reported as 400 rather than 422.
	newError := huma.NewError
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return newError(status, msg, errs...)
	}
}

// Reloader forces a fresh load of the index resources.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Deps are the server's collaborators. Metrics, Reloader and Logger may be nil.
type Deps struct {
	Service  *search.Service
	Reloader Reloader
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Version  string
}

// Server is the HTTP server for the search API.
type Server struct {
	router  chi.Router
	api     huma.API
	cfg     config.ServerConfig
	service *search.Service
	loader  Reloader
	metrics *metrics.Metrics
	logger  *zap.Logger
	version string
}

// New creates a server with all routes registered.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Service == nil {
		return nil, fmt.Errorf("search service is required")
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		cfg:     cfg,
		service: deps.Service,
		loader:  deps.Reloader,
		metrics: deps.Metrics,
		logger:  utils.OrNop(deps.Logger),
		version: deps.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))
	r.Use(instrument(s.metrics))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(rateLimit(cfg.RateLimit))

	humaConfig := huma.DefaultConfig(ServiceName, s.version)
	humaConfig.Info.Description = "Image and text similarity search over a CLIP embedding index"
	s.api = humachi.New(r, humaConfig)
	s.router = r

	s.registerRoutes()
	r.Handle("/metrics", s.metrics.Handler())
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
