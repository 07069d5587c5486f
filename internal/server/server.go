package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/ailink/prompt"
	"github.com/pcroast/pcroast/internal/config"
	apperrors "github.com/pcroast/pcroast/internal/errors"
	"github.com/pcroast/pcroast/internal/observability"
	"github.com/pcroast/pcroast/internal/ratelimit"
	"github.com/pcroast/pcroast/internal/server/handlers"
	servermw "github.com/pcroast/pcroast/internal/server/middleware"
)

// Options carries everything the gate routes are built from.
type Options struct {
	Config   config.ServerConfig
	Messages config.MessagesConfig

	// Limiter is shared by every gate.
	Limiter *ratelimit.Limiter

	// Generators maps each gate name to its bound client.
	Generators map[string]ailink.Generator

	Prompt *prompt.Prompt
	Audit  handlers.Auditor
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	opts   Options
}

// New creates a new HTTP server instance
func New(opts Options) (*Server, error) {
	if opts.Limiter == nil {
		return nil, apperrors.NewConfigInvalidError("rate limiter is required")
	}
	if opts.Audit == nil {
		return nil, apperrors.NewConfigInvalidError("audit log is required")
	}
	if opts.Prompt == nil {
		opts.Prompt = prompt.Default()
	}
	for _, gate := range ailink.GateNames {
		if opts.Generators[gate] == nil {
			return nil, apperrors.NewConfigInvalidError(gate + ": no generation client bound")
		}
	}

	r := chi.NewRouter()

	if opts.Config.TrustProxy {
		r.Use(middleware.RealIP)
	}

	r.Use(servermw.RequestID)      // 1. Request ID (early for correlation)
	r.Use(servermw.RequestMetrics) // 2. Metrics and access log
	r.Use(servermw.Recovery)       // 3. Panic recovery

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		cfg:    opts.Config,
		opts:   opts,
	}

	s.registerRoutes()

	return s, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.Addr()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       orDefault(s.cfg.ReadTimeout, 30*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      orDefault(s.cfg.WriteTimeout, 90*time.Second),
		IdleTimeout:       orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}

	if logger := observability.Logger(); logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.cfg.Host),
			zap.Int("port", s.cfg.Port),
			zap.String("addr", addr),
			zap.Bool("trust_proxy", s.cfg.TrustProxy))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.Logger(); logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// HandleError writes err as a JSON error envelope. Gate routes never use it;
// it answers requests that match no route.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
