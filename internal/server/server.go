package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/threadgate/threadgate/internal/errors"
	"github.com/threadgate/threadgate/internal/observability"
	"github.com/threadgate/threadgate/internal/server/handlers"
	servermw "github.com/threadgate/threadgate/internal/server/middleware"
)

// Limiter throttles the service's own routes and reports windows.
type Limiter interface {
	servermw.RateChecker
	handlers.LimitReader
}

// Dependencies are the admission components served under /v1. A nil Gate
// leaves only the health, version and metrics routes.
type Dependencies struct {
	Gate    handlers.Gatekeeper
	Quotas  handlers.QuotaReader
	Limiter Limiter
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int
	deps   Dependencies

	metrics *metricsProxy

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// SetTimeouts overrides the HTTP timeouts; zero values keep the defaults.
func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	if read > 0 {
		s.readTimeout = read
	}
	if write > 0 {
		s.writeTimeout = write
	}
	if idle > 0 {
		s.idleTimeout = idle
	}
}

// SetMetricsPort sets the exporter port /metrics proxies to when the exporter
// has not reported one.
func (s *Server) SetMetricsPort(port int) {
	if port > 0 {
		s.metrics.fallbackPort = port
	}
}

// New creates a new HTTP server instance
func New(host string, port int, deps Dependencies) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// Recovery sits inside Instrument so a panic is still counted as a 500.
	r.Use(servermw.RequestID)
	r.Use(servermw.Instrument)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewNotFoundError("The requested resource was not found")
		apperrors.RespondWithError(w, req, err)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource")
		apperrors.RespondWithError(w, req, err)
	})

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		deps:   deps,

		metrics: newMetricsProxy(),

		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	observability.Logger().Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	observability.Logger().Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
