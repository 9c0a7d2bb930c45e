// Package server exposes the bridge over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/odvcencio/browserbridge/pkg/bridge"
	"github.com/odvcencio/browserbridge/pkg/logging"
	"github.com/odvcencio/browserbridge/pkg/runlog"
	"github.com/odvcencio/browserbridge/pkg/stream"
	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Runner starts a task and returns its event stream. *bridge.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, req bridge.TaskRequest) <-chan stream.Event
}

// Config configures the HTTP server. Runner is required; everything else
// is optional.
type Config struct {
	// Address to listen on (default: 0.0.0.0:8000)
	Address string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// MaxBodyBytes bounds the start request body.
	MaxBodyBytes int64

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string

	Runner  Runner
	Journal runlog.Store
	Metrics *telemetry.Metrics

	// Ready, when set, gates /readyz.
	Ready func(ctx context.Context) error

	Logger logrus.FieldLogger
}

// Server is the bridge's HTTP front end.
type Server struct {
	cfg        Config
	log        *logrus.Entry
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the router and HTTP server.
func NewServer(cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0:8000"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		cfg: cfg,
		log: logging.For(cfg.Logger, logging.CategoryHTTP),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	router.Post("/browser/start", s.handleStart)

	if cfg.Journal != nil {
		router.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/stats", s.handleRunStats)
			r.Get("/{runID}", s.handleGetRun)
		})
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		// No WriteTimeout: a run streams for as long as the agent works.
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Address
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight streams,
// each of which releases its browser before its handler returns.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
