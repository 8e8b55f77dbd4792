// Package server is folio's development server. It answers page requests
// through the engine, serves template assets, exposes health and metrics
// endpoints and pushes reload notifications to connected browsers over a
// WebSocket when the site changes on disk.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/folio/internal/engine"
	folioerrors "github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
)

// Paths of the server's own endpoints.
const (
	HealthPath    = "/_folio/health"
	WebSocketPath = "/_folio/ws"
	MetricsPath   = "/metrics"
)

// AssetSource maps public asset references to files.
type AssetSource interface {
	AssetPath(ref string) (string, bool)
	FS() fs.FS
}

// Options configures a Server.
type Options struct {
	Addr           string
	Engine         *engine.Engine
	Assets         AssetSource
	Template       string
	HotReload      bool
	ErrorOverlay   bool
	AllowedOrigins []string
	Metrics        http.Handler
	HTTPMetrics    *HTTPMetrics
	Suggestions    *folioerrors.SuggestionContext
	Logger         logging.Logger
}

// Server serves a folio site over HTTP.
type Server struct {
	opts   Options
	logger logging.Logger
	router chi.Router
	hub    *Hub

	engineMu sync.RWMutex
	engine   *engine.Engine

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// New creates a Server. The engine is required; everything else is optional.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, folioerrors.ConfigurationError("engine", "server requires an engine", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("server")

	s := &Server{
		opts:   opts,
		logger: logger,
		engine: opts.Engine,
		hub:    NewHub(logger),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(securityHeaders)
	r.Use(s.cors)
	if s.opts.HTTPMetrics != nil {
		r.Use(s.opts.HTTPMetrics.Middleware)
	}

	r.Get(HealthPath, s.handleHealth)
	if s.opts.HotReload {
		r.Get(WebSocketPath, s.handleWebSocket)
	}
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.opts.Metrics)
	}

	r.NotFound(s.handleRequest)
	r.MethodNotAllowed(s.handleRequest)
	return r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Engine returns the engine pages are currently served by.
func (s *Server) Engine() *engine.Engine {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.engine
}

// SetEngine swaps the engine used for subsequent requests, e.g. after the
// route table was edited.
func (s *Server) SetEngine(e *engine.Engine) {
	if e == nil {
		return
	}
	s.engineMu.Lock()
	s.engine = e
	s.engineMu.Unlock()
}

// Hub returns the live-reload hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Reload tells every connected browser to reload. target names what changed.
func (s *Server) Reload(target string) {
	s.hub.Broadcast(UpdateMessage{
		Type:      MessageReload,
		Target:    target,
		Timestamp: time.Now(),
	})
}

// Start listens on the configured address and serves until ctx is done or
// the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return folioerrors.Wrap(err, folioerrors.ErrorTypeIO, folioerrors.ErrCodeFileAccess,
			"listen on "+s.opts.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.serverMutex.Lock()
	s.httpServer = httpServer
	s.listener = ln
	s.serverMutex.Unlock()

	go s.hub.Run(ctx)

	s.logger.Info(ctx, "serving site", "addr", ln.Addr().String(), "hot_reload", s.opts.HotReload)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Addr returns the address the server listens on, or "" before Serve.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes browser connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down server")

		s.hub.Close()

		s.serverMutex.RLock()
		httpServer := s.httpServer
		s.serverMutex.RUnlock()

		if httpServer != nil {
			shutdownErr = httpServer.Shutdown(ctx)
		}
	})

	return shutdownErr
}
