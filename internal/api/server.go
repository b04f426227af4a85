package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
	"github.com/jetsoncontrols/ha-nax/internal/nax"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds what the server needs.
type Deps struct {
	Config  Config
	Devices map[string]*nax.Client
	// Default names the device served by the unscoped /api/v1 routes.
	// With a single device it may be left empty.
	Default string
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Version string
}

// Server is the HTTP API over one or more NAX clients.
type Server struct {
	cfg     Config
	devices map[string]*nax.Client
	names   []string
	def     string
	metrics http.Handler
	version string
	log     *zap.Logger
	hub     *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New validates deps and builds a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if len(deps.Devices) == 0 {
		return nil, errors.New("at least one device is required")
	}
	cfg := deps.Config
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}

	names := make([]string, 0, len(deps.Devices))
	for name := range deps.Devices {
		names = append(names, name)
	}
	slices.Sort(names)

	def := deps.Default
	if def == "" && len(names) == 1 {
		def = names[0]
	}
	if def != "" {
		if _, ok := deps.Devices[def]; !ok {
			return nil, fmt.Errorf("default device %q is not configured", def)
		}
	}

	log := logging.Named("api")
	return &Server{
		cfg:     cfg,
		devices: deps.Devices,
		names:   names,
		def:     def,
		metrics: deps.Metrics,
		version: deps.Version,
		log:     log,
		hub:     newHub(log),
	}, nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	s.log.Info("API server listening", zap.String("address", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close disconnects event streams and shuts the listener down gracefully.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	s.hub.closeAll()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	s.log.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
