package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/server/endpoint"
	"github.com/kbukum/beachhead/server/middleware"
)

// Endpoints wires the status routes to their data sources. Nil sources
// leave the matching route unregistered.
type Endpoints struct {
	ServiceName string
	Health      endpoint.HealthChecker
	Status      endpoint.StatusSource
	Records     endpoint.Querier
	// RecordPrefix is the key prefix /records lists.
	RecordPrefix string
	// StallAfter fails /live when no tick has completed for this long.
	// Zero disables the check.
	StallAfter time.Duration
}

// Server is the companion's HTTP status surface backed by Gin.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server with the standard middleware applied. Routes are
// added with RegisterEndpoints.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("server")

	switch log.Level() {
	case "debug", "trace":
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(log))

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      h2c.NewHandler(engine, h2s),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		engine:     engine,
		config:     cfg,
		log:        log,
	}
}

// RegisterEndpoints adds the probe, version, status and records routes.
func (s *Server) RegisterEndpoints(e Endpoints) {
	s.engine.GET("/health", endpoint.Health(e.ServiceName, e.Health))
	s.engine.GET("/live", endpoint.Liveness(e.ServiceName, e.Status, e.StallAfter))
	s.engine.GET("/ready", endpoint.Readiness(e.ServiceName, e.Health, e.Status))
	s.engine.GET("/version", endpoint.Version())
	if e.Status != nil {
		s.engine.GET("/status", endpoint.Status(e.Status))
	}
	if e.Records != nil {
		s.engine.GET("/records", endpoint.Records(e.Records, e.RecordPrefix))
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the port and begins serving. It returns once the listener is
// bound so the caller knows the port is ready; serving continues in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server error", map[string]interface{}{
				logger.FieldError: err,
			})
		}
	}()

	s.log.Info("HTTP server started", map[string]interface{}{
		"addr": listener.Addr().String(),
	})
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Debug("HTTP server shut down")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
