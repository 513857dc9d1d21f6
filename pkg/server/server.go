// Package server hosts the management HTTP surface: liveness, readiness,
// metrics exposition, and queue status reports. It is intended for internal
// operators and monitoring systems, not public clients.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// Config controls the management listener.
type Config struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string

	// Port is the TCP port to listen on.
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ShutdownTimeout bounds graceful shutdown once Start's context is
	// cancelled.
	ShutdownTimeout time.Duration
}

func (c *Config) normalize() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Server wraps an http.Server with lifecycle management tied to a context.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
	config     Config
}

// New builds a Server around the given handler.
func New(config Config, handler http.Handler, log logger.Logger) (*Server, error) {
	if handler == nil {
		return nil, serverError(ErrValidation, "handler is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	config.normalize()

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		log:    log,
		config: config,
	}, nil
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the listener until the context is cancelled or the listener
// fails. Cancellation triggers a graceful shutdown bounded by
// Config.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.Info("management server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrListener, err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("management server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrShutdown, err)
	}
	return nil
}
