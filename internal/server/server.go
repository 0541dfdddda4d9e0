/*
Package server implements the chat server listener.

A Server binds one TCP endpoint, serves the chat router on it, and owns the hub that runs
every accepted connection. It can be shut down and bound again; Close disposes it for good.
*/
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dogechat/internal/app/chat"
	"dogechat/internal/configs"
	"dogechat/internal/handler"
	"dogechat/internal/pkg/errs"
	"dogechat/internal/pkg/limiter"
	"dogechat/internal/pkg/logx"
)

// Server is the chat server listener.
type Server struct {
	// read-only configuration.
	config *configs.AppConfig

	// mu serializes Listen and Shutdown and protects the fields below.
	mu sync.Mutex

	// bound endpoint; nil when not listening.
	listener net.Listener

	// HTTP server accepting on listener.
	httpServer *http.Server

	// hub running the accepted connections of the current listen cycle.
	hub *chat.Hub

	// stops background work (limiter janitor) of the current listen cycle.
	cancel context.CancelFunc

	// closed when the accept loop has returned.
	serveDone chan struct{}

	// flips once on Close.
	disposed atomic.Bool

	// structured logger with server context.
	logger zerolog.Logger
}

// New returns a Server that is not yet listening. A nil cfg means configs.Default().
func New(cfg *configs.AppConfig) *Server {
	if cfg == nil {
		cfg = configs.Default()
	}

	return &Server{
		config: cfg,
		logger: logx.Component("Server"),
	}
}

// Listen binds address:port and starts accepting connections in the background.
// Port 0 picks a free port; see Addr.
func (s *Server) Listen(address string, port int) error {
	if strings.TrimSpace(address) == "" {
		return errs.NewError(errs.ErrInvalidParams, "address cannot be blank")
	}
	if port < 0 || port > 65535 {
		return errs.NewError(errs.ErrInvalidParams, "port must be within 0-65535")
	}

	if s.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "server")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Close may have finished its teardown while we waited for the lock.
	if s.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "server")
	}

	if s.listener != nil {
		return errs.NewError(errs.ErrAlreadyListening)
	}

	endpoint := net.JoinHostPort(address, strconv.Itoa(port))
	s.logger.Info().Str("endpoint", endpoint).Msg("Starting server...")

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return errs.Wrap(errs.ErrConnectionFailed, err, "cannot bind "+endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := chat.NewHub(chat.HubConfig{
		MessageRate:  s.config.MessageRate,
		MessageBurst: s.config.MessageBurst,
	})

	deps := &handler.AppDeps{
		Hub:    hub,
		Config: s.config,
	}
	if s.config.ConnectRate > 0 {
		deps.ConnectLimiter = limiter.NewIPRateLimiter(ctx, rate.Limit(s.config.ConnectRate), s.config.ConnectBurst)
	}

	httpServer := &http.Server{
		Handler:           handler.Router(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Accept loop failed")
		}
	}()

	s.listener = ln
	s.httpServer = httpServer
	s.hub = hub
	s.cancel = cancel
	s.serveDone = serveDone

	s.logger.Info().Stringer("endpoint", ln.Addr()).Msg("Server started.")
	return nil
}

// Addr returns the bound address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Len returns the number of connected participants.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hub == nil {
		return 0
	}
	return s.hub.Len()
}

// Shutdown stops accepting connections, releases the endpoint, and cancels every
// per-connection loop, waiting for them until ctx expires. Shutting down a server that is
// not listening is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.disposed.Load() {
		return errs.NewError(errs.ErrObjectDisposed, "server")
	}
	return s.shutdown(ctx)
}

func (s *Server) shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		s.logger.Debug().Msg("Shutdown requested while not listening.")
		return nil
	}

	s.logger.Info().Msg("Shutting down server...")

	var shutdownErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		shutdownErr = err
	}

	if err := s.hub.Shutdown(ctx); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	s.cancel()

	select {
	case <-s.serveDone:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	s.listener = nil
	s.httpServer = nil
	s.hub = nil
	s.cancel = nil
	s.serveDone = nil

	s.logger.Info().Msg("Shutdown complete.")
	return shutdownErr
}

// Close disposes the server, shutting it down first if it is listening. It never fails;
// teardown errors are logged. Safe to call more than once.
func (s *Server) Close() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Server teardown finished with errors")
	}
}
