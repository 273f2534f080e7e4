package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHandlerRequired is returned when a server is started without a connection handler.
var ErrHandlerRequired = errors.New("tcpserver: connection handler required")

// ConnHandler serves one accepted connection. The connection is closed by the server
// once the handler returns or the serving context is cancelled.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server wraps the TCP listener lifecycle.
type Server struct {
	Addr string

	logger  *zap.Logger
	workers sync.WaitGroup
}

// New creates a Server for addr. A nil logger discards output.
func New(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:   addr,
		logger: logger,
	}
}

// Listen binds s.Addr with address reuse enabled.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	listener, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcpserver: listen %q: %w", s.Addr, err)
	}
	return listener, nil
}

// ListenAndServe binds s.Addr and serves connections until the context is cancelled.
// A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, handler ConnHandler) error {
	if handler == nil {
		return ErrHandlerRequired
	}

	listener, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener, handler)
}

// Serve accepts connections on listener until the context is cancelled. Accept errors
// are logged and the loop continues. Serve returns ctx.Err() after every handler has
// finished.
func (s *Server) Serve(ctx context.Context, listener net.Listener, handler ConnHandler) error {
	if handler == nil {
		return ErrHandlerRequired
	}
	defer listener.Close()

	shutdown := make(chan struct{})
	defer close(shutdown)

	go func() {
		select {
		case <-ctx.Done():
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("listener close failed", zap.Error(err))
			}
		case <-shutdown:
		}
	}()

	s.logger.Info("listening", zap.Stringer("addr", listener.Addr()))

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.workers.Wait()
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.workers.Wait()
				return fmt.Errorf("tcpserver: accept: %w", err)
			}
			delay = acceptBackoff(delay)
			s.logger.Warn("accept failed", zap.Duration("retry_in", delay), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.workers.Add(1)
		go s.handleConn(ctx, conn, handler)
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptBackoff doubles the wait after each consecutive accept failure, capped at
// maxAcceptDelay.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return minAcceptDelay
	}
	if next := 2 * prev; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, handler ConnHandler) {
	defer s.workers.Done()
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock reads in the handler on shutdown.
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	s.logger.Debug("connection accepted", zap.Stringer("remote", conn.RemoteAddr()))
	handler(connCtx, conn)
}
