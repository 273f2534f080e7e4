package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Framing modes.
const (
	FramingRaw  = "raw"
	FramingLine = "line"
)

// ErrUnknownFraming is returned by ValidateFraming for a mode other than
// FramingRaw or FramingLine.
var ErrUnknownFraming = errors.New("chat: unknown framing")

// ValidateFraming reports whether mode names a supported framing.
func ValidateFraming(mode string) error {
	switch mode {
	case FramingRaw, FramingLine:
		return nil
	}
	return fmt.Errorf("%w %q", ErrUnknownFraming, mode)
}

const (
	defaultReadChunk  = 1024
	defaultMaxMessage = 4096
)

// Relay owns the registry and broadcaster and runs a session per connection.
type Relay struct {
	registry    *Registry
	broadcaster *Broadcaster
	logger      *zap.Logger

	framing      string
	readChunk    int
	maxMessage   int
	maxClients   int
	echo         bool
	idleTimeout  time.Duration
	writeTimeout time.Duration
	publisher    Publisher
}

// Option customises a Relay.
type Option func(*Relay)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFraming selects FramingRaw or FramingLine. NewRelay logs and falls back to
// raw framing for any other mode.
func WithFraming(mode string) Option {
	return func(r *Relay) { r.framing = mode }
}

// WithReadChunk bounds a single read from a client.
func WithReadChunk(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.readChunk = n
		}
	}
}

// WithMaxMessage bounds a relay unit in line framing.
func WithMaxMessage(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxMessage = n
		}
	}
}

// WithMaxClients caps the registry; 0 means unlimited.
func WithMaxClients(n int) Option {
	return func(r *Relay) {
		if n >= 0 {
			r.maxClients = n
		}
	}
}

// WithEcho controls whether a client receives its own payloads.
func WithEcho(echo bool) Option {
	return func(r *Relay) { r.echo = echo }
}

// WithIdleTimeout disconnects clients that send nothing for d. 0 disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d >= 0 {
			r.idleTimeout = d
		}
	}
}

// WithWriteTimeout bounds each write to a client. 0 disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d >= 0 {
			r.writeTimeout = d
		}
	}
}

// WithPublisher forwards every local broadcast to p.
func WithPublisher(p Publisher) Option {
	return func(r *Relay) { r.publisher = p }
}

// NewRelay constructs a Relay with an empty registry.
func NewRelay(opts ...Option) *Relay {
	r := &Relay{
		logger:       zap.NewNop(),
		framing:      FramingRaw,
		readChunk:    defaultReadChunk,
		maxMessage:   defaultMaxMessage,
		echo:         true,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := ValidateFraming(r.framing); err != nil {
		r.logger.Warn("falling back to raw framing", zap.Error(err))
		r.framing = FramingRaw
	}

	r.registry = NewRegistry(r.maxClients)
	r.broadcaster = &Broadcaster{
		registry:  r.registry,
		logger:    r.logger,
		publisher: r.publisher,
		echo:      r.echo,
	}
	if r.framing == FramingLine {
		r.broadcaster.suffix = "\n"
	}
	return r
}

// Registry exposes the live client set.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Broadcaster exposes the fan-out engine.
func (r *Relay) Broadcaster() *Broadcaster {
	return r.broadcaster
}

// HandleConn adapts Serve to a TCP accept loop.
func (r *Relay) HandleConn(ctx context.Context, conn net.Conn) {
	r.Serve(ctx, conn)
}

// Serve runs the full session for conn and returns once the client is gone.
// conn is closed on return.
func (r *Relay) Serve(ctx context.Context, conn Conn) {
	newSession(r, conn).run(ctx)
}

// DeliverRemote hands a payload received from another node to local clients.
func (r *Relay) DeliverRemote(ctx context.Context, payload []byte) {
	r.broadcaster.Deliver(ctx, payload)
}
