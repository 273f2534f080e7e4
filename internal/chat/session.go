package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledzpl/tcpchat/internal/observe"
)

// ErrEmptyNickname is the handshake failure for a reply that is blank after trimming.
var ErrEmptyNickname = errors.New("chat: empty nickname")

type session struct {
	relay  *Relay
	conn   *clientConn
	raw    Conn
	frames framer
	logger *zap.Logger

	id      string
	client  *Client
	cleanup sync.Once
}

func newSession(r *Relay, conn Conn) *session {
	id := uuid.NewString()
	cc := newClientConn(conn, r.writeTimeout)
	return &session{
		relay:  r,
		conn:   cc,
		raw:    conn,
		frames: newFramer(r.framing, conn, r.readChunk, r.maxMessage),
		logger: r.logger.With(zap.String("session", id), zap.String("remote", cc.remoteAddr())),
		id:     id,
	}
}

func (s *session) run(ctx context.Context) {
	var cause error
	defer func() { s.cleanupSession(ctx, cause) }()

	if cause = s.setup(ctx); cause != nil {
		s.handleSetupError(cause)
		return
	}

	cause = s.readLoop(ctx)
	s.handleReadError(cause)
}

// setup performs the nickname handshake, registers the client and announces it.
func (s *session) setup(ctx context.Context) error {
	if s.relay.registry.Full() {
		return s.reject()
	}

	nickname, err := s.awaitNickname()
	if err != nil {
		return fmt.Errorf("await nickname: %w", err)
	}

	client := newClient(s.id, nickname, s.conn)
	if err := s.relay.registry.Add(client); err != nil {
		if errors.Is(err, ErrServerFull) {
			return s.reject()
		}
		return fmt.Errorf("register: %w", err)
	}
	s.client = client

	s.logger.Info("client joined", zap.String("nick", nickname))
	observe.IncNotice("join")
	s.relay.broadcaster.Announce(ctx, joinNotice(nickname))

	if err := s.conn.write(s.relay.broadcaster.notice(connectedAck)); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	return nil
}

func (s *session) awaitNickname() (string, error) {
	if err := s.conn.write(s.relay.broadcaster.notice(nickPrompt)); err != nil {
		return "", err
	}
	if err := s.extendReadDeadline(); err != nil {
		return "", err
	}

	reply, err := s.frames.next()
	if err != nil {
		return "", err
	}

	nickname := strings.TrimSpace(string(reply))
	if nickname == "" {
		return "", ErrEmptyNickname
	}
	return nickname, nil
}

func (s *session) reject() error {
	observe.IncRejected()
	if err := s.conn.write(s.relay.broadcaster.notice(serverFull)); err != nil {
		s.logger.Debug("reject notice not delivered", zap.Error(err))
	}
	return ErrServerFull
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		if err := s.extendReadDeadline(); err != nil {
			return err
		}

		payload, err := s.frames.next()
		if err != nil {
			return err
		}

		s.relay.broadcaster.Relay(ctx, s.client, payload)
	}
}

func (s *session) extendReadDeadline() error {
	if s.relay.idleTimeout <= 0 {
		return nil
	}
	return s.raw.SetReadDeadline(time.Now().Add(s.relay.idleTimeout))
}

// cleanupSession runs once per session whatever ended it.
func (s *session) cleanupSession(ctx context.Context, cause error) {
	s.cleanup.Do(func() {
		if s.client != nil {
			s.relay.broadcaster.Depart(ctx, s.client, cause)
			return
		}
		_ = s.conn.close()
	})
}

func (s *session) handleSetupError(err error) {
	switch {
	case errors.Is(err, ErrServerFull):
		s.logger.Info("connection rejected, server full")
	case s.client != nil:
		s.logger.Warn("session setup failed", zap.Error(err))
	default:
		observe.IncHandshakeFailure()
		s.logger.Debug("handshake failed", zap.Error(err))
	}
}

func (s *session) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		return
	case errors.Is(err, net.ErrClosed):
		s.logger.Debug("connection closed locally")
	case isTimeout(err):
		s.logger.Info("idle timeout", zap.String("nick", s.client.Nickname))
	default:
		s.logger.Warn("read failed", zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
