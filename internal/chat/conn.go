package chat

import (
	"io"
	"net"
	"sync"
	"time"
)

// Conn is the byte stream to one client. *net.TCPConn satisfies it, as do the
// websocket connections of the gateway.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// clientConn serializes writes to a Conn and closes it at most once.
type clientConn struct {
	conn         Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newClientConn(conn Conn, writeTimeout time.Duration) *clientConn {
	return &clientConn{conn: conn, writeTimeout: writeTimeout}
}

// write sends b as a whole; concurrent callers never interleave.
func (c *clientConn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *clientConn) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *clientConn) remoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
