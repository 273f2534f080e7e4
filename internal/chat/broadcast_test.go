package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnnounceReachesEveryClient(t *testing.T) {
	relay := NewRelay()
	alice := registerFake(t, relay, "alice")
	bob := registerFake(t, relay, "bob")

	relay.Broadcaster().Announce(context.Background(), "hello")

	require.Equal(t, "hello", alice.written())
	require.Equal(t, "hello", bob.written())
}

func TestRelayEchoesToSenderByDefault(t *testing.T) {
	relay := NewRelay()
	alice := registerFake(t, relay, "alice")
	bob := registerFake(t, relay, "bob")

	relay.Broadcaster().Relay(context.Background(), alice.client, []byte("alice: hi"))

	require.Equal(t, "alice: hi", alice.written())
	require.Equal(t, "alice: hi", bob.written())
}

func TestRelayWithoutEchoSkipsSender(t *testing.T) {
	relay := NewRelay(WithEcho(false))
	alice := registerFake(t, relay, "alice")
	bob := registerFake(t, relay, "bob")

	relay.Broadcaster().Relay(context.Background(), alice.client, []byte("alice: hi"))

	require.Empty(t, alice.written())
	require.Equal(t, "alice: hi", bob.written())

	relay.Broadcaster().Announce(context.Background(), "notice")
	require.Equal(t, "notice", alice.written(), "notices are not subject to echo suppression")
}

func TestFailedDeliveryIsIsolatedAndEvicts(t *testing.T) {
	relay := NewRelay()
	alice := registerFake(t, relay, "alice")
	broken := registerFake(t, relay, "mallory")
	bob := registerFake(t, relay, "bob")
	broken.conn.failWrites(errors.New("connection reset by peer"))

	relay.Broadcaster().Relay(context.Background(), alice.client, []byte("alice: hi"))

	require.Equal(t, "alice: himallory has disconnected.", alice.written())
	require.Equal(t, "alice: himallory has disconnected.", bob.written())
	require.False(t, relay.Registry().Contains(broken.client))
	require.True(t, broken.conn.isClosed())
	require.Equal(t, 2, relay.Registry().Len())
}

func TestDepartAnnouncesExactlyOnce(t *testing.T) {
	relay := NewRelay()
	alice := registerFake(t, relay, "alice")
	bob := registerFake(t, relay, "bob")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if relay.Broadcaster().Depart(context.Background(), bob.client, io.EOF) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
	require.Equal(t, "bob has disconnected.", alice.written())
	require.Empty(t, bob.written())
	require.True(t, bob.conn.isClosed())
	require.Equal(t, 1, relay.Registry().Len())
}

func TestLineFramingTerminatesNotices(t *testing.T) {
	relay := NewRelay(WithFraming(FramingLine))
	alice := registerFake(t, relay, "alice")

	relay.Broadcaster().Announce(context.Background(), joinNotice("bob"))
	require.Equal(t, "bob has joined the chat!\n", alice.written())
}

func TestPublisherSeesLocalTrafficOnly(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewRelay(WithPublisher(pub))
	alice := registerFake(t, relay, "alice")
	ctx := context.Background()

	relay.Broadcaster().Relay(ctx, alice.client, []byte("alice: local"))
	relay.DeliverRemote(ctx, []byte("zed: remote"))

	require.Equal(t, "alice: localzed: remote", alice.written())
	require.Equal(t, []string{"alice: local"}, pub.payloads())
}

func TestPublishFailureDoesNotBlockDelivery(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	relay := NewRelay(WithPublisher(pub))
	alice := registerFake(t, relay, "alice")

	relay.Broadcaster().Announce(context.Background(), "hello")
	require.Equal(t, "hello", alice.written())
}

type fakeClient struct {
	client *Client
	conn   *fakeConn
}

func (f *fakeClient) written() string { return f.conn.written() }

func registerFake(t *testing.T, relay *Relay, nickname string) *fakeClient {
	t.Helper()
	conn := &fakeConn{}
	c := newClient(nickname+"-id", nickname, newClientConn(conn, 0))
	require.NoError(t, relay.Registry().Add(c))
	return &fakeClient{client: c, conn: conn}
}

func newFakeClient(nickname string) *Client {
	return newClient(nickname+"-id", nickname, newClientConn(&fakeConn{}, 0))
}

// fakeConn records writes and never yields data.
type fakeConn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	closed   bool
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, string(payload))
	return nil
}

func (p *recordingPublisher) payloads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func TestUnknownFramingFallsBackToRaw(t *testing.T) {
	require.ErrorIs(t, ValidateFraming("json"), ErrUnknownFraming)
	require.NoError(t, ValidateFraming(FramingLine))

	relay := NewRelay(WithFraming("json"))
	require.Equal(t, FramingRaw, relay.framing)

	alice := registerFake(t, relay, "alice")
	relay.Broadcaster().Announce(context.Background(), "hello")
	require.Equal(t, "hello", alice.written(), "raw framing leaves notices unterminated")
}
