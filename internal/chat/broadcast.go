package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ledzpl/tcpchat/internal/observe"
)

// Publisher forwards locally originated broadcasts to other relay nodes.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Broadcaster fans payloads out to every registered client.
type Broadcaster struct {
	registry  *Registry
	logger    *zap.Logger
	publisher Publisher
	echo      bool
	// suffix terminates server notices; empty in raw framing.
	suffix    string
}

// Announce broadcasts a server notice to every registered client.
func (b *Broadcaster) Announce(ctx context.Context, text string) {
	payload := b.notice(text)
	b.fanOut(ctx, payload, nil)
	b.publish(ctx, payload)
}

// Relay broadcasts a payload received from client from. With echo disabled, from is
// skipped.
func (b *Broadcaster) Relay(ctx context.Context, from *Client, payload []byte) {
	var exclude *Client
	if !b.echo {
		exclude = from
	}
	b.fanOut(ctx, payload, exclude)
	observe.IncRelayed("local")
	b.publish(ctx, payload)
}

// Deliver hands a payload that originated on another node to local clients only.
func (b *Broadcaster) Deliver(ctx context.Context, payload []byte) {
	b.fanOut(ctx, payload, nil)
	observe.IncRelayed("remote")
}

// Depart deregisters c, closes its connection and announces the departure. Only the
// call that actually removed c announces; later calls just make sure the connection
// is closed.
func (b *Broadcaster) Depart(ctx context.Context, c *Client, cause error) bool {
	if !b.registry.Remove(c) {
		_ = c.conn.close()
		return false
	}
	_ = c.conn.close()

	b.logger.Info("client left",
		zap.String("session", c.ID),
		zap.String("nick", c.Nickname),
		zap.String("remote", c.RemoteAddr),
		zap.NamedError("cause", cause),
	)
	observe.IncNotice("leave")
	b.Announce(context.WithoutCancel(ctx), leaveNotice(c.Nickname))
	return true
}

func (b *Broadcaster) notice(text string) []byte {
	return []byte(text + b.suffix)
}

// fanOut writes payload to a snapshot of the registry, one goroutine per recipient.
// Recipients whose write fails are departed after every write has finished.
func (b *Broadcaster) fanOut(ctx context.Context, payload []byte, exclude *Client) {
	members := b.registry.Snapshot()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []failedDelivery
	)
	for _, c := range members {
		if c == exclude {
			continue
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.conn.write(payload); err != nil {
				mu.Lock()
				failed = append(failed, failedDelivery{client: c, err: err})
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	for _, f := range failed {
		observe.IncSendFailure()
		b.logger.Warn("delivery failed",
			zap.String("session", f.client.ID),
			zap.String("nick", f.client.Nickname),
			zap.Error(f.err),
		)
		b.Depart(ctx, f.client, f.err)
	}
}

func (b *Broadcaster) publish(ctx context.Context, payload []byte) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, payload); err != nil {
		b.logger.Warn("publish to cluster failed", zap.Error(err))
	}
}

type failedDelivery struct {
	client *Client
	err    error
}
