package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// streamClient is the subset of *redis.Client the bus uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// Message is one relayed payload on the stream.
type Message struct {
	Node    string    `json:"node"`
	When    time.Time `json:"when"`
	Payload []byte    `json:"payload"`
}

// Bus shares broadcasts between relay nodes through a Redis stream. Each node reads
// the whole stream and ignores its own entries.
type Bus struct {
	cli    streamClient
	stream string
	node   string
	logger *zap.Logger

	maxLen  int64
	block   time.Duration
	backoff time.Duration
}

// New creates a Bus publishing as node on stream.
func New(cli streamClient, stream, node string, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		cli:     cli,
		stream:  stream,
		node:    node,
		logger:  logger.With(zap.String("stream", stream), zap.String("node", node)),
		maxLen:  10000,
		block:   5 * time.Second,
		backoff: time.Second,
	}
}

// NewRedis connects a Bus to the Redis server at addr.
func NewRedis(addr, stream, node string, logger *zap.Logger) (*Bus, *redis.Client) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	return New(cli, stream, node, logger), cli
}

// Publish appends payload to the stream.
func (b *Bus) Publish(ctx context.Context, payload []byte) error {
	data, err := json.Marshal(&Message{Node: b.node, When: time.Now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("cluster: encode: %w", err)
	}
	err = b.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("cluster: publish: %w", err)
	}
	return nil
}

// Consume delivers payloads published by other nodes until ctx is cancelled.
// Entries already in the stream when Consume starts are skipped.
func (b *Bus) Consume(ctx context.Context, deliver func(ctx context.Context, payload []byte)) error {
	lastID, err := b.tail(ctx)
	if err != nil {
		return err
	}

	for {
		res, err := b.cli.XRead(ctx, &redis.XReadArgs{
			Streams: []string{b.stream, lastID},
			Count:   100,
			Block:   b.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("stream read failed", zap.Error(err))
			if err := sleep(ctx, b.backoff); err != nil {
				return err
			}
			continue
		}

		for _, str := range res {
			for _, xmsg := range str.Messages {
				lastID = xmsg.ID
				m, err := decode(xmsg)
				if err != nil {
					b.logger.Warn("dropping malformed entry", zap.String("id", xmsg.ID), zap.Error(err))
					continue
				}
				if m.Node == b.node {
					continue
				}
				deliver(ctx, m.Payload)
			}
		}
	}
}

// tail returns the ID of the newest entry, or "0-0" for an empty stream.
func (b *Bus) tail(ctx context.Context) (string, error) {
	msgs, err := b.cli.XRevRangeN(ctx, b.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("cluster: read stream tail: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func decode(xmsg redis.XMessage) (*Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, errors.New("missing data field")
	}
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
