package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gosuda/tether/internal/conversation"
)

type PubSub struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// ActivityChannel returns the Redis channel name carrying rendered activity
// snapshots for a conversation.
func ActivityChannel(key conversation.Key) string {
	return "tether:activity:" + key.String()
}

// SnapshotKey returns the Redis key holding the latest snapshot for a
// conversation, so late subscribers can catch up.
func SnapshotKey(key conversation.Key) string {
	return "tether:snapshot:" + key.String()
}

// StoreSnapshot keeps payload as the latest snapshot for ttl.
func (ps *PubSub) StoreSnapshot(ctx context.Context, key conversation.Key, payload []byte, ttl time.Duration) error {
	if err := ps.client.Set(ctx, SnapshotKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.StoreSnapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or nil when none is stored.
func (ps *PubSub) LatestSnapshot(ctx context.Context, key conversation.Key) ([]byte, error) {
	b, err := ps.client.Get(ctx, SnapshotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis.PubSub.LatestSnapshot: %w", err)
	}
	return b, nil
}

// Ping checks Redis reachability for health probes.
func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}
