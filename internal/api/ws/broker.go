package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/conversation"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

// Broker fans activity payloads out to subscribers and remembers the latest
// snapshot per conversation. redisstore.PubSub implements it for
// multi-instance deployments; LocalBroker serves a single process.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	StoreSnapshot(ctx context.Context, key conversation.Key, payload []byte, ttl time.Duration) error
	LatestSnapshot(ctx context.Context, key conversation.Key) ([]byte, error)
}

var (
	_ Broker = (*redisstore.PubSub)(nil) //nolint:gochecknoglobals // compile-time check
	_ Broker = (*LocalBroker)(nil)       //nolint:gochecknoglobals // compile-time check
)

const subscriberBuffer = 64

// LocalBroker is an in-process Broker. Slow subscribers drop messages
// rather than block publishers.
type LocalBroker struct {
	mu        sync.Mutex
	subs      map[string]map[chan []byte]struct{}
	snapshots map[conversation.Key]snapshot
}

type snapshot struct {
	payload []byte
	expires time.Time
}

func (s snapshot) expired(now time.Time) bool {
	return !s.expires.IsZero() && now.After(s.expires)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		subs:      make(map[string]map[chan []byte]struct{}),
		snapshots: make(map[conversation.Key]snapshot),
	}
}

func (b *LocalBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			log.Debug().Str("channel", channel).Msg("ws.LocalBroker: subscriber full, dropping message")
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			close(ch)
		})
	}

	go func() {
		<-ctx.Done()
		cleanup()
	}()

	return ch, cleanup, nil
}

func (b *LocalBroker) StoreSnapshot(_ context.Context, key conversation.Key, payload []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for k, old := range b.snapshots {
		if old.expired(now) {
			delete(b.snapshots, k)
		}
	}

	s := snapshot{payload: payload}
	if ttl > 0 {
		s.expires = now.Add(ttl)
	}
	b.snapshots[key] = s
	return nil
}

func (b *LocalBroker) LatestSnapshot(_ context.Context, key conversation.Key) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.snapshots[key]
	if !ok {
		return nil, nil
	}
	if s.expired(time.Now()) {
		delete(b.snapshots, key)
		return nil, nil
	}
	return s.payload, nil
}

// Snapshots returns the number of stored snapshots, expired or not.
func (b *LocalBroker) Snapshots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots)
}

// Subscribers returns the number of subscribers on channel.
func (b *LocalBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
