package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/conversation"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

const defaultSnapshotTTL = time.Hour

// Hub streams conversation activity to WebSocket observers.
type Hub struct {
	broker         Broker
	snapshotTTL    time.Duration
	originPatterns []string
}

// HubOption configures optional Hub parameters.
type HubOption func(*Hub)

// WithSnapshotTTL sets how long the latest snapshot stays available to late
// subscribers.
func WithSnapshotTTL(d time.Duration) HubOption {
	return func(h *Hub) { h.snapshotTTL = d }
}

// WithOriginPatterns allows cross-origin WebSocket clients matching patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.originPatterns = patterns }
}

// NewHub creates a new WebSocket hub.
func NewHub(broker Broker, opts ...HubOption) *Hub {
	h := &Hub{broker: broker, snapshotTTL: defaultSnapshotTTL}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PublishActivity stores snap as the latest state of key and sends it to
// current subscribers.
func (h *Hub) PublishActivity(ctx context.Context, key conversation.Key, snap activity.Snapshot) error {
	payload, err := json.Marshal(ActivityEvent{
		Type:         EventSnapshot,
		Conversation: key.String(),
		Data:         snap,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("ws.Hub.PublishActivity: marshal: %w", err)
	}

	if err = h.broker.StoreSnapshot(ctx, key, payload, h.snapshotTTL); err != nil {
		return fmt.Errorf("ws.Hub.PublishActivity: %w", err)
	}
	if err = h.broker.Publish(ctx, redisstore.ActivityChannel(key), payload); err != nil {
		return fmt.Errorf("ws.Hub.PublishActivity: %w", err)
	}
	return nil
}

// ServeActivity handles WebSocket connections observing one conversation,
// addressed as /ws/activity/{channel}?thread=<ts>. The latest snapshot is
// sent first, then every update.
func (h *Hub) ServeActivity(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel")
	if channelID == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	key := conversation.NewKey(channelID, r.URL.Query().Get("thread"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Observers only listen; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	// Subscribe before reading the snapshot so no update falls in between.
	messages, cleanup, err := h.broker.Subscribe(ctx, redisstore.ActivityChannel(key))
	if err != nil {
		log.Error().Err(err).Str("conversation", key.String()).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	latest, err := h.broker.LatestSnapshot(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("conversation", key.String()).Msg("load latest snapshot")
	}
	if latest != nil {
		if err = conn.Write(ctx, websocket.MessageText, latest); err != nil {
			log.Debug().Err(err).Msg("websocket write")
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
