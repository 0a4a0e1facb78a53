package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/api/ws"
	"github.com/gosuda/tether/internal/conversation"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

func newServer(t *testing.T, hub *ws.Hub) string {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/ws/activity/{channel}", hub.ServeActivity)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn) ws.ActivityEvent {
	t.Helper()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var ev ws.ActivityEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_ServeActivity(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := ws.NewLocalBroker()
	hub := ws.NewHub(broker)
	url := newServer(t, hub)
	key := conversation.NewKey("C1", "100.0")

	require.NoError(t, hub.PublishActivity(ctx, key, activity.Snapshot{
		Conversation: key.String(), State: activity.StateRunning, Text: "first",
	}))

	conn, _, err := websocket.Dial(ctx, url+"/ws/activity/C1?thread=100.0", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	ev := readEvent(ctx, t, conn)
	assert.Equal(t, ws.EventSnapshot, ev.Type)
	assert.Equal(t, "C1:100.0", ev.Conversation)
	assert.Equal(t, "first", ev.Data.Text)

	require.Eventually(t, func() bool {
		return broker.Subscribers(redisstore.ActivityChannel(key)) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.PublishActivity(ctx, key, activity.Snapshot{
		Conversation: key.String(), State: activity.StateDone, Text: "second",
	}))

	ev = readEvent(ctx, t, conn)
	assert.Equal(t, activity.StateDone, ev.Data.State)
	assert.Equal(t, "second", ev.Data.Text)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return broker.Subscribers(redisstore.ActivityChannel(key)) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHub_OtherConversationsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := ws.NewLocalBroker()
	hub := ws.NewHub(broker)
	url := newServer(t, hub)

	conn, _, err := websocket.Dial(ctx, url+"/ws/activity/C1", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	mine := conversation.NewKey("C1", "")
	require.Eventually(t, func() bool {
		return broker.Subscribers(redisstore.ActivityChannel(mine)) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.PublishActivity(ctx, conversation.NewKey("C2", ""), activity.Snapshot{Text: "other"}))
	require.NoError(t, hub.PublishActivity(ctx, mine, activity.Snapshot{Text: "mine"}))

	ev := readEvent(ctx, t, conn)
	assert.Equal(t, "mine", ev.Data.Text)
}

func TestLocalBroker_SnapshotExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := ws.NewLocalBroker()
	key := conversation.NewKey("C1", "")

	got, err := b.LatestSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, b.StoreSnapshot(ctx, key, []byte("a"), time.Millisecond))
	require.Eventually(t, func() bool {
		got, err = b.LatestSnapshot(ctx, key)
		return err == nil && got == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.StoreSnapshot(ctx, key, []byte("b"), 0))
	got, err = b.LatestSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestLocalBroker_StorePrunesExpiredSnapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := ws.NewLocalBroker()

	require.NoError(t, b.StoreSnapshot(ctx, conversation.NewKey("C1", ""), []byte("a"), time.Millisecond))
	require.NoError(t, b.StoreSnapshot(ctx, conversation.NewKey("C2", ""), []byte("b"), 0))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, b.StoreSnapshot(ctx, conversation.NewKey("C3", ""), []byte("c"), time.Hour))
	assert.Equal(t, 2, b.Snapshots())

	got, err := b.LatestSnapshot(ctx, conversation.NewKey("C2", ""))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestLocalBroker_SubscribeUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := ws.NewLocalBroker()

	ch, cleanup, err := b.Subscribe(ctx, "c")
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, b.Publish(context.Background(), "c", []byte("x")))
	assert.Equal(t, []byte("x"), <-ch)

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers("c") == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}
