package slack_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/messenger"
	tetherslack "github.com/gosuda/tether/internal/messenger/slack"
)

const testSigningSecret = "test-signing-secret-12345"

// --- mock handlers ---

type recorder struct {
	mu       sync.Mutex
	messages []messenger.IncomingMessage
	actions  []messenger.Action
	err      error
}

func (r *recorder) HandleMessage(_ context.Context, msg messenger.IncomingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recorder) HandleAction(_ context.Context, a messenger.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return r.err
}

// --- signature helpers ---

// computeSlackSignature computes a valid Slack request signature for the given body and timestamp.
func computeSlackSignature(secret, timestamp, body string) string {
	sigBase := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sigBase))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func signedRequest(path, contentType, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := computeSlackSignature(testSigningSecret, ts, body)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sig)

	return req
}

func eventCallback(inner string) string {
	return `{"type":"event_callback","team_id":"T1","api_app_id":"A1","event":` + inner + `}`
}

// --- HandleEvents tests ---

func TestHandleEvents(t *testing.T) {
	t.Parallel()

	t.Run("url_verification challenge", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		req := signedRequest("/slack/events", "application/json", `{"type":"url_verification","token":"x","challenge":"test-challenge-xyz"}`)
		w := httptest.NewRecorder()
		h.HandleEvents(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var result map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "test-challenge-xyz", result["challenge"])
		assert.Empty(t, rec.messages)
	})

	t.Run("human thread message dispatches with mention stripped", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		body := eventCallback(`{"type":"message","channel":"C1","user":"U1","text":"<@UBOT> /status","ts":"2.0","thread_ts":"1.0"}`)
		w := httptest.NewRecorder()
		h.HandleEvents(w, signedRequest("/slack/events", "application/json", body))

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, rec.messages, 1)
		assert.Equal(t, messenger.IncomingMessage{ChannelID: "C1", ThreadTS: "1.0", TS: "2.0", UserID: "U1", Text: "/status"}, rec.messages[0])
	})

	t.Run("bot and subtype messages are ignored", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		for _, inner := range []string{
			`{"type":"message","channel":"C1","bot_id":"B1","text":"activity","ts":"2.0"}`,
			`{"type":"message","subtype":"message_changed","channel":"C1","ts":"2.0"}`,
		} {
			w := httptest.NewRecorder()
			h.HandleEvents(w, signedRequest("/slack/events", "application/json", eventCallback(inner)))
			assert.Equal(t, http.StatusOK, w.Code)
		}
		assert.Empty(t, rec.messages)
	})

	t.Run("retries are acknowledged without dispatch", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		req := signedRequest("/slack/events", "application/json",
			eventCallback(`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"2.0"}`))
		req.Header.Set("X-Slack-Retry-Num", "1")
		w := httptest.NewRecorder()
		h.HandleEvents(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, rec.messages)
	})

	t.Run("invalid signature returns 401", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		body := `{"type":"url_verification","challenge":"c"}`
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
		req.Header.Set("X-Slack-Request-Timestamp", ts)
		req.Header.Set("X-Slack-Signature", computeSlackSignature("wrong-secret", ts, body))
		w := httptest.NewRecorder()
		h.HandleEvents(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed JSON returns 400", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		w := httptest.NewRecorder()
		h.HandleEvents(w, signedRequest("/slack/events", "application/json", `{not json`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// --- HandleInteractions tests ---

func TestHandleInteractions(t *testing.T) {
	t.Parallel()

	t.Run("block action dispatches", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		payload := map[string]any{
			"type":      "block_actions",
			"user":      map[string]any{"id": "U1"},
			"channel":   map[string]any{"id": "C1"},
			"container": map[string]any{"message_ts": "3.0", "thread_ts": "1.0"},
			"actions": []map[string]any{
				{"action_id": messenger.ActionToolAllow, "value": "req-1", "type": "button"},
			},
		}
		payloadJSON, err := json.Marshal(payload)
		require.NoError(t, err)

		form := url.Values{"payload": {string(payloadJSON)}}.Encode()
		w := httptest.NewRecorder()
		h.HandleInteractions(w, signedRequest("/slack/interactions", "application/x-www-form-urlencoded", form))

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, rec.actions, 1)
		assert.Equal(t, messenger.Action{
			ActionID:  messenger.ActionToolAllow,
			Value:     "req-1",
			UserID:    "U1",
			ChannelID: "C1",
			ThreadTS:  "1.0",
			MessageTS: "3.0",
		}, rec.actions[0])
	})

	t.Run("missing payload returns 400", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		w := httptest.NewRecorder()
		h.HandleInteractions(w, signedRequest("/slack/interactions", "application/x-www-form-urlencoded", "foo=bar"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, rec.actions)
	})

	t.Run("non block action is acknowledged", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		h := tetherslack.NewHandler(testSigningSecret, rec, rec)

		form := url.Values{"payload": {`{"type":"view_submission","user":{"id":"U1"}}`}}.Encode()
		w := httptest.NewRecorder()
		h.HandleInteractions(w, signedRequest("/slack/interactions", "application/x-www-form-urlencoded", form))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, rec.actions)
	})
}

// --- HandleCommands tests ---

func TestHandleCommands(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	h := tetherslack.NewHandler(testSigningSecret, rec, rec)

	form := url.Values{
		"command":    {"/tether"},
		"text":       {"watch"},
		"channel_id": {"C9"},
		"user_id":    {"U9"},
	}.Encode()
	w := httptest.NewRecorder()
	h.HandleCommands(w, signedRequest("/slack/commands", "application/x-www-form-urlencoded", form))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.messages, 1)
	assert.Equal(t, "/watch", rec.messages[0].Text)
	assert.Equal(t, "C9", rec.messages[0].ChannelID)
}
