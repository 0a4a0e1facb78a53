package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/gosuda/tether/internal/messenger"
)

// DefaultAppCommand is the slash command registered for the app.
const DefaultAppCommand = "/tether"

// Handler processes Slack webhook requests (Events API, Interactive
// Components and slash commands).
type Handler struct {
	signingSecret string
	appCommand    string
	messages      messenger.MessageHandler
	actions       messenger.ActionHandler
}

// NewHandler creates a new Slack webhook handler.
func NewHandler(signingSecret string, messages messenger.MessageHandler, actions messenger.ActionHandler) *Handler {
	return &Handler{
		signingSecret: signingSecret,
		appCommand:    DefaultAppCommand,
		messages:      messages,
		actions:       actions,
	}
}

// HandleEvents is an http.HandlerFunc for POST /slack/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	// Slack redelivers events it thinks timed out; the first delivery is
	// already being handled.
	if r.Header.Get("X-Slack-Retry-Num") != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		h.handleURLVerification(w, body)
	case slackevents.CallbackEvent:
		h.handleEventCallback(r.Context(), event.InnerEvent)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// handleURLVerification responds to Slack's URL verification challenge.
func (h *Handler) handleURLVerification(w http.ResponseWriter, body []byte) {
	var challenge slackevents.ChallengeResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		http.Error(w, "invalid challenge", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge}); err != nil {
		log.Error().Err(err).Msg("encode url verification response")
	}
}

// handleEventCallback dispatches human channel and thread messages.
func (h *Handler) handleEventCallback(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	evt, ok := inner.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	// Bot posts, edits and joins are not prompts.
	if evt.BotID != "" || evt.SubType != "" || evt.User == "" {
		return
	}

	msg := messenger.IncomingMessage{
		ChannelID: evt.Channel,
		ThreadTS:  evt.ThreadTimeStamp,
		TS:        evt.TimeStamp,
		UserID:    evt.User,
		Text:      StripMention(evt.Text),
	}

	if err := h.messages.HandleMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("channel", msg.ChannelID).Msg("dispatch slack message")
	}
}

// HandleInteractions is an http.HandlerFunc for POST /slack/interactions.
func (h *Handler) HandleInteractions(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	payload := extractFormPayload(string(body))
	if payload == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	var callback slacklib.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		http.Error(w, "invalid payload JSON", http.StatusBadRequest)
		return
	}

	if callback.Type != slacklib.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := callback.ActionCallback.BlockActions[0]
	a := messenger.Action{
		ActionID:  action.ActionID,
		Value:     action.Value,
		UserID:    callback.User.ID,
		ChannelID: callback.Channel.ID,
		ThreadTS:  extractInteractionThreadTS(&callback),
		MessageTS: callback.Container.MessageTs,
	}

	if err := h.actions.HandleAction(r.Context(), a); err != nil {
		log.Warn().Err(err).Str("action_id", a.ActionID).Msg("dispatch slack interaction")
	}

	w.WriteHeader(http.StatusOK)
}

// HandleCommands is an http.HandlerFunc for POST /slack/commands.
func (h *Handler) HandleCommands(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r)
	if !ok {
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	cmd, err := slacklib.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid command", http.StatusBadRequest)
		return
	}

	if err := h.messages.HandleMessage(r.Context(), FromSlashCommand(cmd, h.appCommand)); err != nil {
		log.Error().Err(err).Str("command", cmd.Command).Msg("dispatch slash command")
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}

	if err := h.verifySignature(r.Header, body); err != nil {
		log.Debug().Err(err).Msg("slack signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}

	return body, true
}

// verifySignature validates the Slack request signature using the signing secret.
func (h *Handler) verifySignature(header http.Header, body []byte) error {
	sv, err := slacklib.NewSecretsVerifier(header, h.signingSecret)
	if err != nil {
		return fmt.Errorf("slack.Handler.verifySignature: create verifier: %w", err)
	}

	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("slack.Handler.verifySignature: write body: %w", err)
	}

	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("slack.Handler.verifySignature: ensure: %w", err)
	}

	return nil
}

// extractInteractionThreadTS pulls the thread timestamp from an interaction callback.
func extractInteractionThreadTS(callback *slacklib.InteractionCallback) string {
	if callback.Container.ThreadTs != "" {
		return callback.Container.ThreadTs
	}
	return callback.Message.ThreadTimestamp
}

// extractFormPayload parses the "payload" value from a URL-encoded form body.
func extractFormPayload(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return ""
	}

	return values.Get("payload")
}
