package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/tether/internal/messenger"
)

// SlackAPI abstracts the subset of the Slack client used by SlackMessenger.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slacklib.MsgOption) (string, string, string, error)
	AddReactionContext(ctx context.Context, name string, item slacklib.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slacklib.ItemRef) error
	UploadFileV2Context(ctx context.Context, params slacklib.UploadFileV2Parameters) (*slacklib.FileSummary, error)
}

// SlackMessenger implements messenger.Messenger for Slack.
type SlackMessenger struct {
	api SlackAPI
}

// Compile-time interface check.
var _ messenger.Messenger = (*SlackMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackMessenger creates a SlackMessenger with the given API client.
func NewSlackMessenger(api SlackAPI) *SlackMessenger {
	return &SlackMessenger{api: api}
}

// Post sends a message and returns its timestamp as MessageID. Buttons are
// rendered as a Block Kit action row below the text.
func (m *SlackMessenger) Post(ctx context.Context, channelID, threadTS, text string, buttons ...messenger.Button) (messenger.MessageID, error) {
	opts := []slacklib.MsgOption{
		slacklib.MsgOptionText(text, false),
		slacklib.MsgOptionBlocks(BuildMessageBlocks(text, buttons)...),
	}
	if threadTS != "" {
		opts = append(opts, slacklib.MsgOptionTS(threadTS))
	}

	_, ts, err := m.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.Post: %w", err)
	}

	return messenger.MessageID(ts), nil
}

// Update rewrites a message. The blocks are replaced too, so any buttons go away.
func (m *SlackMessenger) Update(ctx context.Context, channelID string, id messenger.MessageID, text string) error {
	_, _, _, err := m.api.UpdateMessageContext(ctx, channelID, string(id),
		slacklib.MsgOptionText(text, false),
		slacklib.MsgOptionBlocks(BuildMessageBlocks(text, nil)...),
	)
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.Update: %w", err)
	}

	return nil
}

func (m *SlackMessenger) AddReaction(ctx context.Context, channelID string, id messenger.MessageID, name string) error {
	if err := m.api.AddReactionContext(ctx, name, slacklib.NewRefToMessage(channelID, string(id))); err != nil {
		return fmt.Errorf("slack.SlackMessenger.AddReaction: %w", err)
	}
	return nil
}

func (m *SlackMessenger) RemoveReaction(ctx context.Context, channelID string, id messenger.MessageID, name string) error {
	if err := m.api.RemoveReactionContext(ctx, name, slacklib.NewRefToMessage(channelID, string(id))); err != nil {
		return fmt.Errorf("slack.SlackMessenger.RemoveReaction: %w", err)
	}
	return nil
}

// Upload attaches content as a text file in the conversation.
func (m *SlackMessenger) Upload(ctx context.Context, channelID, threadTS, filename, content string) error {
	_, err := m.api.UploadFileV2Context(ctx, slacklib.UploadFileV2Parameters{
		Channel:         channelID,
		ThreadTimestamp: threadTS,
		Content:         content,
		FileSize:        len(content),
		Filename:        filename,
		Title:           filename,
	})
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.Upload: %w", err)
	}

	return nil
}

// Platform returns the messenger platform identifier.
func (m *SlackMessenger) Platform() string {
	return "slack"
}
