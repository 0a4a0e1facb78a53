package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// ButtonStyle selects the visual emphasis of a button.
type ButtonStyle string

const (
	ButtonDefault ButtonStyle = ""
	ButtonPrimary ButtonStyle = "primary"
	ButtonDanger  ButtonStyle = "danger"
)

// Button is an interactive choice attached to a posted message. Clicking it
// delivers an Action carrying ActionID and Value back to the ActionHandler.
type Button struct {
	ActionID string
	Label    string
	Value    string
	Style    ButtonStyle
}

// IncomingMessage is a human message received from the platform.
type IncomingMessage struct {
	ChannelID string
	// ThreadTS is empty for top-level channel messages.
	ThreadTS string
	TS       string
	UserID   string
	Text     string
}

// Action is a button click received from the platform.
type Action struct {
	ActionID  string
	Value     string
	UserID    string
	ChannelID string
	ThreadTS  string
	MessageTS string
}

// MessageHandler consumes inbound messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg IncomingMessage) error
}

// ActionHandler consumes button clicks.
type ActionHandler interface {
	HandleAction(ctx context.Context, a Action) error
}

// Messenger abstracts communication with a chat platform.
// Implementations handle platform-specific API calls; the interface is platform-agnostic.
type Messenger interface {
	// Post sends text to a channel, inside threadTS when it is set, and
	// returns the new message's id.
	Post(ctx context.Context, channelID, threadTS, text string, buttons ...Button) (MessageID, error)

	// Update replaces the text of an existing message and drops any buttons.
	Update(ctx context.Context, channelID string, id MessageID, text string) error

	AddReaction(ctx context.Context, channelID string, id MessageID, name string) error
	RemoveReaction(ctx context.Context, channelID string, id MessageID, name string) error

	// Upload attaches content as a file, used when a preview was truncated.
	Upload(ctx context.Context, channelID, threadTS, filename, content string) error

	// Platform returns the messenger platform identifier (e.g. "slack").
	Platform() string
}
