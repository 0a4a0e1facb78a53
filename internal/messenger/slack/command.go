package slack

import (
	"regexp"
	"strings"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/tether/internal/messenger"
)

// mentionPattern matches a Slack-encoded user mention (<@U12345>) at the start.
var mentionPattern = regexp.MustCompile(`^<@[A-Z0-9]+>\s*`) //nolint:gochecknoglobals // compiled regexp

// StripMention removes a leading bot mention from message text.
func StripMention(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(strings.TrimSpace(text), ""))
}

// FromSlashCommand converts a slash command into an inbound message. The
// app's own command ("/tether status") is unwrapped into "/status"; any
// other command is forwarded verbatim.
func FromSlashCommand(cmd slacklib.SlashCommand, appCommand string) messenger.IncomingMessage {
	text := strings.TrimSpace(cmd.Command + " " + cmd.Text)
	if cmd.Command == appCommand {
		text = "/" + strings.TrimSpace(cmd.Text)
		if text == "/" {
			text = "/help"
		}
	}

	return messenger.IncomingMessage{
		ChannelID: cmd.ChannelID,
		UserID:    cmd.UserID,
		Text:      text,
	}
}
