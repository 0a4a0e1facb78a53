package slack

import (
	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/tether/internal/messenger"
)

// sectionLimit is the maximum text length of one section block.
const sectionLimit = 3000

// BuildMessageBlocks builds Slack Block Kit blocks for text, split across as
// many section blocks as needed. If buttons are provided, an action block is
// appended below the text.
func BuildMessageBlocks(text string, buttons []messenger.Button) []slacklib.Block {
	chunks := splitText(text, sectionLimit)
	blocks := make([]slacklib.Block, 0, len(chunks)+1)
	for _, chunk := range chunks {
		blocks = append(blocks, slacklib.NewSectionBlock(
			slacklib.NewTextBlockObject(slacklib.MarkdownType, chunk, false, false),
			nil,
			nil,
		))
	}

	if len(buttons) == 0 {
		return blocks
	}

	elements := make([]slacklib.BlockElement, 0, len(buttons))
	for _, b := range buttons {
		btn := slacklib.NewButtonBlockElement(
			b.ActionID,
			b.Value,
			slacklib.NewTextBlockObject(slacklib.PlainTextType, b.Label, false, false),
		)
		switch b.Style {
		case messenger.ButtonPrimary:
			btn = btn.WithStyle(slacklib.StylePrimary)
		case messenger.ButtonDanger:
			btn = btn.WithStyle(slacklib.StyleDanger)
		case messenger.ButtonDefault:
		}
		elements = append(elements, btn)
	}

	return append(blocks, slacklib.NewActionBlock("tether_actions", elements...))
}

// splitText cuts s into rune-safe chunks of at most limit runes, preferring
// line boundaries.
func splitText(s string, limit int) []string {
	if s == "" {
		return []string{" "}
	}

	var chunks []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(chunks, string(runes))
}
