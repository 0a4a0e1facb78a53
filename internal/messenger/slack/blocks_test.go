package slack_test

import (
	"strings"
	"testing"

	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/messenger"
	tetherslack "github.com/gosuda/tether/internal/messenger/slack"
)

func TestBuildMessageBlocks(t *testing.T) {
	t.Parallel()

	t.Run("buttons become a styled action row", func(t *testing.T) {
		t.Parallel()

		blocks := tetherslack.BuildMessageBlocks("Allow `Bash`?", []messenger.Button{
			{ActionID: messenger.ActionToolAllow, Label: "Allow", Value: "req-1", Style: messenger.ButtonPrimary},
			{ActionID: messenger.ActionToolDeny, Label: "Deny", Value: "req-1", Style: messenger.ButtonDanger},
			{ActionID: "plain", Label: "Later", Value: "req-1"},
		})
		require.Len(t, blocks, 2)

		section, ok := blocks[0].(*slacklib.SectionBlock)
		require.True(t, ok, "first block should be a SectionBlock")
		assert.Equal(t, slacklib.MBTSection, section.Type)
		assert.Equal(t, "Allow `Bash`?", section.Text.Text)

		actionBlock, ok := blocks[1].(*slacklib.ActionBlock)
		require.True(t, ok, "second block should be an ActionBlock")
		require.Len(t, actionBlock.Elements.ElementSet, 3)

		allow, ok := actionBlock.Elements.ElementSet[0].(*slacklib.ButtonBlockElement)
		require.True(t, ok)
		assert.Equal(t, messenger.ActionToolAllow, allow.ActionID)
		assert.Equal(t, "req-1", allow.Value)
		assert.Equal(t, slacklib.StylePrimary, allow.Style)

		deny, ok := actionBlock.Elements.ElementSet[1].(*slacklib.ButtonBlockElement)
		require.True(t, ok)
		assert.Equal(t, slacklib.StyleDanger, deny.Style)

		plain, ok := actionBlock.Elements.ElementSet[2].(*slacklib.ButtonBlockElement)
		require.True(t, ok)
		assert.Empty(t, plain.Style)
	})

	t.Run("no buttons means text only", func(t *testing.T) {
		t.Parallel()

		blocks := tetherslack.BuildMessageBlocks("hello", nil)
		require.Len(t, blocks, 1)
	})

	t.Run("long text is split into sections", func(t *testing.T) {
		t.Parallel()

		line := strings.Repeat("x", 99) + "\n"
		text := strings.Repeat(line, 70) // 7000 runes

		blocks := tetherslack.BuildMessageBlocks(text, nil)
		require.Len(t, blocks, 3)

		var joined strings.Builder
		for _, b := range blocks {
			section, ok := b.(*slacklib.SectionBlock)
			require.True(t, ok)
			assert.LessOrEqual(t, len([]rune(section.Text.Text)), 3000)
			joined.WriteString(section.Text.Text)
		}
		assert.Equal(t, text, joined.String())
	})

	t.Run("empty text still yields a valid section", func(t *testing.T) {
		t.Parallel()

		blocks := tetherslack.BuildMessageBlocks("", nil)
		require.Len(t, blocks, 1)
		section, ok := blocks[0].(*slacklib.SectionBlock)
		require.True(t, ok)
		assert.NotEmpty(t, section.Text.Text)
	})
}
