package sessionlog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/sessionlog"
)

func TestParseRecord(t *testing.T) {
	t.Parallel()

	t.Run("string content becomes a text block", func(t *testing.T) {
		t.Parallel()

		rec, err := sessionlog.ParseRecord([]byte(userLine("u1", "fix the bug")))

		require.NoError(t, err)
		assert.Equal(t, sessionlog.KindUser, rec.Kind)
		assert.Equal(t, "u1", rec.UUID)
		assert.Equal(t, "s1", rec.SessionID)
		assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp.UTC())
		require.Len(t, rec.Content, 1)
		assert.Equal(t, sessionlog.BlockText, rec.Content[0].Type)
		assert.Equal(t, "fix the bug", rec.Text())
	})

	t.Run("typed blocks", func(t *testing.T) {
		t.Parallel()

		line := `{"type":"assistant","uuid":"a1","message":{"role":"assistant","content":[` +
			`{"type":"thinking","thinking":"hmm"},` +
			`{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/x.go"}}]}}`

		rec, err := sessionlog.ParseRecord([]byte(line))

		require.NoError(t, err)
		require.Len(t, rec.Content, 2)
		assert.Equal(t, "hmm", rec.Content[0].Thinking)
		assert.Equal(t, "Read", rec.Content[1].Name)
		assert.Equal(t, "toolu_1", rec.Content[1].ID)
		assert.JSONEq(t, `{"file_path":"/x.go"}`, string(rec.Content[1].Input))
		assert.True(t, rec.HasBlock(sessionlog.BlockToolUse))
		assert.Len(t, rec.ToolUses(), 1)
	})

	t.Run("tool_result content as parts array", func(t *testing.T) {
		t.Parallel()

		line := `{"type":"user","uuid":"u2","message":{"role":"user","content":[` +
			`{"type":"tool_result","tool_use_id":"toolu_1","content":[{"type":"text","text":"line1"},{"type":"text","text":"line2"}]}]}}`

		rec, err := sessionlog.ParseRecord([]byte(line))

		require.NoError(t, err)
		require.Len(t, rec.Content, 1)
		assert.Equal(t, "toolu_1", rec.Content[0].ToolUseID)
		assert.Equal(t, "line1\nline2", rec.Content[0].Content)
	})

	t.Run("toolUseResult object and string", func(t *testing.T) {
		t.Parallel()

		obj := `{"type":"user","uuid":"u3","message":{"role":"user","content":"x"},"toolUseResult":{"type":"create","filePath":"/a.md","content":"# A"}}`
		rec, err := sessionlog.ParseRecord([]byte(obj))
		require.NoError(t, err)
		require.NotNil(t, rec.ToolUseResult)
		assert.Equal(t, "create", rec.ToolUseResult.Type)
		assert.Equal(t, "/a.md", rec.ToolUseResult.FilePath)

		str := `{"type":"user","uuid":"u4","message":{"role":"user","content":"x"},"toolUseResult":"Error: denied"}`
		rec, err = sessionlog.ParseRecord([]byte(str))
		require.NoError(t, err)
		require.NotNil(t, rec.ToolUseResult)
		assert.Equal(t, "Error: denied", rec.ToolUseResult.Text)
	})

	t.Run("control record without message", func(t *testing.T) {
		t.Parallel()

		rec, err := sessionlog.ParseRecord([]byte(`{"type":"queue-operation","operation":"enqueue"}`))

		require.NoError(t, err)
		assert.Empty(t, rec.Content)
		assert.False(t, sessionlog.Keep(rec))
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := sessionlog.ParseRecord([]byte(`{"type":"assistant","incomp`))
		require.Error(t, err)

		_, err = sessionlog.ParseRecord([]byte("   "))
		assert.ErrorIs(t, err, sessionlog.ErrEmptyLine)
	})
}
