package activity_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/gosuda/tether/internal/activity"
)

func TestFormat_ShortContentUnchanged(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "a", "hello world", strings.Repeat("x", 100), "héllo wörld ✓"}

	for _, s := range inputs {
		for _, mode := range []activity.Mode{activity.Head, activity.Tail} {
			for _, inProgress := range []bool{false, true} {
				assert.Equal(t, s, activity.Format(s, 100, mode, inProgress), "mode=%s inProgress=%v", mode, inProgress)
			}
		}
	}
}

func TestFormat_TailKeepsMostRecentText(t *testing.T) {
	t.Parallel()

	content := "HEAD" + strings.Repeat("X", 4000) + "TAIL"

	got := activity.Format(content, 3000, activity.Tail, false)

	assert.Contains(t, got, "TAIL")
	assert.NotContains(t, got, "HEAD")
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.True(t, strings.HasSuffix(got, activity.TruncatedFooter))
}

func TestFormat_Head(t *testing.T) {
	t.Parallel()

	content := "HEAD" + strings.Repeat("X", 4000) + "TAIL"

	got := activity.Format(content, 3000, activity.Head, false)

	assert.True(t, strings.HasPrefix(got, "HEAD"))
	assert.NotContains(t, got, "TAIL")
	assert.Equal(t, strings.Repeat("X", 2996)+"...", strings.TrimSuffix(strings.TrimPrefix(got, "HEAD"), activity.TruncatedFooter))
}

func TestFormat_InProgressSuppressesFooter(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("z", 50)

	assert.NotContains(t, activity.Format(content, 10, activity.Tail, true), activity.TruncatedFooter)
	assert.NotContains(t, activity.Format(content, 10, activity.Head, true), activity.TruncatedFooter)
	assert.Contains(t, activity.Format(content, 10, activity.Head, false), activity.TruncatedFooter)
}

func TestFormat_CountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("한", 20)

	got := activity.Format(content, 20, activity.Head, false)
	assert.Equal(t, content, got)

	got = activity.Format(content, 5, activity.Tail, true)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "..."+strings.Repeat("한", 5), got)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc...", activity.Preview("abcdef", 3))
	assert.Equal(t, "abc", activity.Preview("abc", 3))
	assert.Equal(t, "abcdef", activity.Preview("abcdef", 0))
	assert.True(t, activity.IsTruncated("abcdef", 3))
	assert.False(t, activity.IsTruncated("abc", 3))
}
