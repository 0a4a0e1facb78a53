package bridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gosuda/tether/internal/bridge"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		want   bridge.Command
		wantOK bool
	}{
		{"plain prompt", "fix the tests", bridge.Command{}, false},
		{"status", "/status", bridge.Command{Name: bridge.CmdStatus}, true},
		{"args are trimmed", "/mode   plan ", bridge.Command{Name: bridge.CmdMode, Args: "plan"}, true},
		{"case insensitive", "/FF", bridge.Command{Name: bridge.CmdFF}, true},
		{"path argument", "/cd ~/src/app", bridge.Command{Name: bridge.CmdCD, Args: "~/src/app"}, true},
		{"leading space", "  /abort", bridge.Command{Name: bridge.CmdAbort}, true},
		{"agent command passes through", "/compact", bridge.Command{}, false},
		{"bare slash", "/", bridge.Command{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := bridge.ParseCommand(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
