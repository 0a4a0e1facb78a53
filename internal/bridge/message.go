package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/messenger"
)

const (
	busyText     = ":hourglass: Still working on the previous request. Use `/abort` to stop it."
	watchingText = ":eyes: Cannot run while watching. Use `/stopwatch` first."
)

// HandleMessage is the inbound entry point for human messages. Long work
// (queries, syncs, watches) continues in the background; HandleMessage
// returns once it has been admitted or rejected.
func (b *Bridge) HandleMessage(ctx context.Context, msg messenger.IncomingMessage) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	key := conversation.NewKey(msg.ChannelID, msg.ThreadTS)

	cmd, isCmd := ParseCommand(text)

	// A plain reply while the agent waits on a question answers it.
	if !isCmd && b.router.AnswerInThread(key, msg.UserID, text) {
		return nil
	}

	name := cmdPrompt
	if isCmd {
		name = cmd.Name
	}
	if err := b.watches.Check(key, name); err != nil {
		b.reply(ctx, key, watchingText)
		return nil
	}

	if !isCmd {
		return b.startQuery(ctx, key, msg, text)
	}
	return b.runCommand(ctx, key, cmd)
}

// acquire takes key's gate slot for work that may not run while watching.
// Watches register only while holding the slot, so the check made under it
// is final.
func (b *Bridge) acquire(ctx context.Context, key conversation.Key) bool {
	if !b.gate.TryAcquire(key) {
		b.reply(ctx, key, busyText)
		return false
	}
	if b.watches.IsWatching(key) {
		b.gate.Release(key)
		b.reply(ctx, key, watchingText)
		return false
	}
	return true
}

func (b *Bridge) startQuery(ctx context.Context, key conversation.Key, msg messenger.IncomingMessage, prompt string) error {
	if !b.acquire(ctx, key) {
		return nil
	}
	b.goLocked(key, func(ctx context.Context) {
		b.runQuery(ctx, key, msg, prompt)
	})
	return nil
}

func (b *Bridge) runCommand(ctx context.Context, key conversation.Key, cmd Command) error {
	switch cmd.Name {
	case CmdHelp:
		b.reply(ctx, key, helpText)
	case CmdStatus:
		return b.replyStatus(ctx, key)
	case CmdAbort:
		switch b.Abort(ctx, key) {
		case "query":
			b.reply(ctx, key, ":octagonal_sign: Stopping the agent...")
		case "sync":
			b.reply(ctx, key, ":octagonal_sign: Sync will stop before the next turn.")
		default:
			b.reply(ctx, key, "Nothing is running.")
		}
	case CmdFF:
		if !b.acquire(ctx, key) {
			return nil
		}
		b.goLocked(key, func(ctx context.Context) {
			b.runSync(ctx, key)
		})
	case CmdWatch:
		return b.startWatch(ctx, key)
	case CmdStopWatch:
		if b.watches.Stop(key) {
			b.reply(ctx, key, ":eyes: Watch stopped.")
		} else {
			b.reply(ctx, key, "Not watching.")
		}
	case CmdMode, CmdClear, CmdCD, CmdModel:
		return b.configure(ctx, key, cmd)
	}
	return nil
}

func (b *Bridge) replyStatus(ctx context.Context, key conversation.Key) error {
	st, err := b.Status(ctx, key)
	if err != nil {
		return fmt.Errorf("bridge.Bridge.replyStatus: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("*Status*\n")
	session := st.SessionID
	if session == "" {
		session = "_none_"
	}
	fmt.Fprintf(&sb, "Session: `%s`\nDirectory: `%s`\nMode: `%s`\n", session, st.WorkingDir, st.Mode)
	if st.Model != "" {
		fmt.Fprintf(&sb, "Model: `%s`\n", st.Model)
	}
	switch {
	case st.Running:
		sb.WriteString("State: running a query\n")
	case st.Busy:
		sb.WriteString("State: syncing\n")
	case st.Watching:
		sb.WriteString("State: watching\n")
	default:
		sb.WriteString("State: idle\n")
	}
	if n := st.Approvals.Tools + st.Approvals.Plans + st.Approvals.Questions; n > 0 {
		fmt.Fprintf(&sb, "Waiting on %d approval(s)\n", n)
	}

	b.reply(ctx, key, strings.TrimRight(sb.String(), "\n"))
	return nil
}

// configure applies the session settings commands. They hold the gate for
// the duration of the change so they never interleave with a query.
func (b *Bridge) configure(ctx context.Context, key conversation.Key, cmd Command) error {
	if !b.acquire(ctx, key) {
		return nil
	}
	defer b.gate.Release(key)

	sess, err := b.session(ctx, key)
	if err != nil {
		return fmt.Errorf("bridge.Bridge.configure: %w", err)
	}

	var entry activity.Entry
	now := time.Now()

	switch cmd.Name {
	case CmdMode:
		if !agent.ValidMode(cmd.Args) {
			b.reply(ctx, key, fmt.Sprintf("Unknown mode `%s`. Use default, plan, acceptEdits or bypassPermissions.", cmd.Args))
			return nil
		}
		sess.Mode = cmd.Args
		entry = activity.ModeChanged(cmd.Args, now)
	case CmdClear:
		sess.ResetSession()
		entry = activity.ContextCleared(now)
	case CmdCD:
		dir, err := b.resolveDir(sess.WorkingDir, cmd.Args)
		if err != nil {
			b.reply(ctx, key, ":warning: "+err.Error())
			return nil
		}
		sess.WorkingDir = dir
		sess.ResetSession()
		b.reply(ctx, key, fmt.Sprintf(":file_folder: Working directory is now `%s`", dir))
		entry = activity.ContextCleared(now)
	case CmdModel:
		if cmd.Args == "" {
			model := sess.Model
			if model == "" {
				model = "default"
			}
			b.reply(ctx, key, fmt.Sprintf("Model: `%s`", model))
			return nil
		}
		sess.Model = cmd.Args
		b.reply(ctx, key, fmt.Sprintf("Model set to `%s`", cmd.Args))
	}

	if err := b.store.Conversations().Upsert(ctx, sess); err != nil {
		return fmt.Errorf("bridge.Bridge.configure: save: %w", err)
	}
	if entry.Kind != "" {
		b.reply(ctx, key, activity.RenderEntry(activity.View{Entry: entry}, b.renderOptions()))
	}
	return nil
}

var errNotDirectory = errors.New("not a directory") //nolint:gochecknoglobals // sentinel error

func (b *Bridge) resolveDir(current, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /cd <dir>")
	}
	dir := arg
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		dir = filepath.Join(home, dir[1:])
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(current, dir)
	}
	dir = filepath.Clean(dir)

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cannot use `%s`: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cannot use `%s`: %w", dir, errNotDirectory)
	}
	return dir, nil
}
