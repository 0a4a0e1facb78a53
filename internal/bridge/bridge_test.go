package bridge_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/agent/agenttest"
	"github.com/gosuda/tether/internal/bridge"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/messenger"
	"github.com/gosuda/tether/internal/messenger/messengertest"
	"github.com/gosuda/tether/internal/sessionlog"
	"github.com/gosuda/tether/internal/store/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond

	initLine   = `{"type":"system","subtype":"init","session_id":"s1","model":"claude-sonnet","cwd":"/repo","permissionMode":"default"}`
	resultLine = `{"type":"result","subtype":"success","is_error":false,"result":"Hello world","session_id":"s1","duration_ms":900,"num_turns":1}`
)

var key = conversation.NewKey("C1", "100.0") //nolint:gochecknoglobals // shared fixture

type env struct {
	bridge   *bridge.Bridge
	fake     *messengertest.Fake
	runner   *agenttest.Runner
	store    *memory.Store
	projects string
	workDir  string
}

func newEnv(t *testing.T, cfg bridge.Config, procs []*agenttest.Process, opts ...bridge.Option) *env {
	t.Helper()

	e := &env{
		fake:     messengertest.New(),
		runner:   agenttest.NewRunner(procs...),
		store:    memory.New(),
		projects: t.TempDir(),
		workDir:  t.TempDir(),
	}

	cfg.ProjectsDir = e.projects
	cfg.DefaultWorkingDir = e.workDir
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = 10 * time.Millisecond
	}
	cfg.GeneratingLimit = 3000
	cfg.PendingReaction = "hourglass"
	cfg.UploadTruncated = true

	ctx, cancel := context.WithCancel(context.Background())
	e.bridge = bridge.New(ctx, cfg, e.fake, e.runner, e.store, opts...)
	t.Cleanup(func() {
		cancel()
		e.bridge.Wait()
	})
	return e
}

func (e *env) send(t *testing.T, text string) {
	t.Helper()
	err := e.bridge.HandleMessage(context.Background(), messenger.IncomingMessage{
		ChannelID: key.ChannelID,
		ThreadTS:  key.ThreadTS,
		TS:        "101.0",
		UserID:    "U1",
		Text:      text,
	})
	require.NoError(t, err)
}

func (e *env) posted(substr string) bool {
	for _, p := range e.fake.Posts() {
		if strings.Contains(p.Text, substr) {
			return true
		}
	}
	return false
}

func (e *env) seedSession(t *testing.T, sessionID string) {
	t.Helper()
	require.NoError(t, e.store.Conversations().Upsert(context.Background(), &domain.ConversationSession{
		Key:        key,
		SessionID:  sessionID,
		WorkingDir: e.workDir,
		Mode:       agent.ModeDefault,
	}))
}

func (e *env) logPath(sessionID string) string {
	return sessionlog.SessionLogPath(e.projects, e.workDir, sessionID)
}

func userLine(uuid, text string) string {
	return fmt.Sprintf(`{"type":"user","uuid":%q,"timestamp":"2025-06-01T10:00:00.000Z","sessionId":"s1","message":{"role":"user","content":%q}}`, uuid, text)
}

func assistantLine(uuid, text string) string {
	return fmt.Sprintf(`{"type":"assistant","uuid":%q,"timestamp":"2025-06-01T10:00:01.000Z","sessionId":"s1","message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`, uuid, text)
}

func readLine(uuid string) string {
	return fmt.Sprintf(`{"type":"assistant","uuid":%q,"timestamp":"2025-06-01T10:00:02.000Z","sessionId":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/repo/main.go"}}]}}`, uuid)
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	for _, l := range lines {
		_, err = f.WriteString(l + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func controlLine(id, tool, input string) string {
	return fmt.Sprintf(`{"type":"control_request","request_id":%q,"request":{"subtype":"can_use_tool","tool_name":%q,"tool_use_id":"toolu_%s","input":%s}}`, id, tool, id, input)
}

// finish emits the result, waits for the bridge to close stdin and exits.
func finish(t *testing.T, proc *agenttest.Process) {
	t.Helper()
	proc.Emit(resultLine)
	require.Eventually(t, proc.StdinClosed, waitFor, tick)
	proc.Exit(nil)
}

func TestQuery_HappyPath(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

	e.send(t, "say hello")
	require.Eventually(t, func() bool {
		return strings.Contains(proc.StdinText(), "say hello")
	}, waitFor, tick)

	proc.Emit(initLine)
	writeLog(t, e.logPath("s1"), userLine("u1", "say hello"), assistantLine("a1", "Hello world"))
	finish(t, proc)
	e.bridge.Wait()

	started := e.runner.Started()
	require.Len(t, started, 1)
	assert.Equal(t, e.workDir, started[0].WorkingDir)
	assert.Empty(t, started[0].SessionID)

	posts := e.fake.Posts()
	require.NotEmpty(t, posts)
	assert.Contains(t, posts[0].Text, "Starting")
	assert.True(t, e.posted("Hello world"))

	reactions := e.fake.Reactions()
	require.Len(t, reactions, 2)
	assert.True(t, reactions[0].Added)
	assert.False(t, reactions[1].Added)
	assert.Equal(t, "hourglass", reactions[1].Name)

	sess, err := e.store.Conversations().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.SessionID)

	info, err := os.Stat(e.logPath("s1"))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), sess.LogOffset)

	seen, err := e.store.Synced().SyncedSet(context.Background(), key, "s1")
	require.NoError(t, err)
	assert.Len(t, seen, 2)

	st, err := e.bridge.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.Busy)
	assert.False(t, st.Running)
}

func TestQuery_ResumesStoredSession(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})
	e.seedSession(t, "s1")

	e.send(t, "continue")
	require.Eventually(t, func() bool { return len(e.runner.Started()) == 1 }, waitFor, tick)
	finish(t, proc)
	e.bridge.Wait()

	assert.Equal(t, "s1", e.runner.Started()[0].SessionID)
}

func TestQuery_BusyConversationRejectsSecondPrompt(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

	e.send(t, "first")
	e.send(t, "second")

	assert.True(t, e.posted("Still working"))
	require.Eventually(t, func() bool { return len(e.runner.Started()) == 1 }, waitFor, tick)

	finish(t, proc)
	e.bridge.Wait()
	assert.Len(t, e.runner.Started(), 1)
}

func TestQuery_StartFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.runner.Fail(assert.AnError)

	e.send(t, "hello")
	e.bridge.Wait()

	posts := e.fake.Posts()
	require.NotEmpty(t, posts)
	assert.Contains(t, e.fake.LastText(posts[0].ID), "Error")

	st, err := e.bridge.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.Busy)
}

func TestQuery_ProcessExitFailure(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

	e.send(t, "hello")
	require.Eventually(t, func() bool { return len(e.runner.Started()) == 1 }, waitFor, tick)

	proc.Emit(initLine)
	proc.Exit(&agent.ExitError{Code: 2, Stderr: "unknown flag"})
	e.bridge.Wait()

	posts := e.fake.Posts()
	require.NotEmpty(t, posts)
	assert.Contains(t, e.fake.LastText(posts[0].ID), "code 2: unknown flag")

	sess, err := e.store.Conversations().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.SessionID)

	st, err := e.bridge.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.Busy)
	assert.False(t, st.Running)
}

func TestQuery_ToolApprovalRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actionID string
		want     string
		outcome  string
	}{
		{"allow", messenger.ActionToolAllow, `"behavior":"allow"`, "Allowed by <@U2>"},
		{"deny", messenger.ActionToolDeny, `"behavior":"deny"`, "Denied by <@U2>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			proc := agenttest.NewProcess()
			e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

			e.send(t, "clean the build")
			proc.Emit(initLine, controlLine("req-1", "Bash", `{"command":"rm -rf build"}`))

			var prompt messengertest.Post
			require.Eventually(t, func() bool {
				var ok bool
				prompt, ok = e.fake.FindPost(tt.actionID)
				return ok
			}, waitFor, tick)
			assert.Contains(t, prompt.Text, "rm -rf build")

			st, err := e.bridge.Status(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Approvals.Tools)

			err = e.bridge.HandleAction(context.Background(), messenger.Action{
				ActionID: tt.actionID, Value: "req-1", UserID: "U2", ChannelID: key.ChannelID, MessageTS: string(prompt.ID),
			})
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				in := proc.StdinText()
				return strings.Contains(in, `"request_id":"req-1"`) && strings.Contains(in, tt.want)
			}, waitFor, tick)
			require.Eventually(t, func() bool {
				return strings.Contains(e.fake.LastText(prompt.ID), tt.outcome)
			}, waitFor, tick)

			// A second click finds nothing to resolve.
			err = e.bridge.HandleAction(context.Background(), messenger.Action{ActionID: tt.actionID, Value: "req-1"})
			require.ErrorIs(t, err, messenger.ErrNotPending)

			finish(t, proc)
		})
	}
}

func TestQuery_QuestionAnsweredInThread(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

	e.send(t, "pick a colour")
	proc.Emit(initLine, controlLine("req-q", "AskUserQuestion",
		`{"questions":[{"question":"Which colour?","header":"Colour","options":[{"label":"red"},{"label":"green"}],"multiSelect":false}]}`))

	require.Eventually(t, func() bool {
		_, ok := e.fake.FindPost(messenger.ActionQuestionAnswer)
		return ok
	}, waitFor, tick)

	// A plain reply answers the question instead of starting a query.
	e.send(t, "blue")

	require.Eventually(t, func() bool {
		in := proc.StdinText()
		return strings.Contains(in, `"answers"`) && strings.Contains(in, `"Which colour?":"blue"`)
	}, waitFor, tick)
	assert.Len(t, e.runner.Started(), 1)

	finish(t, proc)
}

func TestQuery_PlanApprovalSwitchesMode(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

	e.send(t, "plan the refactor")
	proc.Emit(initLine, controlLine("req-p", "ExitPlanMode", `{"plan":"1. split package\n2. add tests"}`))

	var prompt messengertest.Post
	require.Eventually(t, func() bool {
		var ok bool
		prompt, ok = e.fake.FindPost(messenger.ActionPlanApproveEdits)
		return ok
	}, waitFor, tick)
	assert.Contains(t, prompt.Text, "split package")

	require.NoError(t, e.bridge.HandleAction(context.Background(), messenger.Action{
		ActionID: messenger.ActionPlanApproveEdits, Value: "req-p", UserID: "U1",
	}))

	require.Eventually(t, func() bool {
		return strings.Contains(proc.StdinText(), `"behavior":"allow"`)
	}, waitFor, tick)

	sess, err := e.store.Conversations().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, agent.ModeAcceptEdits, sess.Mode)

	finish(t, proc)
}

func TestAbort_InterruptsRunningQuery(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})

	e.send(t, "long job")
	proc.Emit(initLine, controlLine("req-1", "Bash", `{"command":"make"}`))
	require.Eventually(t, func() bool {
		st, err := e.bridge.Status(context.Background(), key)
		return err == nil && st.Running && st.Approvals.Tools == 1
	}, waitFor, tick)

	e.send(t, "/abort")
	e.bridge.Wait()

	assert.True(t, e.posted("Stopping the agent"))
	assert.Equal(t, 1, proc.Interrupts())

	posts := e.fake.Posts()
	assert.Contains(t, e.fake.LastText(posts[0].ID), "Aborted")

	prompt, ok := e.fake.FindPost(messenger.ActionToolAllow)
	require.True(t, ok)
	assert.Contains(t, e.fake.LastText(prompt.ID), "Cancelled")
}

func TestAbort_NothingRunning(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.send(t, "/abort")
	assert.True(t, e.posted("Nothing is running"))
}

func TestSync_PostsOnlyUnseenTurns(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.seedSession(t, "s1")
	writeLog(t, e.logPath("s1"),
		userLine("u1", "first question"), assistantLine("a1", "first answer"),
		userLine("u2", "second question"), readLine("r2"), assistantLine("a2", "second answer"),
	)
	require.NoError(t, e.store.Synced().MarkSynced(context.Background(), key, "s1", []string{"u1", "a1"}))

	e.send(t, "/ff")
	e.bridge.Wait()

	assert.True(t, e.posted("Syncing 1 turn(s)"))
	assert.True(t, e.posted("second question"))
	assert.True(t, e.posted("`Read` main.go"))
	assert.True(t, e.posted("second answer"))
	assert.True(t, e.posted("Synced 1 turn(s)"))
	assert.False(t, e.posted("first answer"))

	seen, err := e.store.Synced().SyncedSet(context.Background(), key, "s1")
	require.NoError(t, err)
	assert.Len(t, seen, 5)

	sess, err := e.store.Conversations().Get(context.Background(), key)
	require.NoError(t, err)
	info, err := os.Stat(e.logPath("s1"))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), sess.LogOffset)

	// Replaying is idempotent.
	e.send(t, "/ff")
	e.bridge.Wait()
	assert.True(t, e.posted("Already up to date"))
}

func TestSync_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no session", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, bridge.Config{}, nil)
		e.send(t, "/ff")
		e.bridge.Wait()
		assert.True(t, e.posted("No session to sync"))
	})

	t.Run("missing log", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, bridge.Config{}, nil)
		e.seedSession(t, "gone")
		e.send(t, "/ff")
		e.bridge.Wait()
		assert.True(t, e.posted("Session log not found"))
	})
}

func TestSync_AbortStopsBetweenTurns(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{SyncTurnDelay: 300 * time.Millisecond}, nil)
	e.seedSession(t, "s1")
	writeLog(t, e.logPath("s1"),
		userLine("u1", "one"), assistantLine("a1", "answer one"),
		userLine("u2", "two"), assistantLine("a2", "answer two"),
		userLine("u3", "three"), assistantLine("a3", "answer three"),
	)

	e.send(t, "/ff")
	require.Eventually(t, func() bool { return e.posted("answer one") }, waitFor, tick)

	e.send(t, "/abort")
	e.bridge.Wait()

	assert.True(t, e.posted("Sync will stop"))
	assert.True(t, e.posted("Sync aborted after 1 of 3"))
	assert.False(t, e.posted("answer two"))

	seen, err := e.store.Synced().SyncedSet(context.Background(), key, "s1")
	require.NoError(t, err)
	assert.Len(t, seen, 2)

	st, err := e.bridge.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.AbortPending)
}

func TestSync_ReplaysTerminalTurnAfterQuery(t *testing.T) {
	t.Parallel()

	proc := agenttest.NewProcess()
	e := newEnv(t, bridge.Config{}, []*agenttest.Process{proc})
	e.seedSession(t, "s1")

	// A turn made in the terminal before the next chat prompt.
	writeLog(t, e.logPath("s1"), userLine("t1", "terminal question"), assistantLine("ta1", "terminal answer"))

	e.send(t, "chat prompt")
	require.Eventually(t, func() bool {
		return strings.Contains(proc.StdinText(), "chat prompt")
	}, waitFor, tick)

	proc.Emit(initLine)
	writeLog(t, e.logPath("s1"), userLine("u1", "chat prompt"), assistantLine("a1", "Hello world"))
	finish(t, proc)
	e.bridge.Wait()

	seen, err := e.store.Synced().SyncedSet(context.Background(), key, "s1")
	require.NoError(t, err)
	assert.Contains(t, seen, "u1")
	assert.Contains(t, seen, "a1")
	assert.NotContains(t, seen, "t1")
	assert.NotContains(t, seen, "ta1")

	sess, err := e.store.Conversations().Get(context.Background(), key)
	require.NoError(t, err)
	info, err := os.Stat(e.logPath("s1"))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), sess.LogOffset)

	e.send(t, "/ff")
	e.bridge.Wait()

	assert.True(t, e.posted("Syncing 1 turn(s)"))
	assert.True(t, e.posted(":bust_in_silhouette: terminal question"))
	assert.True(t, e.posted("terminal answer"))
	assert.False(t, e.posted(":bust_in_silhouette: chat prompt"))
	assert.False(t, e.posted("Already up to date"))
}

func TestConfigure(t *testing.T) {
	t.Parallel()

	t.Run("mode", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, bridge.Config{}, nil)
		e.send(t, "/mode plan")
		e.send(t, "/mode yolo")

		sess, err := e.store.Conversations().Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, agent.ModePlan, sess.Mode)
		assert.True(t, e.posted("Mode set to `plan`"))
		assert.True(t, e.posted("Unknown mode `yolo`"))
	})

	t.Run("clear", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, bridge.Config{}, nil)
		e.seedSession(t, "s1")
		e.send(t, "/clear")

		sess, err := e.store.Conversations().Get(context.Background(), key)
		require.NoError(t, err)
		assert.Empty(t, sess.SessionID)
		assert.Equal(t, e.workDir, sess.WorkingDir)
		assert.True(t, e.posted("Context cleared"))
	})

	t.Run("cd", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, bridge.Config{}, nil)
		e.seedSession(t, "s1")
		require.NoError(t, os.Mkdir(filepath.Join(e.workDir, "sub"), 0o755))

		e.send(t, "/cd sub")
		e.send(t, "/cd missing")

		sess, err := e.store.Conversations().Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(e.workDir, "sub"), sess.WorkingDir)
		assert.Empty(t, sess.SessionID)
		assert.True(t, e.posted("cannot use"))
	})

	t.Run("model", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, bridge.Config{}, nil)
		e.send(t, "/model opus")
		e.send(t, "/model")

		assert.True(t, e.posted("Model: `opus`"))
	})

	t.Run("rejected while busy", func(t *testing.T) {
		t.Parallel()

		gate := conversation.NewGate()
		require.True(t, gate.TryAcquire(key))

		e := newEnv(t, bridge.Config{}, nil, bridge.WithGate(gate))
		e.send(t, "/mode plan")
		assert.True(t, e.posted("Still working"))
		gate.Release(key)
	})
}

func TestStatusAndHelp(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.seedSession(t, "s1")

	e.send(t, "/status")
	e.send(t, "/help")

	assert.True(t, e.posted("Session: `s1`"))
	assert.True(t, e.posted("State: idle"))
	assert.True(t, e.posted("*Commands*"))
}

func TestWatch_RejectsOtherCommands(t *testing.T) {
	t.Parallel()

	watches := conversation.NewWatchSet()
	require.True(t, watches.Start(key, func() {}))

	e := newEnv(t, bridge.Config{}, nil, bridge.WithWatchSet(watches))

	e.send(t, "do something")
	e.send(t, "/ff")
	e.send(t, "/status")

	assert.Empty(t, e.runner.Started())
	assert.True(t, e.posted("Cannot run while watching"))
	assert.True(t, e.posted("State: watching"))
	assert.False(t, e.posted("Syncing"))
}

func TestWatch_FollowsLog(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.seedSession(t, "s1")
	writeLog(t, e.logPath("s1"), userLine("u1", "earlier"), assistantLine("a1", "old activity"))

	e.send(t, "/watch")
	require.Eventually(t, func() bool {
		st, err := e.bridge.Status(context.Background(), key)
		return err == nil && st.Watching
	}, waitFor, tick)

	var status messengertest.Post
	for _, p := range e.fake.Posts() {
		if strings.HasPrefix(p.Text, ":eyes: Watching session") {
			status = p
		}
	}
	require.NotEmpty(t, status.ID)

	writeLog(t, e.logPath("s1"), readLine("r1"))
	require.Eventually(t, func() bool {
		return strings.Contains(e.fake.LastText(status.ID), "`Read` main.go")
	}, waitFor, tick)

	e.send(t, "/stopwatch")
	assert.True(t, e.posted("Watch stopped."))

	require.Eventually(t, func() bool {
		return strings.Contains(e.fake.LastText(status.ID), "Watch ended")
	}, waitFor, tick)

	st, err := e.bridge.Status(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, st.Watching)

	e.send(t, "/stopwatch")
	assert.True(t, e.posted("Not watching."))
}

func TestWatch_NeedsSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.send(t, "/watch")
	assert.True(t, e.posted("No session to watch"))
}

func TestWatch_RacesWithPrompt(t *testing.T) {
	t.Parallel()

	for i := range 20 {
		t.Run(fmt.Sprintf("round_%d", i), func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, bridge.Config{}, nil)
			e.seedSession(t, "s1")
			writeLog(t, e.logPath("s1"), userLine("u1", "hello"), assistantLine("a1", "hi"))

			var (
				wg    sync.WaitGroup
				start = make(chan struct{})
			)
			for _, text := range []string{"/watch", "a prompt"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					assert.NoError(t, e.bridge.HandleMessage(context.Background(), messenger.IncomingMessage{
						ChannelID: key.ChannelID,
						ThreadTS:  key.ThreadTS,
						TS:        "101.0",
						UserID:    "U1",
						Text:      text,
					}))
				}()
			}
			close(start)
			wg.Wait()

			// Exactly one side wins: either the watch or the query.
			rejected := 0
			for _, p := range e.fake.Posts() {
				if strings.Contains(p.Text, "Still working") || strings.Contains(p.Text, "Cannot run while watching") {
					rejected++
				}
			}
			assert.Equal(t, 1, rejected)

			st, err := e.bridge.Status(context.Background(), key)
			require.NoError(t, err)
			if st.Watching {
				assert.False(t, st.Busy)
				assert.Empty(t, e.runner.Started())
			} else {
				require.Eventually(t, func() bool { return len(e.runner.Started()) == 1 }, waitFor, tick)
			}
		})
	}
}

func TestWatch_BlocksGateTakingCommands(t *testing.T) {
	t.Parallel()

	e := newEnv(t, bridge.Config{}, nil)
	e.seedSession(t, "s1")
	writeLog(t, e.logPath("s1"), userLine("u1", "hello"), assistantLine("a1", "hi"))

	e.send(t, "/watch")
	require.True(t, e.posted("Watching session `s1`"))

	for _, text := range []string{"a prompt", "/ff", "/mode plan", "/clear"} {
		e.send(t, text)
	}

	assert.Empty(t, e.runner.Started())
	assert.False(t, e.posted("Syncing"))
	assert.False(t, e.posted("Mode set to"))

	sess, err := e.store.Conversations().Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.SessionID)
	assert.Equal(t, agent.ModeDefault, sess.Mode)

	st, err := e.bridge.Status(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, st.Watching)
	assert.False(t, st.Busy)

	e.send(t, "/stopwatch")
	assert.True(t, e.posted("Watch stopped."))
}
