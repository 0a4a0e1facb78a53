package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/messenger"
	"github.com/gosuda/tether/internal/sessionlog"
)

const (
	finalizeTimeout = 30 * time.Second

	toolExitPlanMode    = "ExitPlanMode"
	toolAskUserQuestion = "AskUserQuestion"
	subtypeCanUseTool   = "can_use_tool"

	abortedText = "Stopped by user"
)

// runQuery drives one agent process from prompt to result. The caller holds
// the conversation's gate slot for the whole call.
func (b *Bridge) runQuery(ctx context.Context, key conversation.Key, msg messenger.IncomingMessage, prompt string) {
	logger := log.With().Str("conversation", key.String()).Logger()

	sess, err := b.session(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("load session")
		b.reply(ctx, key, ":x: Could not load the conversation state.")
		return
	}

	if b.cfg.PendingReaction != "" && msg.TS != "" {
		if err = b.messenger.AddReaction(ctx, key.ChannelID, messenger.MessageID(msg.TS), b.cfg.PendingReaction); err != nil {
			logger.Debug().Err(err).Msg("add pending reaction")
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			defer cancel()
			if err := b.messenger.RemoveReaction(rctx, key.ChannelID, messenger.MessageID(msg.TS), b.cfg.PendingReaction); err != nil {
				logger.Debug().Err(err).Msg("remove pending reaction")
			}
		}()
	}

	opts := b.renderOptions()
	statusID := b.reply(ctx, key, activity.RenderEntry(activity.View{Entry: activity.Starting(time.Now())}, opts))

	// Records already in the log were written before this query, possibly
	// in the terminal, and stay unseen until /ff posts them.
	since := b.logEnd(sess)

	proc, err := b.runner.Start(ctx, agent.StartOptions{
		SessionID:  sess.SessionID,
		WorkingDir: sess.WorkingDir,
		Model:      sess.Model,
		Mode:       sess.Mode,
	})
	if err != nil {
		logger.Error().Err(err).Msg("start agent")
		b.update(ctx, key, statusID, activity.RenderEntry(activity.View{Entry: activity.Failed(err.Error(), time.Now())}, opts))
		return
	}

	stream := agent.NewStream(proc)
	b.setStream(key, stream)
	defer b.setStream(key, nil)

	l := activity.NewLog()
	tracker := activity.NewTracker(l, sess.SessionID,
		activity.WithThinkingLimit(b.cfg.ThinkingLimit),
		activity.WithGeneratingLimit(b.cfg.GeneratingLimit),
	)

	if err = stream.Send(prompt); err != nil {
		logger.Error().Err(err).Msg("send prompt")
		_ = stream.Interrupt(ctx)
	}

	b.consume(ctx, key, stream, tracker, sess.Mode, statusID)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	state := activity.StateDone
	switch err := stream.Err(); {
	case stream.Interrupted():
		tracker.Abort(abortedText)
		state = activity.StateAborted
	case err != nil:
		if tracker.Fail(err) == activity.TerminationFailure {
			ev := logger.Warn().Err(err)
			if code, ok := agent.ExitCode(err); ok {
				ev = ev.Int("exit_code", code)
			}
			ev.Msg("agent exited with error")
			state = activity.StateFailed
		}
	}
	if res := tracker.Result(); res != nil && res.IsError {
		state = activity.StateFailed
	}

	text := activity.Render(l.Live(), opts)
	b.update(fctx, key, statusID, text)
	b.publish(fctx, key, tracker.SessionID(), state, text, l.Len())

	if res := tracker.Result(); res != nil && !res.IsError && res.Result != "" {
		b.postLong(fctx, key, res.Result, "response.md")
	}
	b.uploadThinking(fctx, key, l)

	if err := b.persistSession(fctx, key, tracker.SessionID(), since); err != nil {
		logger.Error().Err(err).Msg("persist session")
	}
}

// consume applies stream events until the process exits, refreshing the
// status message at most once per update interval.
func (b *Bridge) consume(ctx context.Context, key conversation.Key, stream *agent.Stream, tracker *activity.Tracker, mode string, statusID messenger.MessageID) {
	ticker := time.NewTicker(b.cfg.UpdateInterval)
	defer ticker.Stop()

	var (
		controls sync.WaitGroup
		dirty    bool
		done     = ctx.Done()
		events   = stream.Events()
		opts     = b.renderOptions()
	)

	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			tracker.Apply(ev)
			dirty = true

			switch e := ev.(type) {
			case activity.ControlRequestEvent:
				controls.Add(1)
				go func() {
					defer controls.Done()
					b.handleControl(ctx, key, stream, tracker.Log(), mode, e)
				}()
			case activity.ResultEvent:
				if err := stream.CloseInput(); err != nil {
					log.Debug().Err(err).Str("conversation", key.String()).Msg("close agent input")
				}
			}
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			text := activity.Render(tracker.Log().Live(), opts)
			b.update(ctx, key, statusID, text)
			b.publish(ctx, key, tracker.SessionID(), activity.StateRunning, text, tracker.Log().Len())
		case <-done:
			done = nil
			_ = stream.Interrupt(context.WithoutCancel(ctx))
		}
	}

	// Prompts still open belong to a process that is gone.
	if n := b.approvals.AbortConversation(key); n > 0 {
		log.Debug().Str("conversation", key.String()).Int("approvals", n).Msg("aborted approvals of finished query")
	}
	controls.Wait()
}

// handleControl answers one permission request, asking the humans when
// needed. It runs concurrently with the event loop.
func (b *Bridge) handleControl(ctx context.Context, key conversation.Key, stream *agent.Stream, l *activity.Log, mode string, e activity.ControlRequestEvent) {
	logger := log.With().Str("conversation", key.String()).Str("request_id", e.RequestID).Str("tool", e.ToolName).Logger()

	if e.Subtype != subtypeCanUseTool {
		logger.Debug().Str("subtype", e.Subtype).Msg("ignoring control request")
		return
	}

	var err error
	switch {
	case e.ToolName == toolExitPlanMode:
		err = b.answerPlan(ctx, key, stream, l, e)
	case e.ToolName == toolAskUserQuestion:
		err = b.answerQuestions(ctx, key, stream, e)
	case mode == agent.ModeBypassPermissions:
		err = stream.Allow(e.RequestID, e.Input)
	default:
		err = b.answerTool(ctx, key, stream, e)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("answer control request")
	}
}

func denyMessage(err error) string {
	if errors.Is(err, conversation.ErrApprovalAborted) {
		return "Cancelled by user"
	}
	return "No answer received"
}

func (b *Bridge) answerTool(ctx context.Context, key conversation.Key, stream *agent.Stream, e activity.ControlRequestEvent) error {
	d, err := b.router.AskTool(ctx, key, e.RequestID, e.ToolName, e.Input)
	if err != nil {
		return errors.Join(err, stream.Deny(e.RequestID, denyMessage(err)))
	}
	if !d.Allow {
		return stream.Deny(e.RequestID, d.Message)
	}
	input := e.Input
	if len(d.UpdatedInput) > 0 {
		input = d.UpdatedInput
	}
	return stream.Allow(e.RequestID, input)
}

type planInput struct {
	Plan string `json:"plan"`
}

func (b *Bridge) answerPlan(ctx context.Context, key conversation.Key, stream *agent.Stream, l *activity.Log, e activity.ControlRequestEvent) error {
	var in planInput
	if len(e.Input) > 0 {
		if err := json.Unmarshal(e.Input, &in); err != nil {
			log.Debug().Err(err).Msg("decode plan input")
		}
	}

	d, err := b.router.AskPlan(ctx, key, e.RequestID, in.Plan)
	if err != nil {
		return errors.Join(err, stream.Deny(e.RequestID, denyMessage(err)))
	}
	if !d.Approve {
		return stream.Deny(e.RequestID, d.Feedback)
	}

	if err = b.saveMode(ctx, key, d.Mode); err != nil {
		log.Error().Err(err).Str("conversation", key.String()).Msg("save mode after plan approval")
	}
	l.Append(activity.ModeChanged(d.Mode, time.Now()))
	return stream.Allow(e.RequestID, e.Input)
}

type questionInput struct {
	Questions []struct {
		Question string `json:"question"`
		Header   string `json:"header"`
		Options  []struct {
			Label string `json:"label"`
		} `json:"options"`
	} `json:"questions"`
}

// answerQuestions asks every question of an AskUserQuestion call in turn
// and hands the answers back inside the tool input.
func (b *Bridge) answerQuestions(ctx context.Context, key conversation.Key, stream *agent.Stream, e activity.ControlRequestEvent) error {
	var in questionInput
	if err := json.Unmarshal(e.Input, &in); err != nil {
		return errors.Join(fmt.Errorf("decode questions: %w", err), stream.Deny(e.RequestID, "Malformed question"))
	}

	answers := make(map[string]string, len(in.Questions))
	for i, q := range in.Questions {
		options := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			options = append(options, o.Label)
		}

		text := q.Question
		if q.Header != "" {
			text = "*" + q.Header + "*\n" + text
		}

		answer, err := b.router.AskQuestion(ctx, key, fmt.Sprintf("%s/%d", e.RequestID, i), text, options)
		if err != nil {
			return errors.Join(err, stream.Deny(e.RequestID, denyMessage(err)))
		}
		answers[q.Question] = answer
	}

	updated, err := withAnswers(e.Input, answers)
	if err != nil {
		return errors.Join(err, stream.Deny(e.RequestID, "Malformed question"))
	}
	return stream.Allow(e.RequestID, updated)
}

func withAnswers(input json.RawMessage, answers map[string]string) (json.RawMessage, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(input, &fields); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	fields["answers"] = answers

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return out, nil
}

func (b *Bridge) saveMode(ctx context.Context, key conversation.Key, mode string) error {
	sess, err := b.session(ctx, key)
	if err != nil {
		return err
	}
	sess.Mode = mode
	return b.store.Conversations().Upsert(ctx, sess)
}

// postLong posts a finished text, attaching the full content as a file when
// it had to be cut.
func (b *Bridge) postLong(ctx context.Context, key conversation.Key, text, filename string) {
	limit := b.cfg.GeneratingLimit
	b.reply(ctx, key, activity.Format(text, limit, activity.Head, false))

	if !b.cfg.UploadTruncated || !activity.IsTruncated(text, limit) {
		return
	}
	if err := b.messenger.Upload(ctx, key.ChannelID, key.ThreadTS, filename, text); err != nil {
		log.Warn().Err(err).Str("conversation", key.String()).Str("file", filename).Msg("upload full content")
	}
}

// uploadThinking attaches thinking blocks whose preview was cut.
func (b *Bridge) uploadThinking(ctx context.Context, key conversation.Key, l *activity.Log) {
	if !b.cfg.UploadTruncated {
		return
	}

	var parts []string
	for _, e := range l.Entries() {
		if e.Kind == activity.KindThinking && e.Thinking != nil && activity.IsTruncated(e.Thinking.Content, b.cfg.ThinkingLimit) {
			parts = append(parts, e.Thinking.Content)
		}
	}
	if len(parts) == 0 {
		return
	}

	content := strings.Join(parts, "\n\n---\n\n")
	if err := b.messenger.Upload(ctx, key.ChannelID, key.ThreadTS, "thinking.md", content); err != nil {
		log.Warn().Err(err).Str("conversation", key.String()).Msg("upload thinking")
	}
}

// logEnd returns the offset just past the last complete line of the
// session's log, or -1 when it cannot be determined.
func (b *Bridge) logEnd(sess *domain.ConversationSession) int64 {
	if sess.SessionID == "" {
		return 0
	}
	path := sessionlog.SessionLogPath(b.cfg.ProjectsDir, sess.WorkingDir, sess.SessionID)
	res, err := sessionlog.ReadNew(path, sess.LogOffset)
	if err != nil {
		logSession(log.Warn().Err(err), sess).Msg("locate log end before query")
		return -1
	}
	return res.NewOffset
}

// persistSession stores the session id the query ended on and marks the
// records written since the given offset as synced, so a later /ff skips
// them. A negative offset marks nothing. A query that switched sessions
// owns its new log from the start.
func (b *Bridge) persistSession(ctx context.Context, key conversation.Key, sessionID string, since int64) error {
	if sessionID == "" {
		return nil
	}

	sess, err := b.session(ctx, key)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if sess.SessionID != sessionID {
		sess.SessionID = sessionID
		sess.LogOffset = 0
		since = 0
	}

	path := sessionlog.SessionLogPath(b.cfg.ProjectsDir, sess.WorkingDir, sess.SessionID)
	from := since
	if from < 0 {
		from = sess.LogOffset
	}
	res, err := sessionlog.ReadNew(path, from)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	if uuids := recordUUIDs(res.Records); since >= 0 && len(uuids) > 0 {
		if err = b.store.Synced().MarkSynced(ctx, key, sess.SessionID, uuids); err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
	}
	// The offset only tails the log; unseen turns are found by UUID.
	if res.NewOffset > sess.LogOffset {
		sess.LogOffset = res.NewOffset
	}

	if err = b.store.Conversations().Upsert(ctx, sess); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	logSession(log.Debug(), sess).Int("records", len(res.Records)).Msg("session persisted")
	return nil
}

func recordUUIDs(records []*sessionlog.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.UUID != "" {
			out = append(out, r.UUID)
		}
	}
	return out
}

func logSession(e *zerolog.Event, s *domain.ConversationSession) *zerolog.Event {
	return e.Str("conversation", s.Key.String()).Str("session_id", s.SessionID).Int64("offset", s.LogOffset)
}
