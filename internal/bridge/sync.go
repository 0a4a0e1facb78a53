package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/sessionlog"
)

// runSync posts the turns of the session log that this conversation has
// not seen yet, oldest first. An abort flag stops it between turns; a turn
// already being posted always completes. The caller holds the gate slot.
func (b *Bridge) runSync(ctx context.Context, key conversation.Key) {
	logger := log.With().Str("conversation", key.String()).Logger()

	// A stale flag from an earlier /abort must not cancel this run.
	b.aborts.Clear(key)

	sess, err := b.store.Conversations().Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && sess.SessionID == "") {
		b.reply(ctx, key, "No session to sync yet. Send a prompt first.")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("load session")
		b.reply(ctx, key, ":x: Could not load the conversation state.")
		return
	}

	path := sessionlog.SessionLogPath(b.cfg.ProjectsDir, sess.WorkingDir, sess.SessionID)
	records, err := sessionlog.ReadAll(path)
	if errors.Is(err, sessionlog.ErrLogNotFound) {
		b.reply(ctx, key, fmt.Sprintf(":warning: Session log not found for `%s`.", sess.SessionID))
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("read session log")
		b.reply(ctx, key, ":x: Could not read the session log.")
		return
	}

	seen, err := b.store.Synced().SyncedSet(ctx, key, sess.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("load synced set")
		b.reply(ctx, key, ":x: Could not load the sync state.")
		return
	}

	turns := sessionlog.UnseenTurns(sessionlog.GroupTurns(records), seen)
	if len(turns) == 0 {
		b.reply(ctx, key, ":white_check_mark: Already up to date.")
		return
	}

	b.reply(ctx, key, fmt.Sprintf(":fast_forward: Syncing %d turn(s)...", len(turns)))
	b.publish(ctx, key, sess.SessionID, activity.StateSyncing, "", 0)

	for i := range turns {
		if b.aborts.Consume(key) {
			b.reply(ctx, key, fmt.Sprintf(":octagonal_sign: Sync aborted after %d of %d turn(s).", i, len(turns)))
			b.publish(ctx, key, sess.SessionID, activity.StateAborted, "", i)
			return
		}

		if err = b.postTurn(ctx, key, &turns[i]); err != nil {
			logger.Error().Err(err).Int("turn", i).Msg("post turn")
			b.reply(ctx, key, fmt.Sprintf(":x: Sync stopped after %d of %d turn(s).", i, len(turns)))
			b.publish(ctx, key, sess.SessionID, activity.StateFailed, "", i)
			return
		}
		if err = b.store.Synced().MarkSynced(ctx, key, sess.SessionID, turns[i].UUIDs); err != nil {
			logger.Error().Err(err).Int("turn", i).Msg("mark turn synced")
		}

		if i < len(turns)-1 && !sleep(ctx, b.cfg.SyncTurnDelay) {
			return
		}
	}

	res, err := sessionlog.ReadNew(path, sess.LogOffset)
	if err != nil {
		logger.Warn().Err(err).Msg("advance log offset")
	} else if err = b.store.Conversations().UpdateOffset(ctx, key, res.NewOffset); err != nil {
		logger.Warn().Err(err).Msg("save log offset")
	}

	b.reply(ctx, key, fmt.Sprintf(":white_check_mark: Synced %d turn(s).", len(turns)))
	b.publish(ctx, key, sess.SessionID, activity.StateDone, "", len(turns))
	logger.Info().Int("turns", len(turns)).Msg("sync finished")
}

// postTurn posts one turn as the user input, the activity of each segment
// and the text that closed it.
func (b *Bridge) postTurn(ctx context.Context, key conversation.Key, turn *sessionlog.Turn) error {
	limit := b.cfg.GeneratingLimit

	if turn.UserInput != nil {
		text := ":bust_in_silhouette: " + activity.Format(sessionlog.DisplayText(turn.UserInput), limit, activity.Head, false)
		if err := b.post(ctx, key, text); err != nil {
			return err
		}
	}

	for _, seg := range turn.Segments {
		if err := b.postActivity(ctx, key, seg.Activity); err != nil {
			return err
		}
		if seg.TextOutput == nil {
			continue
		}
		text := sessionlog.DisplayText(seg.TextOutput)
		if err := b.post(ctx, key, activity.Format(text, limit, activity.Head, false)); err != nil {
			return err
		}
		if b.cfg.UploadTruncated && activity.IsTruncated(text, limit) {
			if err := b.messenger.Upload(ctx, key.ChannelID, key.ThreadTS, "response.md", text); err != nil {
				log.Warn().Err(err).Str("conversation", key.String()).Msg("upload synced response")
			}
		}
	}

	if err := b.postActivity(ctx, key, turn.Trailing); err != nil {
		return err
	}
	if turn.PlanFilePath != "" {
		return b.post(ctx, key, fmt.Sprintf(":clipboard: Plan: `%s`", turn.PlanFilePath))
	}
	return nil
}

func (b *Bridge) postActivity(ctx context.Context, key conversation.Key, records []*sessionlog.Record) error {
	if len(records) == 0 {
		return nil
	}
	l := activity.NewLog()
	for _, rec := range records {
		l.ApplyRecord(rec)
	}
	if l.Len() == 0 {
		return nil
	}
	return b.post(ctx, key, activity.Render(l.History(), b.renderOptions()))
}

func (b *Bridge) post(ctx context.Context, key conversation.Key, text string) error {
	if _, err := b.messenger.Post(ctx, key.ChannelID, key.ThreadTS, text); err != nil {
		return fmt.Errorf("post: %w", err)
	}
	return nil
}

// sleep waits d or until ctx ends, reporting whether the full delay passed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
