package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/messenger"
	"github.com/gosuda/tether/internal/sessionlog"
)

// startWatch follows the session log of key and mirrors new activity into
// one status message until /stopwatch. Activity written before the watch
// started is not shown. The watch registers while holding the gate slot,
// so it never overlaps a query, sync or settings change.
func (b *Bridge) startWatch(ctx context.Context, key conversation.Key) error {
	if b.watches.IsWatching(key) {
		b.reply(ctx, key, "Already watching.")
		return nil
	}
	if !b.gate.TryAcquire(key) {
		b.reply(ctx, key, busyText)
		return nil
	}
	defer b.gate.Release(key)

	sess, err := b.store.Conversations().Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && sess.SessionID == "") {
		b.reply(ctx, key, "No session to watch yet. Send a prompt first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bridge.Bridge.startWatch: %w", err)
	}

	path := sessionlog.SessionLogPath(b.cfg.ProjectsDir, sess.WorkingDir, sess.SessionID)
	start, err := sessionlog.ReadNew(path, 0)
	if err != nil {
		return fmt.Errorf("bridge.Bridge.startWatch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("bridge.Bridge.startWatch: new watcher: %w", err)
	}
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		b.reply(ctx, key, fmt.Sprintf(":warning: Cannot watch `%s`: %v", filepath.Dir(path), err))
		return nil
	}

	wctx, cancel := context.WithCancel(b.ctx)
	if !b.watches.Start(key, cancel) {
		cancel()
		_ = watcher.Close()
		b.reply(ctx, key, "Already watching.")
		return nil
	}

	header := fmt.Sprintf(":eyes: Watching session `%s`", sess.SessionID)
	statusID := b.reply(ctx, key, header+"\n"+activity.Render(nil, b.renderOptions()))

	w := &watch{
		key:       key,
		sessionID: sess.SessionID,
		path:      path,
		offset:    start.NewOffset,
		header:    header,
		statusID:  statusID,
		watcher:   watcher,
		log:       activity.NewLog(),
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runWatch(wctx, w)
	}()

	log.Info().Str("conversation", key.String()).Str("path", path).Msg("watch started")
	return nil
}

type watch struct {
	key       conversation.Key
	sessionID string
	path      string
	offset    int64
	header    string
	statusID  messenger.MessageID
	watcher   *fsnotify.Watcher
	log       *activity.Log
}

func (b *Bridge) runWatch(ctx context.Context, w *watch) {
	defer w.watcher.Close()

	ticker := time.NewTicker(b.cfg.UpdateInterval)
	defer ticker.Stop()

	opts := b.renderOptions()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			// Stop already removed the watch; a newer one may own the key.
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			w.read()
			b.update(fctx, w.key, w.statusID, ":eyes: Watch ended\n"+activity.Render(w.log.Live(), opts))
			cancel()
			log.Info().Str("conversation", w.key.String()).Msg("watch stopped")
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				b.watches.Done(w.key)
				return
			}
			if ev.Name != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if w.read() > 0 {
				dirty = true
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				b.watches.Done(w.key)
				return
			}
			log.Warn().Err(err).Str("conversation", w.key.String()).Msg("watch error")
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			text := activity.Render(w.log.Live(), opts)
			b.update(ctx, w.key, w.statusID, w.header+"\n"+text)
			b.publish(ctx, w.key, w.sessionID, activity.StateWatching, text, w.log.Len())
		}
	}
}

// read applies the records appended since the last read and returns how
// many there were.
func (w *watch) read() int {
	res, err := sessionlog.ReadNew(w.path, w.offset)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("read watched log")
		return 0
	}
	w.offset = res.NewOffset
	for _, rec := range res.Records {
		w.log.ApplyRecord(rec)
	}
	return len(res.Records)
}
