// Package bridge connects chat conversations to agent sessions. It owns the
// per-conversation concurrency state (gate, approval registries, sync abort
// flags and watches) and serves the inbound message and button handlers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/messenger"
)

// Publisher receives live activity snapshots, e.g. for WebSocket observers.
type Publisher interface {
	PublishActivity(ctx context.Context, key conversation.Key, snap activity.Snapshot) error
}

// Config holds the bridge tunables.
type Config struct {
	ProjectsDir       string
	DefaultWorkingDir string
	Model             string
	Mode              string
	ThinkingLimit     int
	GeneratingLimit   int
	Window            int
	UpdateInterval    time.Duration
	SyncTurnDelay     time.Duration
	PendingReaction   string
	UploadTruncated   bool
}

// Bridge handles inbound chat traffic for every conversation.
type Bridge struct {
	ctx       context.Context
	cfg       Config
	messenger messenger.Messenger
	runner    agent.Runner
	store     domain.Store
	publisher Publisher
	router    *messenger.Router

	gate      *conversation.Gate
	approvals *conversation.Approvals
	aborts    *conversation.AbortTracker
	watches   *conversation.WatchSet

	mu      sync.Mutex
	running map[conversation.Key]*agent.Stream
	wg      sync.WaitGroup
}

var (
	_ messenger.MessageHandler = (*Bridge)(nil) //nolint:gochecknoglobals // compile-time check
	_ messenger.ActionHandler  = (*Bridge)(nil) //nolint:gochecknoglobals // compile-time check
)

// Option configures optional Bridge collaborators.
type Option func(*Bridge)

func WithPublisher(p Publisher) Option {
	return func(b *Bridge) { b.publisher = p }
}

func WithGate(g *conversation.Gate) Option {
	return func(b *Bridge) { b.gate = g }
}

func WithApprovals(a *conversation.Approvals) Option {
	return func(b *Bridge) { b.approvals = a }
}

func WithAbortTracker(a *conversation.AbortTracker) Option {
	return func(b *Bridge) { b.aborts = a }
}

func WithWatchSet(w *conversation.WatchSet) Option {
	return func(b *Bridge) { b.watches = w }
}

// WithRouterOptions passes options to the approval prompt router.
func WithRouterOptions(opts ...messenger.RouterOption) Option {
	return func(b *Bridge) {
		b.router = messenger.NewRouter(b.messenger, b.approvals, opts...)
	}
}

// New creates a Bridge. Background work (queries, syncs, watches) is bound
// to ctx.
func New(ctx context.Context, cfg Config, msg messenger.Messenger, runner agent.Runner, store domain.Store, opts ...Option) *Bridge {
	if cfg.Window <= 0 {
		cfg.Window = activity.DefaultRenderOptions().Window
	}
	if cfg.ThinkingLimit <= 0 {
		cfg.ThinkingLimit = activity.ThinkingPreviewLimit
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = agent.ModeDefault
	}

	b := &Bridge{
		ctx:       ctx,
		cfg:       cfg,
		messenger: msg,
		runner:    runner,
		store:     store,
		gate:      conversation.NewGate(),
		approvals: conversation.NewApprovals(),
		aborts:    conversation.NewAbortTracker(),
		watches:   conversation.NewWatchSet(),
		running:   make(map[conversation.Key]*agent.Stream),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.router == nil {
		b.router = messenger.NewRouter(b.messenger, b.approvals)
	}
	return b
}

// Wait blocks until all background work has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// go runs fn in the background while holding key's gate slot, which the
// caller acquired. The slot is released when fn returns.
func (b *Bridge) goLocked(key conversation.Key, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.gate.Release(key)
		fn(b.ctx)
	}()
}

// HandleAction routes a button click to the approval it answers.
func (b *Bridge) HandleAction(ctx context.Context, a messenger.Action) error {
	if err := b.router.HandleAction(ctx, a); err != nil {
		return fmt.Errorf("bridge.Bridge.HandleAction: %w", err)
	}
	return nil
}

// Status is the externally visible state of one conversation.
type Status struct {
	Conversation string               `json:"conversation"`
	Busy         bool                 `json:"busy"`
	Running      bool                 `json:"running"`
	Watching     bool                 `json:"watching"`
	AbortPending bool                 `json:"abort_pending"`
	Approvals    conversation.Counts  `json:"approvals"`
	SessionID    string               `json:"session_id,omitempty"`
	WorkingDir   string               `json:"working_dir"`
	Mode         string               `json:"mode"`
	Model        string               `json:"model,omitempty"`
	LogOffset    int64                `json:"log_offset"`
}

// Status reports the state of key.
func (b *Bridge) Status(ctx context.Context, key conversation.Key) (Status, error) {
	sess, err := b.session(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("bridge.Bridge.Status: %w", err)
	}

	return Status{
		Conversation: key.String(),
		Busy:         b.gate.IsBusy(key),
		Running:      b.stream(key) != nil,
		Watching:     b.watches.IsWatching(key),
		AbortPending: b.aborts.IsSet(key),
		Approvals:    b.approvals.Counts(key),
		SessionID:    sess.SessionID,
		WorkingDir:   sess.WorkingDir,
		Mode:         sess.Mode,
		Model:        sess.Model,
		LogOffset:    sess.LogOffset,
	}, nil
}

// Abort stops whatever runs in key: the live query is interrupted and its
// approvals aborted, a sync is flagged to stop before its next turn. It
// reports what was stopped, or "" if nothing was running.
func (b *Bridge) Abort(ctx context.Context, key conversation.Key) string {
	if s := b.stream(key); s != nil {
		n := b.approvals.AbortConversation(key)
		if err := s.Interrupt(ctx); err != nil {
			log.Error().Err(err).Str("conversation", key.String()).Msg("interrupt agent")
		}
		log.Info().Str("conversation", key.String()).Int("approvals", n).Msg("query aborted")
		return "query"
	}
	if b.gate.IsBusy(key) {
		b.aborts.Mark(key)
		return "sync"
	}
	return ""
}

// MarkSyncAbort flags a running sync in key to stop before its next turn.
func (b *Bridge) MarkSyncAbort(key conversation.Key) bool {
	b.aborts.Mark(key)
	return b.gate.IsBusy(key)
}

func (b *Bridge) stream(key conversation.Key) *agent.Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running[key]
}

func (b *Bridge) setStream(key conversation.Key, s *agent.Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil {
		delete(b.running, key)
		return
	}
	b.running[key] = s
}

// session loads the stored state of key, or the defaults for a new one.
func (b *Bridge) session(ctx context.Context, key conversation.Key) (*domain.ConversationSession, error) {
	sess, err := b.store.Conversations().Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ConversationSession{
			Key:        key,
			WorkingDir: b.cfg.DefaultWorkingDir,
			Mode:       b.cfg.Mode,
			Model:      b.cfg.Model,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (b *Bridge) reply(ctx context.Context, key conversation.Key, text string) messenger.MessageID {
	id, err := b.messenger.Post(ctx, key.ChannelID, key.ThreadTS, text)
	if err != nil {
		log.Error().Err(err).Str("conversation", key.String()).Msg("post reply")
	}
	return id
}

func (b *Bridge) update(ctx context.Context, key conversation.Key, id messenger.MessageID, text string) {
	if id == "" {
		return
	}
	if err := b.messenger.Update(ctx, key.ChannelID, id, text); err != nil {
		log.Warn().Err(err).Str("conversation", key.String()).Msg("update message")
	}
}

func (b *Bridge) publish(ctx context.Context, key conversation.Key, sessionID string, state activity.State, text string, entries int) {
	if b.publisher == nil {
		return
	}
	snap := activity.Snapshot{
		Conversation: key.String(),
		SessionID:    sessionID,
		State:        state,
		Text:         text,
		Entries:      entries,
		UpdatedAt:    time.Now(),
	}
	if err := b.publisher.PublishActivity(ctx, key, snap); err != nil {
		log.Debug().Err(err).Str("conversation", key.String()).Msg("publish activity")
	}
}

func (b *Bridge) renderOptions() activity.RenderOptions {
	return activity.RenderOptions{Window: b.cfg.Window, ThinkingLimit: b.cfg.ThinkingLimit}
}
