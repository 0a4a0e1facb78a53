package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/activity"
	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/conversation"
)

var (
	// ErrUnknownAction is returned for a button the router does not own.
	ErrUnknownAction = errors.New("messenger: unknown action") //nolint:gochecknoglobals // sentinel error
	// ErrNotPending is returned when a click arrives for an approval that was
	// already answered, aborted or withdrawn.
	ErrNotPending = errors.New("messenger: approval no longer pending") //nolint:gochecknoglobals // sentinel error
)

// Action ids carried by approval buttons.
const (
	ActionToolAllow        = "tether_tool_allow"
	ActionToolDeny         = "tether_tool_deny"
	ActionPlanApprove      = "tether_plan_approve"
	ActionPlanApproveEdits = "tether_plan_approve_edits"
	ActionPlanReject       = "tether_plan_reject"
	ActionQuestionAnswer   = "tether_question_answer"
)

const (
	inputPreviewLimit = 1500
	planPreviewLimit  = 2500
	cleanupTimeout    = 10 * time.Second
)

// Router posts approval prompts to a chat and routes the human answers back
// into the approval registries. It bridges the agent loop and the
// human-paced chat.
type Router struct {
	messenger Messenger
	approvals *conversation.Approvals
	timeout   time.Duration

	mu       sync.Mutex
	outcomes map[string]string
}

// RouterOption configures optional Router parameters.
type RouterOption func(*Router)

// WithTimeout bounds how long a prompt waits for an answer. Zero waits until
// the caller's context ends.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		r.timeout = d
	}
}

// NewRouter creates a Router and installs its prompt cleanup on approvals.
func NewRouter(msg Messenger, approvals *conversation.Approvals, opts ...RouterOption) *Router {
	r := &Router{
		messenger: msg,
		approvals: approvals,
		outcomes:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	approvals.OnResolved(r.cleanup)
	return r
}

// AskTool asks whether the agent may run toolName with input. id is the
// control request id and doubles as the approval id.
func (r *Router) AskTool(ctx context.Context, key conversation.Key, id, toolName string, input json.RawMessage) (conversation.ToolDecision, error) {
	text := fmt.Sprintf(":lock: Allow `%s`?\n```%s```", toolName, activity.Preview(string(input), inputPreviewLimit))
	buttons := []Button{
		{ActionID: ActionToolAllow, Label: "Allow", Value: id, Style: ButtonPrimary},
		{ActionID: ActionToolDeny, Label: "Deny", Value: id, Style: ButtonDanger},
	}

	d, err := ask(ctx, r, r.approvals.Tools, key, id, text, buttons)
	if err != nil {
		return conversation.ToolDecision{}, fmt.Errorf("messenger.Router.AskTool: %w", err)
	}
	return d, nil
}

// AskPlan presents a finished plan for approval.
func (r *Router) AskPlan(ctx context.Context, key conversation.Key, id, plan string) (conversation.PlanDecision, error) {
	text := ":clipboard: *Plan ready for review*\n" + activity.Format(plan, planPreviewLimit, activity.Head, false)
	buttons := []Button{
		{ActionID: ActionPlanApprove, Label: "Approve", Value: id, Style: ButtonPrimary},
		{ActionID: ActionPlanApproveEdits, Label: "Approve, accept edits", Value: id},
		{ActionID: ActionPlanReject, Label: "Keep planning", Value: id, Style: ButtonDanger},
	}

	d, err := ask(ctx, r, r.approvals.Plans, key, id, text, buttons)
	if err != nil {
		return conversation.PlanDecision{}, fmt.Errorf("messenger.Router.AskPlan: %w", err)
	}
	return d, nil
}

// AskQuestion asks a free-form question. Options become buttons; a thread
// reply answers it too (see AnswerInThread).
func (r *Router) AskQuestion(ctx context.Context, key conversation.Key, id, question string, options []string) (string, error) {
	buttons := make([]Button, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, Button{ActionID: ActionQuestionAnswer, Label: opt, Value: id + "|" + opt})
	}

	answer, err := ask(ctx, r, r.approvals.Questions, key, id, ":question: "+question, buttons)
	if err != nil {
		return "", fmt.Errorf("messenger.Router.AskQuestion: %w", err)
	}
	return answer, nil
}

func ask[T any](ctx context.Context, r *Router, reg *conversation.Registry[T], key conversation.Key, id, text string, buttons []Button) (T, error) {
	var zero T

	msgID, err := r.messenger.Post(ctx, key.ChannelID, key.ThreadTS, text, buttons...)
	if err != nil {
		return zero, fmt.Errorf("post prompt: %w", err)
	}

	pc := conversation.Context{ChannelID: key.ChannelID, ThreadTS: key.ThreadTS, MessageTS: string(msgID)}
	p, err := reg.Register(id, pc)
	if err != nil {
		return zero, fmt.Errorf("register: %w", err)
	}

	waitCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	v, err := p.Wait(waitCtx)
	if err != nil && !errors.Is(err, conversation.ErrApprovalAborted) {
		// Withdrawn without resolution, so no cleanup ran.
		r.expire(pc)
	}
	return v, err
}

// HandleAction resolves the approval a button click belongs to.
func (r *Router) HandleAction(_ context.Context, a Action) error {
	var resolved bool

	switch a.ActionID {
	case ActionToolAllow:
		resolved = r.resolve(a.Value, "Allowed", a.UserID, func() bool {
			return r.approvals.Tools.Resolve(a.Value, conversation.ToolDecision{Allow: true})
		})
	case ActionToolDeny:
		resolved = r.resolve(a.Value, "Denied", a.UserID, func() bool {
			return r.approvals.Tools.Resolve(a.Value, conversation.ToolDecision{Message: "The user denied this tool call."})
		})
	case ActionPlanApprove, ActionPlanApproveEdits:
		mode := agent.ModeDefault
		if a.ActionID == ActionPlanApproveEdits {
			mode = agent.ModeAcceptEdits
		}
		resolved = r.resolve(a.Value, "Plan approved", a.UserID, func() bool {
			return r.approvals.Plans.Resolve(a.Value, conversation.PlanDecision{Approve: true, Mode: mode})
		})
	case ActionPlanReject:
		resolved = r.resolve(a.Value, "Plan rejected", a.UserID, func() bool {
			return r.approvals.Plans.Resolve(a.Value, conversation.PlanDecision{Feedback: "The user wants to keep planning."})
		})
	case ActionQuestionAnswer:
		id, answer, _ := strings.Cut(a.Value, "|")
		resolved = r.resolve(id, "Answered: "+answer, a.UserID, func() bool {
			return r.approvals.Questions.Resolve(id, answer)
		})
	default:
		return fmt.Errorf("messenger.Router.HandleAction(%s): %w", a.ActionID, ErrUnknownAction)
	}

	if !resolved {
		return fmt.Errorf("messenger.Router.HandleAction(%s): %w", a.ActionID, ErrNotPending)
	}
	return nil
}

// AnswerInThread resolves the oldest open question in key with text. It
// reports false when no question is waiting.
func (r *Router) AnswerInThread(key conversation.Key, userID, text string) bool {
	p, ok := r.approvals.Questions.Oldest(key)
	if !ok {
		return false
	}
	return r.resolve(p.ID, "Answered: "+text, userID, func() bool {
		return r.approvals.Questions.Resolve(p.ID, text)
	})
}

func (r *Router) resolve(id, label, userID string, fn func() bool) bool {
	outcome := label
	if userID != "" {
		outcome += " by <@" + userID + ">"
	}

	r.mu.Lock()
	if _, inFlight := r.outcomes[id]; inFlight {
		r.mu.Unlock()
		return false
	}
	r.outcomes[id] = outcome
	r.mu.Unlock()

	ok := fn()
	if !ok {
		r.mu.Lock()
		delete(r.outcomes, id)
		r.mu.Unlock()
	}
	return ok
}

// cleanup replaces a resolved prompt with its outcome, removing the buttons.
func (r *Router) cleanup(id string, c conversation.Context) {
	r.mu.Lock()
	outcome, ok := r.outcomes[id]
	delete(r.outcomes, id)
	r.mu.Unlock()

	if !ok {
		outcome = "Cancelled"
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := r.messenger.Update(ctx, c.ChannelID, MessageID(c.MessageTS), ":ballot_box_with_check: "+outcome)
	if err != nil {
		log.Error().Err(err).Str("approval_id", id).Str("conversation", c.Key().String()).Msg("update resolved prompt")
	}
}

// expire marks a prompt that stopped waiting without an answer.
func (r *Router) expire(c conversation.Context) {
	log.Warn().Str("conversation", c.Key().String()).Str("message_ts", c.MessageTS).Msg("approval prompt expired")
	if c.MessageTS == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := r.messenger.Update(ctx, c.ChannelID, MessageID(c.MessageTS), ":hourglass: Prompt expired")
	if err != nil {
		log.Error().Err(err).Str("conversation", c.Key().String()).Msg("update expired prompt")
	}
}
