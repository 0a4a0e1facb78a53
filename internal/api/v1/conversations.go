package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/tether/internal/bridge"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
)

type ConversationView struct {
	Channel    string    `json:"channel"`
	Thread     string    `json:"thread,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	WorkingDir string    `json:"working_dir"`
	Mode       string    `json:"mode"`
	Model      string    `json:"model,omitempty"`
	LogOffset  int64     `json:"log_offset"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func newConversationView(s *domain.ConversationSession) ConversationView {
	return ConversationView{
		Channel:    s.Key.ChannelID,
		Thread:     s.Key.ThreadTS,
		SessionID:  s.SessionID,
		WorkingDir: s.WorkingDir,
		Mode:       s.Mode,
		Model:      s.Model,
		LogOffset:  s.LogOffset,
		UpdatedAt:  s.UpdatedAt,
	}
}

type ListConversationsOutput struct {
	Body []ConversationView
}

// ConversationInput addresses one conversation: a channel, optionally
// narrowed to a thread.
type ConversationInput struct {
	Channel string `path:"channel" minLength:"1" doc:"Chat channel ID"`
	Thread  string `query:"thread" doc:"Thread timestamp; empty for the channel itself"`
}

func (in *ConversationInput) key() conversation.Key {
	return conversation.NewKey(in.Channel, in.Thread)
}

type GetStatusOutput struct {
	Body bridge.Status
}

type AbortOutput struct {
	Body struct {
		Stopped string `json:"stopped" doc:"What was stopped; empty when nothing was running"`
	}
}

type AbortSyncOutput struct {
	Body struct {
		Busy bool `json:"busy" doc:"Whether a sync or query was running when the flag was set"`
	}
}

func RegisterConversationRoutes(api huma.API, store DataStore, ctrl Controller) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/conversations",
		Summary:     "List conversations bound to agent sessions",
		Tags:        []string{"Conversations"},
	}, func(ctx context.Context, _ *struct{}) (*ListConversationsOutput, error) {
		sessions, err := store.Conversations().List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list conversations", err)
		}

		out := &ListConversationsOutput{Body: make([]ConversationView, 0, len(sessions))}
		for _, s := range sessions {
			out.Body = append(out.Body, newConversationView(s))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conversation-status",
		Method:      http.MethodGet,
		Path:        "/conversations/{channel}/status",
		Summary:     "Get the live state of a conversation",
		Tags:        []string{"Conversations"},
	}, func(ctx context.Context, input *ConversationInput) (*GetStatusOutput, error) {
		st, err := ctrl.Status(ctx, input.key())
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get conversation status", err)
		}
		return &GetStatusOutput{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-conversation",
		Method:      http.MethodPost,
		Path:        "/conversations/{channel}/abort",
		Summary:     "Stop the running query or sync of a conversation",
		Tags:        []string{"Conversations"},
	}, func(ctx context.Context, input *ConversationInput) (*AbortOutput, error) {
		out := &AbortOutput{}
		out.Body.Stopped = ctrl.Abort(ctx, input.key())
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-conversation-sync",
		Method:      http.MethodPost,
		Path:        "/conversations/{channel}/abort-sync",
		Summary:     "Flag a conversation's sync to stop before its next turn",
		Tags:        []string{"Conversations"},
	}, func(_ context.Context, input *ConversationInput) (*AbortSyncOutput, error) {
		out := &AbortSyncOutput{}
		out.Body.Busy = ctrl.MarkSyncAbort(input.key())
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-conversation",
		Method:        http.MethodDelete,
		Path:          "/conversations/{channel}",
		Summary:       "Forget a conversation's session binding",
		Tags:          []string{"Conversations"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *ConversationInput) (*struct{}, error) {
		key := input.key()

		st, err := ctrl.Status(ctx, key)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get conversation status", err)
		}
		if st.Busy || st.Watching {
			return nil, huma.Error409Conflict("conversation is busy")
		}

		if _, err = store.Conversations().Get(ctx, key); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("conversation not found")
			}
			return nil, huma.Error500InternalServerError("failed to get conversation", err)
		}
		if err = store.Conversations().Delete(ctx, key); err != nil {
			return nil, huma.Error500InternalServerError("failed to delete conversation", err)
		}
		return nil, nil
	})
}
