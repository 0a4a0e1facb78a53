package v1

import (
	"context"

	"github.com/gosuda/tether/internal/bridge"
	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store and *memory.Store satisfy this interface.
type DataStore interface {
	Conversations() domain.ConversationRepository
}

// Controller abstracts the live conversation state for handler testing.
// *bridge.Bridge satisfies this interface.
type Controller interface {
	Status(ctx context.Context, key conversation.Key) (bridge.Status, error)
	Abort(ctx context.Context, key conversation.Key) string
	MarkSyncAbort(key conversation.Key) bool
}

var _ Controller = (*bridge.Bridge)(nil) //nolint:gochecknoglobals // compile-time check
