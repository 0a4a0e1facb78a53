package domain

import (
	"context"
	"time"

	"github.com/gosuda/tether/internal/conversation"
)

// ConversationSession binds a chat conversation to a Claude session and
// remembers how far its session log has been read.
type ConversationSession struct {
	Key        conversation.Key
	SessionID  string
	WorkingDir string
	// LogOffset is the byte offset up to which the session log was consumed.
	LogOffset int64
	Mode      string
	Model     string
	UpdatedAt time.Time
}

// ResetSession detaches the conversation from its Claude session, keeping
// working dir, mode and model.
func (s *ConversationSession) ResetSession() {
	s.SessionID = ""
	s.LogOffset = 0
}

// ConversationRepository persists conversation sessions.
type ConversationRepository interface {
	// Get returns ErrNotFound for an unknown key.
	Get(ctx context.Context, key conversation.Key) (*ConversationSession, error)
	Upsert(ctx context.Context, s *ConversationSession) error
	UpdateOffset(ctx context.Context, key conversation.Key, offset int64) error
	Delete(ctx context.Context, key conversation.Key) error
	List(ctx context.Context) ([]*ConversationSession, error)
}

// SyncedMessageRepository remembers which session log records have been
// posted into a conversation, so replays never post a turn twice.
type SyncedMessageRepository interface {
	MarkSynced(ctx context.Context, key conversation.Key, sessionID string, uuids []string) error
	SyncedSet(ctx context.Context, key conversation.Key, sessionID string) (map[string]struct{}, error)
}

// Store groups the repositories a deployment provides.
type Store interface {
	Conversations() ConversationRepository
	Synced() SyncedMessageRepository
}
