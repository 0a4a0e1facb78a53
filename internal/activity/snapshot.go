package activity

import "time"

// State is the lifecycle stage a snapshot was taken in.
type State string

const (
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateAborted  State = "aborted"
	StateSyncing  State = "syncing"
	StateWatching State = "watching"
)

// Snapshot is a rendered live view published to observers outside the chat.
type Snapshot struct {
	Conversation string    `json:"conversation"`
	SessionID    string    `json:"session_id,omitempty"`
	State        State     `json:"state"`
	Text         string    `json:"text"`
	Entries      int       `json:"entries"`
	UpdatedAt    time.Time `json:"updated_at"`
}
