package ws

import (
	"time"

	"github.com/gosuda/tether/internal/activity"
)

// Event types sent to observers.
const (
	EventSnapshot = "snapshot"
)

// ActivityEvent is one real-time update of a conversation's activity.
type ActivityEvent struct {
	Type         string            `json:"type"`
	Conversation string            `json:"conversation"`
	Data         activity.Snapshot `json:"data"`
	Timestamp    time.Time         `json:"timestamp"`
}
