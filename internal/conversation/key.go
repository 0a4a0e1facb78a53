// Package conversation holds the per-conversation concurrency state shared by
// every chat entry point: the busy gate, background watches, pending
// approvals and sync cancellation flags. All state is in-process.
package conversation

import "strings"

// Key identifies a conversation: a channel, optionally narrowed to a thread.
type Key struct {
	ChannelID string
	ThreadTS  string
}

func NewKey(channelID, threadTS string) Key {
	return Key{ChannelID: channelID, ThreadTS: threadTS}
}

// String returns "channel" or "channel:thread".
func (k Key) String() string {
	if k.ThreadTS == "" {
		return k.ChannelID
	}
	return k.ChannelID + ":" + k.ThreadTS
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) Key {
	channel, thread, _ := strings.Cut(s, ":")
	return Key{ChannelID: channel, ThreadTS: thread}
}
