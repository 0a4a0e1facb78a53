// Package messengertest provides an in-memory Messenger for tests.
package messengertest

import (
	"context"
	"strconv"
	"sync"

	"github.com/gosuda/tether/internal/messenger"
)

type Post struct {
	ID        messenger.MessageID
	ChannelID string
	ThreadTS  string
	Text      string
	Buttons   []messenger.Button
}

type Update struct {
	ChannelID string
	ID        messenger.MessageID
	Text      string
}

type Reaction struct {
	ChannelID string
	ID        messenger.MessageID
	Name      string
	Added     bool
}

type Upload struct {
	ChannelID string
	ThreadTS  string
	Filename  string
	Content   string
}

// Fake records every call. Message ids are sequential decimal strings.
type Fake struct {
	mu        sync.Mutex
	seq       int
	posts     []Post
	updates   []Update
	reactions []Reaction
	uploads   []Upload

	// PostErr, when set, fails every Post.
	PostErr error
}

var _ messenger.Messenger = (*Fake)(nil) //nolint:gochecknoglobals // compile-time check

func New() *Fake { return &Fake{} }

func (f *Fake) Post(_ context.Context, channelID, threadTS, text string, buttons ...messenger.Button) (messenger.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PostErr != nil {
		return "", f.PostErr
	}
	f.seq++
	id := messenger.MessageID(strconv.Itoa(f.seq))
	f.posts = append(f.posts, Post{ID: id, ChannelID: channelID, ThreadTS: threadTS, Text: text, Buttons: buttons})
	return id, nil
}

func (f *Fake) Update(_ context.Context, channelID string, id messenger.MessageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, Update{ChannelID: channelID, ID: id, Text: text})
	return nil
}

func (f *Fake) AddReaction(_ context.Context, channelID string, id messenger.MessageID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, Reaction{ChannelID: channelID, ID: id, Name: name, Added: true})
	return nil
}

func (f *Fake) RemoveReaction(_ context.Context, channelID string, id messenger.MessageID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, Reaction{ChannelID: channelID, ID: id, Name: name})
	return nil
}

func (f *Fake) Upload(_ context.Context, channelID, threadTS, filename, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, Upload{ChannelID: channelID, ThreadTS: threadTS, Filename: filename, Content: content})
	return nil
}

func (f *Fake) Platform() string { return "fake" }

func (f *Fake) Posts() []Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Post(nil), f.posts...)
}

func (f *Fake) Updates() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Update(nil), f.updates...)
}

func (f *Fake) Reactions() []Reaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reaction(nil), f.reactions...)
}

func (f *Fake) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// LastText returns the newest text of message id, following updates.
func (f *Fake) LastText(id messenger.MessageID) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.updates) - 1; i >= 0; i-- {
		if f.updates[i].ID == id {
			return f.updates[i].Text
		}
	}
	for _, p := range f.posts {
		if p.ID == id {
			return p.Text
		}
	}
	return ""
}

// FindPost returns the first post whose buttons include actionID.
func (f *Fake) FindPost(actionID string) (Post, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.posts {
		for _, b := range p.Buttons {
			if b.ActionID == actionID {
				return p, true
			}
		}
	}
	return Post{}, false
}
