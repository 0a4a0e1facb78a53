package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrApprovalExists is returned when registering an id that is still pending.
	ErrApprovalExists = errors.New("conversation: approval already pending") //nolint:gochecknoglobals // sentinel error
	// ErrApprovalAborted completes an approval that the user cancelled
	// instead of answering.
	ErrApprovalAborted = errors.New("conversation: approval aborted") //nolint:gochecknoglobals // sentinel error
)

// Context addresses the chat message that asked for an approval.
type Context struct {
	ChannelID string
	ThreadTS  string
	// MessageTS identifies the prompt message. It is optional; without it no
	// UI cleanup runs after resolution.
	MessageTS string
}

func (c Context) Key() Key {
	return Key{ChannelID: c.ChannelID, ThreadTS: c.ThreadTS}
}

// CleanupFunc runs after an approval resolves, for UI housekeeping such as
// removing a pending indicator.
type CleanupFunc func(id string, c Context)

// Pending is a single-shot future for one approval.
type Pending[T any] struct {
	ID        string
	Context   Context
	CreatedAt time.Time

	registry *Registry[T]
	done     chan struct{}
	once     sync.Once
	value    T
	err      error
}

func (p *Pending[T]) complete(v T, err error) bool {
	completed := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		close(p.done)
		completed = true
	})
	return completed
}

// Done is closed once the approval is resolved or aborted.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the approval resolves. An aborted approval returns
// ErrApprovalAborted. If ctx ends first the approval is withdrawn from its
// registry.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		p.registry.withdraw(p)
		var zero T
		return zero, fmt.Errorf("conversation.Pending.Wait(%s): %w", p.ID, ctx.Err())
	}
}

// Registry maps approval ids to pending futures of one kind.
type Registry[T any] struct {
	name    string
	mu      sync.Mutex
	pending map[string]*Pending[T]
	cleanup CleanupFunc
}

func NewRegistry[T any](name string) *Registry[T] {
	return &Registry[T]{
		name:    name,
		pending: make(map[string]*Pending[T]),
	}
}

// OnResolved sets the cleanup hook.
func (r *Registry[T]) OnResolved(fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanup = fn
}

// Register creates the pending future for id. A live entry is never
// replaced.
func (r *Registry[T]) Register(id string, c Context) (*Pending[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; ok {
		return nil, fmt.Errorf("conversation.Registry(%s).Register(%s): %w", r.name, id, ErrApprovalExists)
	}

	p := &Pending[T]{
		ID:        id,
		Context:   c,
		CreatedAt: time.Now(),
		registry:  r,
		done:      make(chan struct{}),
	}
	r.pending[id] = p
	return p, nil
}

// Resolve answers the approval. An unknown id is logged and ignored, since
// a duplicate click or an expired wait can race with it.
func (r *Registry[T]) Resolve(id string, v T) bool {
	return r.finish(id, v, nil)
}

// Abort completes the approval with ErrApprovalAborted.
func (r *Registry[T]) Abort(id string) bool {
	var zero T
	return r.finish(id, zero, ErrApprovalAborted)
}

// AbortConversation aborts every approval raised in key and returns how
// many there were.
func (r *Registry[T]) AbortConversation(key Key) int {
	r.mu.Lock()
	var ids []string
	for id, p := range r.pending {
		if p.Context.Key() == key {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, id := range ids {
		if r.Abort(id) {
			n++
		}
	}
	return n
}

func (r *Registry[T]) finish(id string, v T, err error) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	cleanup := r.cleanup
	r.mu.Unlock()

	if !ok {
		log.Debug().Str("registry", r.name).Str("approval_id", id).Msg("conversation.Registry: approval not pending")
		return false
	}

	p.complete(v, err)

	if cleanup != nil && p.Context.MessageTS != "" {
		cleanup(id, p.Context)
	}
	return true
}

func (r *Registry[T]) withdraw(p *Pending[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.pending[p.ID]; ok && cur == p {
		delete(r.pending, p.ID)
	}
}

func (r *Registry[T]) Get(id string) (*Pending[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	return p, ok
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Count returns the number of approvals pending in key.
func (r *Registry[T]) Count(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.pending {
		if p.Context.Key() == key {
			n++
		}
	}
	return n
}

// Oldest returns the earliest approval still pending in key.
func (r *Registry[T]) Oldest(key Key) (*Pending[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *Pending[T]
	for _, p := range r.pending {
		if p.Context.Key() != key {
			continue
		}
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}
	return oldest, oldest != nil
}
