// Package memory is the in-process store used when no database is
// configured. State is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
)

type Store struct {
	conversations *ConversationRepo
	synced        *SyncedRepo
}

var _ domain.Store = (*Store)(nil) //nolint:gochecknoglobals // compile-time check

func New() *Store {
	return &Store{
		conversations: &ConversationRepo{sessions: make(map[conversation.Key]domain.ConversationSession)},
		synced:        &SyncedRepo{sets: make(map[syncKey]map[string]struct{})},
	}
}

func (s *Store) Conversations() domain.ConversationRepository { return s.conversations }
func (s *Store) Synced() domain.SyncedMessageRepository       { return s.synced }

type ConversationRepo struct {
	mu       sync.RWMutex
	sessions map[conversation.Key]domain.ConversationSession
}

func (r *ConversationRepo) Get(_ context.Context, key conversation.Key) (*domain.ConversationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[key]
	if !ok {
		return nil, fmt.Errorf("memory.ConversationRepo.Get(%s): %w", key, domain.ErrNotFound)
	}
	return &s, nil
}

func (r *ConversationRepo) Upsert(_ context.Context, s *domain.ConversationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.UpdatedAt = time.Now()
	r.sessions[s.Key] = *s
	return nil
}

func (r *ConversationRepo) UpdateOffset(_ context.Context, key conversation.Key, offset int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return fmt.Errorf("memory.ConversationRepo.UpdateOffset(%s): %w", key, domain.ErrNotFound)
	}
	s.LogOffset = offset
	s.UpdatedAt = time.Now()
	r.sessions[key] = s
	return nil
}

func (r *ConversationRepo) Delete(_ context.Context, key conversation.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
	return nil
}

func (r *ConversationRepo) List(_ context.Context) ([]*domain.ConversationSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ConversationSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

type syncKey struct {
	key       conversation.Key
	sessionID string
}

type SyncedRepo struct {
	mu   sync.RWMutex
	sets map[syncKey]map[string]struct{}
}

func (r *SyncedRepo) MarkSynced(_ context.Context, key conversation.Key, sessionID string, uuids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := syncKey{key: key, sessionID: sessionID}
	set, ok := r.sets[k]
	if !ok {
		set = make(map[string]struct{}, len(uuids))
		r.sets[k] = set
	}
	for _, id := range uuids {
		set[id] = struct{}{}
	}
	return nil
}

func (r *SyncedRepo) SyncedSet(_ context.Context, key conversation.Key, sessionID string) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.sets[syncKey{key: key, sessionID: sessionID}]
	out := make(map[string]struct{}, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out, nil
}
