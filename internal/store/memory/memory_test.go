package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
	"github.com/gosuda/tether/internal/store/memory"
)

func TestConversationRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New().Conversations()
	key := conversation.NewKey("C1", "171.0")

	_, err := repo.Get(ctx, key)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, repo.UpdateOffset(ctx, key, 10), domain.ErrNotFound)

	s := &domain.ConversationSession{Key: key, SessionID: "s1", WorkingDir: "/tmp/p", Mode: "default"}
	require.NoError(t, repo.Upsert(ctx, s))
	assert.False(t, s.UpdatedAt.IsZero())

	require.NoError(t, repo.UpdateOffset(ctx, key, 42))

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, int64(42), got.LogOffset)

	// Mutating the returned copy must not leak back into the store.
	got.SessionID = "other"
	again, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "s1", again.SessionID)

	require.NoError(t, repo.Upsert(ctx, &domain.ConversationSession{Key: conversation.NewKey("A0", ""), WorkingDir: "/"}))
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A0", list[0].Key.ChannelID)

	require.NoError(t, repo.Delete(ctx, key))
	_, err = repo.Get(ctx, key)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncedRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New().Synced()
	key := conversation.NewKey("C1", "")

	require.NoError(t, repo.MarkSynced(ctx, key, "s1", []string{"u1", "u2"}))
	require.NoError(t, repo.MarkSynced(ctx, key, "s1", []string{"u2", "u3"}))
	require.NoError(t, repo.MarkSynced(ctx, key, "s2", []string{"x"}))

	set, err := repo.SyncedSet(ctx, key, "s1")
	require.NoError(t, err)
	assert.Len(t, set, 3)
	assert.Contains(t, set, "u3")
	assert.NotContains(t, set, "x")

	empty, err := repo.SyncedSet(ctx, conversation.NewKey("C2", ""), "s1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
