package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/tether/internal/conversation"
	"github.com/gosuda/tether/internal/domain"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Get(ctx context.Context, key conversation.Key) (*domain.ConversationSession, error) {
	s := domain.ConversationSession{Key: key}

	err := r.pool.QueryRow(ctx,
		`SELECT session_id, working_dir, log_offset, mode, model, updated_at
		 FROM conversation_sessions WHERE channel_id = $1 AND thread_ts = $2`,
		key.ChannelID, key.ThreadTS,
	).Scan(&s.SessionID, &s.WorkingDir, &s.LogOffset, &s.Mode, &s.Model, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversationRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.Get: %w", err)
	}

	return &s, nil
}

func (r *ConversationRepo) Upsert(ctx context.Context, s *domain.ConversationSession) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversation_sessions (channel_id, thread_ts, session_id, working_dir, log_offset, mode, model, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (channel_id, thread_ts) DO UPDATE SET
		   session_id = EXCLUDED.session_id,
		   working_dir = EXCLUDED.working_dir,
		   log_offset = EXCLUDED.log_offset,
		   mode = EXCLUDED.mode,
		   model = EXCLUDED.model,
		   updated_at = now()
		 RETURNING updated_at`,
		s.Key.ChannelID, s.Key.ThreadTS, s.SessionID, s.WorkingDir, s.LogOffset, s.Mode, s.Model,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("conversationRepo.Upsert: %w", err)
	}

	return nil
}

func (r *ConversationRepo) UpdateOffset(ctx context.Context, key conversation.Key, offset int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_sessions SET log_offset = $3, updated_at = now()
		 WHERE channel_id = $1 AND thread_ts = $2`,
		key.ChannelID, key.ThreadTS, offset,
	)
	if err != nil {
		return fmt.Errorf("conversationRepo.UpdateOffset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversationRepo.UpdateOffset: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, key conversation.Key) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_sessions WHERE channel_id = $1 AND thread_ts = $2`,
		key.ChannelID, key.ThreadTS,
	)
	if err != nil {
		return fmt.Errorf("conversationRepo.Delete: %w", err)
	}

	return nil
}

func (r *ConversationRepo) List(ctx context.Context) ([]*domain.ConversationSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT channel_id, thread_ts, session_id, working_dir, log_offset, mode, model, updated_at
		 FROM conversation_sessions ORDER BY channel_id, thread_ts`,
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.List: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.ConversationSession
	for rows.Next() {
		var s domain.ConversationSession

		err = rows.Scan(&s.Key.ChannelID, &s.Key.ThreadTS, &s.SessionID, &s.WorkingDir, &s.LogOffset, &s.Mode, &s.Model, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("conversationRepo.List: scan: %w", err)
		}
		sessions = append(sessions, &s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conversationRepo.List: rows: %w", err)
	}

	return sessions, nil
}
