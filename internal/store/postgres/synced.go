package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/tether/internal/conversation"
)

type SyncedRepo struct {
	pool *pgxpool.Pool
}

func NewSyncedRepo(pool *pgxpool.Pool) *SyncedRepo {
	return &SyncedRepo{pool: pool}
}

func (r *SyncedRepo) MarkSynced(ctx context.Context, key conversation.Key, sessionID string, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, id := range uuids {
		batch.Queue(
			`INSERT INTO synced_messages (channel_id, thread_ts, session_id, uuid)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			key.ChannelID, key.ThreadTS, sessionID, id,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("syncedRepo.MarkSynced: %w", err)
	}

	return nil
}

func (r *SyncedRepo) SyncedSet(ctx context.Context, key conversation.Key, sessionID string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT uuid FROM synced_messages
		 WHERE channel_id = $1 AND thread_ts = $2 AND session_id = $3`,
		key.ChannelID, key.ThreadTS, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("syncedRepo.SyncedSet: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("syncedRepo.SyncedSet: scan: %w", err)
		}
		set[id] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncedRepo.SyncedSet: rows: %w", err)
	}

	return set, nil
}
