package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
  channel_id  TEXT NOT NULL,
  thread_ts   TEXT NOT NULL DEFAULT '',
  session_id  TEXT NOT NULL DEFAULT '',
  working_dir TEXT NOT NULL,
  log_offset  BIGINT NOT NULL DEFAULT 0,
  mode        TEXT NOT NULL DEFAULT 'default',
  model       TEXT NOT NULL DEFAULT '',
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (channel_id, thread_ts)
);

-- Session log records already posted into a conversation
CREATE TABLE IF NOT EXISTS synced_messages (
  channel_id  TEXT NOT NULL,
  thread_ts   TEXT NOT NULL DEFAULT '',
  session_id  TEXT NOT NULL,
  uuid        TEXT NOT NULL,
  synced_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (channel_id, thread_ts, session_id, uuid)
);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres.EnsureSchema: %w", err)
	}
	return nil
}
