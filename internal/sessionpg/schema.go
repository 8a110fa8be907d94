package sessionpg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS session_entries (
    session_id TEXT NOT NULL,
    entry_key TEXT NOT NULL,
    entry_value TEXT NOT NULL,
    touched_at_unix BIGINT NOT NULL,
    PRIMARY KEY (session_id, entry_key)
);
CREATE INDEX IF NOT EXISTS idx_session_entries_touched ON session_entries (touched_at_unix);
`)
	return err
}
