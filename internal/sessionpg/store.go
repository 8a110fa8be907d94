package sessionpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/cmsadmin/internal/session"
)

// Store persists session entries in PostgreSQL through a raw pgx pool. It is
// the deployment alternative to the gorm-backed store for installations that
// already run their own pool configuration.
type Store struct {
	pool    *pgxpool.Pool
	idleTTL time.Duration
	clock   session.Clock
}

// NewStore constructs a Postgres session store on an existing pool.
func NewStore(pool *pgxpool.Pool, idleTTL time.Duration) *Store {
	return &Store{
		pool:    pool,
		idleTTL: idleTTL,
		clock:   session.NewSystemClock(),
	}
}

// WithClock overrides the time source.
func (store *Store) WithClock(clock session.Clock) *Store {
	store.clock = clock
	return store
}

// Get returns the entry value, evicting the whole session first when it has
// been idle past the configured TTL.
func (store *Store) Get(ctx context.Context, sessionID string, entryKey string) (string, error) {
	if sessionID == "" {
		return "", session.ErrEmptySessionID
	}
	if entryKey == "" {
		return "", session.ErrEmptyEntryKey
	}

	var entryValue string
	var touchedAtUnix int64
	row := store.pool.QueryRow(ctx, `
SELECT entry_value, touched_at_unix
FROM session_entries
WHERE session_id = $1 AND entry_key = $2
`, sessionID, entryKey)
	if scanErr := row.Scan(&entryValue, &touchedAtUnix); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", session.ErrEntryNotFound
		}
		return "", fmt.Errorf("session_store.query: %w", scanErr)
	}

	now := store.clock.Now()
	if store.idleTTL > 0 && now.Sub(time.Unix(touchedAtUnix, 0)) > store.idleTTL {
		if _, execErr := store.pool.Exec(ctx, `DELETE FROM session_entries WHERE session_id = $1`, sessionID); execErr != nil {
			return "", fmt.Errorf("session_store.evict: %w", execErr)
		}
		return "", session.ErrEntryNotFound
	}

	if _, execErr := store.pool.Exec(ctx, `
UPDATE session_entries SET touched_at_unix = $1 WHERE session_id = $2
`, now.UTC().Unix(), sessionID); execErr != nil {
		return "", fmt.Errorf("session_store.touch: %w", execErr)
	}
	return entryValue, nil
}

// Set inserts or overwrites one entry.
func (store *Store) Set(ctx context.Context, sessionID string, entryKey string, entryValue string) error {
	if sessionID == "" {
		return session.ErrEmptySessionID
	}
	if entryKey == "" {
		return session.ErrEmptyEntryKey
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO session_entries (session_id, entry_key, entry_value, touched_at_unix)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, entry_key)
DO UPDATE SET entry_value = EXCLUDED.entry_value, touched_at_unix = EXCLUDED.touched_at_unix
`, sessionID, entryKey, entryValue, store.clock.Now().UTC().Unix())
	if execErr != nil {
		return fmt.Errorf("session_store.upsert: %w", execErr)
	}
	return nil
}

// Delete removes one entry. Deleting an absent entry is not an error.
func (store *Store) Delete(ctx context.Context, sessionID string, entryKey string) error {
	if sessionID == "" {
		return session.ErrEmptySessionID
	}
	if entryKey == "" {
		return session.ErrEmptyEntryKey
	}
	if _, execErr := store.pool.Exec(ctx, `
DELETE FROM session_entries WHERE session_id = $1 AND entry_key = $2
`, sessionID, entryKey); execErr != nil {
		return fmt.Errorf("session_store.delete: %w", execErr)
	}
	return nil
}

// PurgeIdle removes every entry whose session has been idle past the TTL.
func (store *Store) PurgeIdle(ctx context.Context) (int64, error) {
	if store.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := store.clock.Now().Add(-store.idleTTL).UTC().Unix()
	tag, execErr := store.pool.Exec(ctx, `
DELETE FROM session_entries WHERE touched_at_unix < $1
`, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("session_store.purge: %w", execErr)
	}
	return tag.RowsAffected(), nil
}
