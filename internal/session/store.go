package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEntryNotFound indicates the session holds no value under the requested key.
	ErrEntryNotFound = errors.New("session_store.entry_not_found")
	// ErrEmptySessionID indicates an operation was issued without a session identifier.
	ErrEmptySessionID = errors.New("session_store.empty_session_id")
	// ErrEmptyEntryKey indicates an operation was issued without an entry key.
	ErrEmptyEntryKey = errors.New("session_store.empty_entry_key")
)

// Store is a keyed per-session container: session id, entry key, value. It is
// a pure container with no cross-session visibility; sessions become
// unreachable after the configured idle timeout.
type Store interface {
	Get(ctx context.Context, sessionID string, entryKey string) (string, error)
	Set(ctx context.Context, sessionID string, entryKey string, entryValue string) error
	Delete(ctx context.Context, sessionID string, entryKey string) error
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by the wall clock.
func NewSystemClock() Clock {
	return systemClock{}
}
