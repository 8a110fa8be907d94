package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store intended for tests and dev.
type MemoryStore struct {
	mutex    sync.Mutex
	sessions map[string]*memorySession
	idleTTL  time.Duration
	clock    Clock
}

type memorySession struct {
	entries   map[string]string
	touchedAt time.Time
}

// NewMemoryStore creates an in-memory store; sessions idle longer than
// idleTTL are evicted lazily. A non-positive idleTTL disables eviction.
func NewMemoryStore(idleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		idleTTL:  idleTTL,
		clock:    NewSystemClock(),
	}
}

// WithClock replaces the store's clock; used by tests to control idle expiry.
func (store *MemoryStore) WithClock(clock Clock) *MemoryStore {
	store.clock = clock
	return store
}

// Get returns the value stored under the key for the session.
func (store *MemoryStore) Get(ctx context.Context, sessionID string, entryKey string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session_store.get: %w", ErrEmptySessionID)
	}
	if entryKey == "" {
		return "", fmt.Errorf("session_store.get: %w", ErrEmptyEntryKey)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeIdleLocked()

	current, ok := store.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("session_store.get: %w", ErrEntryNotFound)
	}
	value, ok := current.entries[entryKey]
	if !ok {
		return "", fmt.Errorf("session_store.get: %w", ErrEntryNotFound)
	}
	current.touchedAt = store.clock.Now()
	return value, nil
}

// Set stores the value under the key, creating the session on first write.
func (store *MemoryStore) Set(ctx context.Context, sessionID string, entryKey string, entryValue string) error {
	if sessionID == "" {
		return fmt.Errorf("session_store.set: %w", ErrEmptySessionID)
	}
	if entryKey == "" {
		return fmt.Errorf("session_store.set: %w", ErrEmptyEntryKey)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeIdleLocked()

	current, ok := store.sessions[sessionID]
	if !ok {
		current = &memorySession{entries: make(map[string]string)}
		store.sessions[sessionID] = current
	}
	current.entries[entryKey] = entryValue
	current.touchedAt = store.clock.Now()
	return nil
}

// Delete removes the key from the session. Deleting an absent key or an
// absent session is a no-op.
func (store *MemoryStore) Delete(ctx context.Context, sessionID string, entryKey string) error {
	if sessionID == "" {
		return fmt.Errorf("session_store.delete: %w", ErrEmptySessionID)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	current, ok := store.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(current.entries, entryKey)
	if len(current.entries) == 0 {
		delete(store.sessions, sessionID)
		return nil
	}
	current.touchedAt = store.clock.Now()
	return nil
}

func (store *MemoryStore) purgeIdleLocked() {
	if store.idleTTL <= 0 || len(store.sessions) == 0 {
		return
	}
	cutoff := store.clock.Now().Add(-store.idleTTL)
	for sessionID, current := range store.sessions {
		if current.touchedAt.Before(cutoff) {
			delete(store.sessions, sessionID)
		}
	}
}
