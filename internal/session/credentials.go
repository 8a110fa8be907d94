package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Session entry keys. Tokens are stored under their own keys so that callers
// can read them without deserializing the full record.
const (
	recordEntryKey       = "user_info"
	accessTokenEntryKey  = "access_token"
	refreshTokenEntryKey = "refresh_token"
)

// Record is one authenticated principal kept for the duration of a visitor
// session. Records are replaced wholesale on re-login, never mutated.
type Record struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Avatar        string    `json:"avatar"`
	RoleName      string    `json:"role_name"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	Authenticated bool      `json:"authenticated"`
}

// FullName joins the optional name parts for display.
func (record Record) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(record.FirstName) + " " + strings.TrimSpace(record.LastName))
}

// CredentialStore reads and writes the credential record owned by one visitor
// session. Every read degrades to "absent" on failure; an empty session id
// turns every operation into a no-op so a request without session context
// never fails its caller.
type CredentialStore struct {
	store     Store
	sessionID string
	clock     Clock
	logger    *zap.Logger
}

// NewCredentialStore binds a credential store to one session id.
func NewCredentialStore(store Store, sessionID string, clock Clock, logger *zap.Logger) *CredentialStore {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialStore{
		store:     store,
		sessionID: sessionID,
		clock:     clock,
		logger:    logger,
	}
}

// SessionID returns the session this store is bound to; empty when the
// request carried no session context.
func (credentials *CredentialStore) SessionID() string {
	return credentials.sessionID
}

// IsAuthenticated reports whether the session holds an unexpired credential
// record. An expired record is cleared as a side effect before reporting
// false, so expiry is observable through a subsequent CurrentUser call.
func (credentials *CredentialStore) IsAuthenticated(ctx context.Context) bool {
	record, found := credentials.CurrentUser(ctx)
	if !found || !record.Authenticated {
		return false
	}
	now := credentials.clock.Now()
	if !record.ExpiresAt.After(now) {
		credentials.logger.Info("credential record expired, evicting",
			zap.String("code", "credstore.expired"),
			zap.String("user_email", record.Email),
			zap.Time("expires_at", record.ExpiresAt))
		if clearErr := credentials.ClearUser(ctx); clearErr != nil {
			credentials.logger.Warn("failed to evict expired credential record",
				zap.String("code", "credstore.evict_failed"),
				zap.Error(clearErr))
		}
		return false
	}
	return true
}

// CurrentUser reads and deserializes the stored record. It returns found set
// to false on a missing session, a missing key, or a decode failure.
func (credentials *CredentialStore) CurrentUser(ctx context.Context) (Record, bool) {
	if credentials.sessionID == "" || credentials.store == nil {
		return Record{}, false
	}
	encoded, getErr := credentials.store.Get(ctx, credentials.sessionID, recordEntryKey)
	if getErr != nil {
		if !errors.Is(getErr, ErrEntryNotFound) {
			credentials.logger.Warn("failed to read credential record",
				zap.String("code", "credstore.read_failed"),
				zap.Error(getErr))
		}
		return Record{}, false
	}
	var record Record
	if decodeErr := json.Unmarshal([]byte(encoded), &record); decodeErr != nil {
		credentials.logger.Warn("stored credential record not decodable",
			zap.String("code", "credstore.decode_failed"),
			zap.Error(decodeErr))
		return Record{}, false
	}
	return record, true
}

// SetUser serializes and stores the record, forcing its authenticated flag,
// and mirrors the token pair under the dedicated token keys. Any prior record
// is overwritten unconditionally.
func (credentials *CredentialStore) SetUser(ctx context.Context, record Record) error {
	if credentials.sessionID == "" || credentials.store == nil {
		credentials.logger.Warn("cannot store credential record without session context",
			zap.String("code", "credstore.no_session"))
		return nil
	}
	record.Authenticated = true
	encoded, encodeErr := json.Marshal(record)
	if encodeErr != nil {
		return fmt.Errorf("credstore.encode: %w", encodeErr)
	}
	if setErr := credentials.store.Set(ctx, credentials.sessionID, recordEntryKey, string(encoded)); setErr != nil {
		return fmt.Errorf("credstore.set: %w", setErr)
	}
	if record.AccessToken != "" {
		if setErr := credentials.store.Set(ctx, credentials.sessionID, accessTokenEntryKey, record.AccessToken); setErr != nil {
			return fmt.Errorf("credstore.set_access_token: %w", setErr)
		}
	}
	if record.RefreshToken != "" {
		if setErr := credentials.store.Set(ctx, credentials.sessionID, refreshTokenEntryKey, record.RefreshToken); setErr != nil {
			return fmt.Errorf("credstore.set_refresh_token: %w", setErr)
		}
	}
	credentials.logger.Info("credential record stored",
		zap.String("user_email", record.Email),
		zap.Time("expires_at", record.ExpiresAt))
	return nil
}

// ClearUser removes the record and both token keys. Clearing an already-empty
// session is a no-op, not an error.
func (credentials *CredentialStore) ClearUser(ctx context.Context) error {
	if credentials.sessionID == "" || credentials.store == nil {
		return nil
	}
	for _, entryKey := range []string{recordEntryKey, accessTokenEntryKey, refreshTokenEntryKey} {
		if deleteErr := credentials.store.Delete(ctx, credentials.sessionID, entryKey); deleteErr != nil {
			return fmt.Errorf("credstore.clear: %w", deleteErr)
		}
	}
	return nil
}

// AccessToken reads the access token directly, without deserializing the full
// record. It returns empty on any failure.
func (credentials *CredentialStore) AccessToken(ctx context.Context) string {
	return credentials.readTokenEntry(ctx, accessTokenEntryKey)
}

// RefreshToken reads the refresh token directly. It returns empty on any failure.
func (credentials *CredentialStore) RefreshToken(ctx context.Context) string {
	return credentials.readTokenEntry(ctx, refreshTokenEntryKey)
}

func (credentials *CredentialStore) readTokenEntry(ctx context.Context, entryKey string) string {
	if credentials.sessionID == "" || credentials.store == nil {
		return ""
	}
	value, getErr := credentials.store.Get(ctx, credentials.sessionID, entryKey)
	if getErr != nil {
		if !errors.Is(getErr, ErrEntryNotFound) {
			credentials.logger.Warn("failed to read token entry",
				zap.String("code", "credstore.token_read_failed"),
				zap.String("entry_key", entryKey),
				zap.Error(getErr))
		}
		return ""
	}
	return value
}
