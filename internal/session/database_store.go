package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("session_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("session_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("session_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session_store.unsupported_no_scheme")
)

// DatabaseStore persists session entries using GORM so sessions survive a
// process restart.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
	idleTTL     time.Duration
	clock       Clock
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

type sessionEntryRecord struct {
	SessionID     string `gorm:"column:session_id;primaryKey"`
	EntryKey      string `gorm:"column:entry_key;primaryKey"`
	EntryValue    string `gorm:"column:entry_value;not null"`
	TouchedAtUnix int64  `gorm:"column:touched_at_unix;not null;index"`
}

func (sessionEntryRecord) TableName() string {
	return "session_entries"
}

// NewDatabaseStore constructs a GORM-backed store from a postgres:// or
// sqlite:// URL. A non-positive idleTTL disables idle eviction.
func NewDatabaseStore(ctx context.Context, databaseURL string, idleTTL time.Duration) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionEntryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
		idleTTL:     idleTTL,
		clock:       NewSystemClock(),
	}, nil
}

// WithClock replaces the store's clock; used by tests to control idle expiry.
func (store *DatabaseStore) WithClock(clock Clock) *DatabaseStore {
	store.clock = clock
	return store
}

// Get returns the value stored under the key for the session, evicting the
// whole session when it has been idle past the configured timeout.
func (store *DatabaseStore) Get(ctx context.Context, sessionID string, entryKey string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session_store.get.%s: %w", store.driverLabel, ErrEmptySessionID)
	}
	if entryKey == "" {
		return "", fmt.Errorf("session_store.get.%s: %w", store.driverLabel, ErrEmptyEntryKey)
	}
	var record sessionEntryRecord
	err := store.db.WithContext(ctx).
		Where("session_id = ? AND entry_key = ?", sessionID, entryKey).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("session_store.get.%s: %w", store.driverLabel, ErrEntryNotFound)
		}
		return "", fmt.Errorf("session_store.get.%s: %w", store.driverLabel, err)
	}
	now := store.clock.Now()
	if store.idleTTL > 0 && time.Unix(record.TouchedAtUnix, 0).Before(now.Add(-store.idleTTL)) {
		if dropErr := store.dropSession(ctx, sessionID); dropErr != nil {
			return "", dropErr
		}
		return "", fmt.Errorf("session_store.get.%s: %w", store.driverLabel, ErrEntryNotFound)
	}
	if touchErr := store.touchSession(ctx, sessionID, now); touchErr != nil {
		return "", touchErr
	}
	return record.EntryValue, nil
}

// Set stores the value under the key, creating or replacing the row.
func (store *DatabaseStore) Set(ctx context.Context, sessionID string, entryKey string, entryValue string) error {
	if sessionID == "" {
		return fmt.Errorf("session_store.set.%s: %w", store.driverLabel, ErrEmptySessionID)
	}
	if entryKey == "" {
		return fmt.Errorf("session_store.set.%s: %w", store.driverLabel, ErrEmptyEntryKey)
	}
	now := store.clock.Now()
	record := sessionEntryRecord{
		SessionID:     sessionID,
		EntryKey:      entryKey,
		EntryValue:    entryValue,
		TouchedAtUnix: now.Unix(),
	}
	saveErr := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if saveErr != nil {
		return fmt.Errorf("session_store.set.%s: %w", store.driverLabel, saveErr)
	}
	return store.touchSession(ctx, sessionID, now)
}

// Delete removes the key from the session; absent rows are a no-op.
func (store *DatabaseStore) Delete(ctx context.Context, sessionID string, entryKey string) error {
	if sessionID == "" {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, ErrEmptySessionID)
	}
	result := store.db.WithContext(ctx).
		Where("session_id = ? AND entry_key = ?", sessionID, entryKey).
		Delete(&sessionEntryRecord{})
	if result.Error != nil {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// PurgeIdle removes every session idle past the configured timeout; intended
// for startup and periodic maintenance.
func (store *DatabaseStore) PurgeIdle(ctx context.Context) (int64, error) {
	if store.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := store.clock.Now().Add(-store.idleTTL).Unix()
	result := store.db.WithContext(ctx).
		Where("touched_at_unix < ?", cutoff).
		Delete(&sessionEntryRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("session_store.purge.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *DatabaseStore) dropSession(ctx context.Context, sessionID string) error {
	result := store.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&sessionEntryRecord{})
	if result.Error != nil {
		return fmt.Errorf("session_store.drop.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// touchSession refreshes the idle deadline for every row of the session, not
// just the touched key.
func (store *DatabaseStore) touchSession(ctx context.Context, sessionID string, now time.Time) error {
	result := store.db.WithContext(ctx).Model(&sessionEntryRecord{}).
		Where("session_id = ?", sessionID).
		Update("touched_at_unix", now.Unix())
	if result.Error != nil {
		return fmt.Errorf("session_store.touch.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
