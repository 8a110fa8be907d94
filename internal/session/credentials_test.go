package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestCredentialStore(t *testing.T, clock Clock) *CredentialStore {
	t.Helper()
	return NewCredentialStore(NewMemoryStore(0), "visitor-1", clock, zaptest.NewLogger(t))
}

func sampleRecord(expiresAt time.Time) Record {
	return Record{
		ID:           "42",
		Email:        "a@b.com",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Avatar:       "avatar-uuid",
		RoleName:     "Administrator",
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    expiresAt,
	}
}

func TestSetUserRoundTripsAllFields(t *testing.T) {
	clock := &controllableClock{current: time.Now().UTC()}
	credentials := newTestCredentialStore(t, clock)

	expiresAt := clock.Now().Add(time.Hour).Truncate(time.Second)
	original := sampleRecord(expiresAt)
	original.Authenticated = false // forced true by SetUser regardless of input

	if err := credentials.SetUser(context.Background(), original); err != nil {
		t.Fatalf("set user error: %v", err)
	}

	stored, found := credentials.CurrentUser(context.Background())
	if !found {
		t.Fatalf("expected stored record")
	}
	if !stored.Authenticated {
		t.Fatalf("expected authenticated flag forced true")
	}
	if stored.ID != original.ID || stored.Email != original.Email ||
		stored.FirstName != original.FirstName || stored.LastName != original.LastName ||
		stored.Avatar != original.Avatar || stored.RoleName != original.RoleName ||
		stored.AccessToken != original.AccessToken || stored.RefreshToken != original.RefreshToken {
		t.Fatalf("record did not round-trip: %+v", stored)
	}
	if !stored.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry %v, got %v", expiresAt, stored.ExpiresAt)
	}

	if !credentials.IsAuthenticated(context.Background()) {
		t.Fatalf("expected authenticated session")
	}
	if credentials.AccessToken(context.Background()) != "AT1" {
		t.Fatalf("expected direct access token read")
	}
	if credentials.RefreshToken(context.Background()) != "RT1" {
		t.Fatalf("expected direct refresh token read")
	}
}

func TestExpiredRecordIsLazilyEvicted(t *testing.T) {
	clock := &controllableClock{current: time.Now().UTC()}
	credentials := newTestCredentialStore(t, clock)

	if err := credentials.SetUser(context.Background(), sampleRecord(clock.Now().Add(time.Minute))); err != nil {
		t.Fatalf("set user error: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if credentials.IsAuthenticated(context.Background()) {
		t.Fatalf("expected expired record to report unauthenticated")
	}
	// Eviction is observable: the record is gone after the check.
	if _, found := credentials.CurrentUser(context.Background()); found {
		t.Fatalf("expected expired record cleared")
	}
	if credentials.AccessToken(context.Background()) != "" {
		t.Fatalf("expected token keys cleared with the record")
	}
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	clock := &controllableClock{current: time.Now().UTC()}
	credentials := newTestCredentialStore(t, clock)

	if err := credentials.SetUser(context.Background(), sampleRecord(clock.Now())); err != nil {
		t.Fatalf("set user error: %v", err)
	}
	// expiresAt == now counts as expired.
	if credentials.IsAuthenticated(context.Background()) {
		t.Fatalf("expected record expiring exactly now to be treated as expired")
	}
}

func TestClearUserIsIdempotent(t *testing.T) {
	credentials := newTestCredentialStore(t, nil)

	if err := credentials.ClearUser(context.Background()); err != nil {
		t.Fatalf("clear on empty session should succeed, got %v", err)
	}

	if err := credentials.SetUser(context.Background(), sampleRecord(time.Now().UTC().Add(time.Hour))); err != nil {
		t.Fatalf("set user error: %v", err)
	}
	if err := credentials.ClearUser(context.Background()); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if err := credentials.ClearUser(context.Background()); err != nil {
		t.Fatalf("second clear should succeed, got %v", err)
	}
	if _, found := credentials.CurrentUser(context.Background()); found {
		t.Fatalf("expected empty session after clear")
	}
}

func TestMissingSessionContextDegradesToNoOp(t *testing.T) {
	credentials := NewCredentialStore(NewMemoryStore(0), "", nil, zaptest.NewLogger(t))

	if credentials.IsAuthenticated(context.Background()) {
		t.Fatalf("expected unauthenticated without session context")
	}
	if _, found := credentials.CurrentUser(context.Background()); found {
		t.Fatalf("expected absent record without session context")
	}
	if err := credentials.SetUser(context.Background(), sampleRecord(time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("set without session context should be a no-op, got %v", err)
	}
	if err := credentials.ClearUser(context.Background()); err != nil {
		t.Fatalf("clear without session context should be a no-op, got %v", err)
	}
	if credentials.AccessToken(context.Background()) != "" {
		t.Fatalf("expected empty token without session context")
	}
}

func TestCorruptRecordReadsAsAbsent(t *testing.T) {
	backing := NewMemoryStore(0)
	credentials := NewCredentialStore(backing, "visitor-1", nil, zaptest.NewLogger(t))

	if err := backing.Set(context.Background(), "visitor-1", recordEntryKey, "{not json"); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if _, found := credentials.CurrentUser(context.Background()); found {
		t.Fatalf("expected corrupt record to read as absent")
	}
	if credentials.IsAuthenticated(context.Background()) {
		t.Fatalf("expected corrupt record to report unauthenticated")
	}
}

func TestRecordFullName(t *testing.T) {
	record := Record{FirstName: "Ada", LastName: "Lovelace"}
	if record.FullName() != "Ada Lovelace" {
		t.Fatalf("unexpected full name %q", record.FullName())
	}
	partial := Record{FirstName: "Ada"}
	if partial.FullName() != "Ada" {
		t.Fatalf("unexpected partial name %q", partial.FullName())
	}
	if (Record{}).FullName() != "" {
		t.Fatalf("expected empty full name")
	}
}
