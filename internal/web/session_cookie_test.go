package web

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var cookieTestKey = []byte("0123456789abcdef0123456789abcdef")

func TestSessionCookieRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	cookieValue, expiresAt, mintErr := mintSessionCookie("session-123", cookieTestKey, time.Hour, now)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(time.Hour), expiresAt)
	}

	sessionID, parseErr := parseSessionCookie(cookieValue, cookieTestKey)
	if parseErr != nil {
		t.Fatalf("parse failed: %v", parseErr)
	}
	if sessionID != "session-123" {
		t.Fatalf("expected session-123, got %q", sessionID)
	}
}

func TestSessionCookieRejectsEmptySessionID(t *testing.T) {
	t.Parallel()

	_, _, mintErr := mintSessionCookie("", cookieTestKey, time.Hour, time.Now())
	if !errors.Is(mintErr, ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", mintErr)
	}
}

func TestSessionCookieRejectsTampering(t *testing.T) {
	t.Parallel()

	cookieValue, _, mintErr := mintSessionCookie("session-123", cookieTestKey, time.Hour, time.Now())
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}

	tampered := cookieValue[:len(cookieValue)-2] + "xx"
	if _, parseErr := parseSessionCookie(tampered, cookieTestKey); parseErr == nil {
		t.Fatalf("expected tampered cookie to be rejected")
	}

	otherKey := []byte(strings.Repeat("k", 32))
	if _, parseErr := parseSessionCookie(cookieValue, otherKey); parseErr == nil {
		t.Fatalf("expected cookie signed with another key to be rejected")
	}
}

func TestSessionCookieRejectsExpired(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-2 * time.Hour)
	cookieValue, _, mintErr := mintSessionCookie("session-123", cookieTestKey, time.Hour, past)
	if mintErr != nil {
		t.Fatalf("mint failed: %v", mintErr)
	}
	if _, parseErr := parseSessionCookie(cookieValue, cookieTestKey); parseErr == nil {
		t.Fatalf("expected expired cookie to be rejected")
	}
}
