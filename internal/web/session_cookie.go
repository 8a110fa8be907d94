package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The session identifier travels in an HS256-signed cookie so the key into
// the session store cannot be forged client-side.

const sessionCookieIssuer = "cmsadmin"

var (
	// ErrInvalidSessionCookie indicates the cookie failed signature or claim validation.
	ErrInvalidSessionCookie = errors.New("web.session_cookie.invalid")
	// ErrMissingSessionID indicates a valid cookie without a session identifier claim.
	ErrMissingSessionID = errors.New("web.session_cookie.missing_sid")
)

type sessionCookieClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// mintSessionCookie signs the session identifier into a cookie value expiring
// after the session idle TTL.
func mintSessionCookie(sessionID string, signingKey []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if sessionID == "" {
		return "", time.Time{}, ErrMissingSessionID
	}
	issuedAt := now.UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionCookieClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionCookieIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("web.session_cookie.sign: %w", signErr)
	}
	return signed, expiresAt, nil
}

// parseSessionCookie validates the cookie value and returns the session
// identifier it carries.
func parseSessionCookie(cookieValue string, signingKey []byte) (string, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(cookieValue, &sessionCookieClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return "", ErrInvalidSessionCookie
	}
	claims, ok := parsedToken.Claims.(*sessionCookieClaims)
	if !ok || claims.Issuer != sessionCookieIssuer {
		return "", ErrInvalidSessionCookie
	}
	if claims.SessionID == "" {
		return "", ErrMissingSessionID
	}
	return claims.SessionID, nil
}
