// Package auth covers the two credential concerns: the single-user session
// and the resolution of GitHub access tokens.
package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wakelak/wakelak/internal/apperr"
)

// Sessions issues and verifies signed session tokens. The deployment has
// exactly one allowed account; any other login attempt is rejected.
type Sessions struct {
	secret   []byte
	email    string
	password string
	ttl      time.Duration
}

func NewSessions(secret, email, password string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		secret:   []byte(secret),
		email:    strings.ToLower(strings.TrimSpace(email)),
		password: password,
		ttl:      ttl,
	}
}

// Login verifies the credentials against the configured account and returns
// a signed session token.
func (s *Sessions) Login(email, password string) (string, error) {
	if s.email == "" || s.password == "" {
		return "", apperr.New(apperr.CodeCredentialMissing, "login is not configured on this deployment")
	}

	emailOK := strings.ToLower(strings.TrimSpace(email)) == s.email
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !emailOK || !passOK {
		return "", apperr.New(apperr.CodeUnauthorized, "invalid email or password")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   s.email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "could not issue session token")
	}
	return signed, nil
}

// Verify checks a session token and returns the user it identifies.
func (s *Sessions) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.CodeUnauthorized, "unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.Wrap(err, apperr.CodeUnauthorized, "invalid or expired session")
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperr.New(apperr.CodeUnauthorized, "invalid session claims")
	}
	if claims.Subject != s.email {
		return "", apperr.New(apperr.CodeUnauthorized, "unknown account")
	}
	return claims.Subject, nil
}
