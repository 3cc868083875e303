package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wakelak/wakelak/internal/apperr"
)

func newTestSessions() *Sessions {
	return NewSessions("test-secret", "owner@example.com", "hunter2", time.Hour)
}

func TestLoginAndVerify(t *testing.T) {
	s := newTestSessions()

	token, err := s.Login("owner@example.com", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := s.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", user)
}

func TestLoginEmailCaseInsensitive(t *testing.T) {
	s := newTestSessions()
	_, err := s.Login("  Owner@Example.COM ", "hunter2")
	require.NoError(t, err)
}

func TestLoginRejectsWrongCredentials(t *testing.T) {
	s := newTestSessions()

	_, err := s.Login("owner@example.com", "wrong")
	require.ErrorIs(t, err, apperr.New(apperr.CodeUnauthorized, ""))

	_, err = s.Login("stranger@example.com", "hunter2")
	require.ErrorIs(t, err, apperr.New(apperr.CodeUnauthorized, ""))
}

func TestLoginUnconfigured(t *testing.T) {
	s := NewSessions("secret", "", "", time.Hour)
	_, err := s.Login("anyone@example.com", "pw")
	require.ErrorIs(t, err, apperr.New(apperr.CodeCredentialMissing, ""))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := newTestSessions()
	_, err := s.Verify("not.a.token")
	require.ErrorIs(t, err, apperr.New(apperr.CodeUnauthorized, ""))
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	other := NewSessions("different-secret", "owner@example.com", "hunter2", time.Hour)
	token, err := other.Login("owner@example.com", "hunter2")
	require.NoError(t, err)

	_, err = newTestSessions().Verify(token)
	require.ErrorIs(t, err, apperr.New(apperr.CodeUnauthorized, ""))
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := newTestSessions()
	s.ttl = -time.Minute
	token, err := s.Login("owner@example.com", "hunter2")
	require.NoError(t, err)

	_, err = s.Verify(token)
	require.ErrorIs(t, err, apperr.New(apperr.CodeUnauthorized, ""))
}
