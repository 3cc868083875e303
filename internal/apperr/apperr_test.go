package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeConflict, "file changed"))
	require.True(t, errors.Is(err, New(CodeConflict, "")))
	require.False(t, errors.Is(err, New(CodeNotFound, "")))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, CodeRateLimited, CodeOf(New(CodeRateLimited, "slow down")))
	require.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	require.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("wrapped: %w", New(CodeTimeout, "late"))))
}

func TestClientMessage(t *testing.T) {
	require.Equal(t, "try later", ClientMessage(New(CodeRateLimited, "try later")))
	// Uncoded errors must never leak internal detail.
	require.Equal(t, "internal server error", ClientMessage(errors.New("sql: syntax error near SELECT")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUpstream, "could not reach GitHub")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeUnauthorized:      http.StatusUnauthorized,
		CodeCredentialMissing: http.StatusUnauthorized,
		CodeQuotaExhausted:    http.StatusPaymentRequired,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeRateLimited:       http.StatusTooManyRequests,
		CodeNoChanges:         http.StatusUnprocessableEntity,
		CodeTimeout:           http.StatusGatewayTimeout,
		CodeInternal:          http.StatusInternalServerError,
		CodeUpstream:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, HTTPStatus(New(code, "x")), "code %s", code)
	}
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
