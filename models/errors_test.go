package models

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestError_Retryability(t *testing.T) {
	require.False(t, NewError(ErrBadManifest, "x").Retryable)
	require.False(t, NewError(ErrProofInvalid, "x").Retryable)
	require.False(t, NewError(ErrNullifierUsed, "x").Retryable)
	require.True(t, NewError(ErrChallengeExpired, "x").Retryable)
	require.True(t, NewError(ErrGatewayOverloaded, "x").Retryable)
	require.True(t, NewError(ErrRateLimited, "x").Retryable)
}

func TestError_HTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusTooManyRequests, NewError(ErrRateLimited, "").HTTPStatus())
	require.Equal(t, http.StatusForbidden, NewError(ErrForbiddenEventType, "").HTTPStatus())
	require.Equal(t, http.StatusConflict, NewError(ErrNullifierUsed, "").HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, ErrorCode("EWP_SOMETHING").HTTPStatus())
}

func TestAsError(t *testing.T) {
	orig := NewError(ErrBallotInvalid, "bad hash").WithDetail("ballot_id", "b1")
	wrapped := xerrors.Errorf("cast: %w", orig)
	got := AsError(wrapped)
	require.Equal(t, ErrBallotInvalid, got.Code)
	require.Equal(t, "b1", got.Details["ballot_id"])

	internal := AsError(errors.New("disk full at /secret/path"))
	require.Equal(t, ErrInternal, internal.Code)
	require.NotContains(t, internal.Message, "/secret/path")
	require.Nil(t, AsError(nil))
}

func TestVerificationReport_CollectsAllChecks(t *testing.T) {
	r := NewReport("receipt")
	r.Add("a", true, "")
	r.Add("b", false, "mismatch")
	r.Add("c", true, "")
	require.False(t, r.OK())
	require.Len(t, r.Checks, 3)
	c, ok := r.Check("b")
	require.True(t, ok)
	require.Equal(t, CheckFail, c.Status)
}
