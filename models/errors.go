package models

import (
	"fmt"
	"net/http"

	"golang.org/x/xerrors"
)

// ErrorCode is a stable, machine-readable rejection code.
type ErrorCode string

const (
	ErrBadManifest         ErrorCode = "EWP_BAD_MANIFEST"
	ErrChallengeExpired    ErrorCode = "EWP_CHALLENGE_EXPIRED"
	ErrIdempotencyMismatch ErrorCode = "EWP_IDEMPOTENCY_MISMATCH"
	ErrProofInvalid        ErrorCode = "EWP_PROOF_INVALID"
	ErrNullifierUsed       ErrorCode = "EWP_NULLIFIER_USED"
	ErrBallotInvalid       ErrorCode = "EWP_BALLOT_INVALID"
	ErrRateLimited         ErrorCode = "EWP_RATE_LIMITED"
	ErrGatewayOverloaded   ErrorCode = "EWP_GATEWAY_OVERLOADED"

	ErrBadRequest         ErrorCode = "EWP_BAD_REQUEST"
	ErrUnauthorized       ErrorCode = "EWP_UNAUTHORIZED"
	ErrForbiddenEventType ErrorCode = "EWP_FORBIDDEN_EVENT_TYPE"
	ErrNotFound           ErrorCode = "EWP_NOT_FOUND"
	ErrInternal           ErrorCode = "EWP_INTERNAL"
)

// Retryable reports whether a caller may retry (possibly after fetching a
// fresh challenge).
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrChallengeExpired, ErrRateLimited, ErrGatewayOverloaded, ErrInternal:
		return true
	}
	return false
}

// HTTPStatus maps a code onto a response status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrBadManifest, ErrProofInvalid, ErrBallotInvalid, ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbiddenEventType:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrChallengeExpired:
		return http.StatusGone
	case ErrIdempotencyMismatch, ErrNullifierUsed:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrGatewayOverloaded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error is the single error shape returned by the engine and the ledger
// node. Message and Details never carry secret material.
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus is the status code for e.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewError builds an Error with the code's default retryability.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: code.Retryable(),
	}
}

// WithDetail attaches one detail field and returns e.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsError finds an *Error in err's chain, or wraps err as EWP_INTERNAL
// without exposing its text.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if xerrors.As(err, &e) {
		return e
	}
	return NewError(ErrInternal, "internal error")
}

// ErrorResponse is the JSON envelope for rejections.
type ErrorResponse struct {
	Error *Error `json:"error"`
}
