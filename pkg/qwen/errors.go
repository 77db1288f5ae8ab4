package qwen

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures from the authorization and API endpoints.
type ErrorKind string

const (
	// KindAuthRejected marks authentication/parameter errors (HTTP 400,
	// 401, 403 with no recoverable OAuth error code) that will not
	// self-resolve and must not be retried.
	KindAuthRejected ErrorKind = "auth_rejected"
	// KindTransient marks network errors, 5xx responses, and timeouts
	// that are worth retrying.
	KindTransient ErrorKind = "transient"
	// KindSessionExpired marks fatal device-flow termination: a malformed
	// 400 without the pending/slow-down codes.
	KindSessionExpired ErrorKind = "session_expired"
	// KindValidation marks a structurally malformed server response
	// missing required fields.
	KindValidation ErrorKind = "validation"
)

// ErrNoCredentials is returned when no token is held in memory and none
// can be loaded from storage.
var ErrNoCredentials = errors.New("no valid credentials: run login first")

// APIError is a tagged failure carrying the HTTP status and decoded error
// body, matched with errors.As instead of probing error shapes.
type APIError struct {
	Kind       ErrorKind
	HTTPStatus int
	// Code is the OAuth error code from the response body, if any.
	Code string
	// Message is the human-readable description, or the raw response text
	// when the body was not parseable.
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.HTTPStatus)
	case e.Message != "":
		return fmt.Sprintf("%s (status %d)", e.Message, e.HTTPStatus)
	default:
		return fmt.Sprintf("request failed with status %d", e.HTTPStatus)
	}
}

// Fatal reports whether the error must abort immediately instead of being
// retried. Authentication and parameter errors will not self-resolve.
func (e *APIError) Fatal() bool {
	switch e.HTTPStatus {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// statusError builds an APIError from a non-2xx response, classifying by
// status code.
func statusError(status int, code, message string) *APIError {
	kind := KindTransient
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuthRejected
	}
	return &APIError{
		Kind:       kind,
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}
