// Package apperr defines the error kinds shared by the ingestion pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. Callers branch on kinds, never on message text.
type Kind string

const (
	KindAuthenticationFailed   Kind = "authentication_failed"
	KindInvalidPayload         Kind = "invalid_payload"
	KindUnsupportedProvider    Kind = "unsupported_provider"
	KindUnknownStatus          Kind = "unknown_status"
	KindIllegalTransition      Kind = "illegal_transition"
	KindSyncInProgress         Kind = "sync_in_progress"
	KindPersistenceUnavailable Kind = "persistence_unavailable"
	KindValidationFailed       Kind = "validation_failed"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
)

// Sentinels for errors.Is checks.
var (
	AuthenticationFailed   = &Error{Kind: KindAuthenticationFailed}
	InvalidPayload         = &Error{Kind: KindInvalidPayload}
	UnsupportedProvider    = &Error{Kind: KindUnsupportedProvider}
	UnknownStatus          = &Error{Kind: KindUnknownStatus}
	IllegalTransition      = &Error{Kind: KindIllegalTransition}
	SyncInProgress         = &Error{Kind: KindSyncInProgress}
	PersistenceUnavailable = &Error{Kind: KindPersistenceUnavailable}
	ValidationFailed       = &Error{Kind: KindValidationFailed}
	Forbidden              = &Error{Kind: KindForbidden}
	NotFound               = &Error{Kind: KindNotFound}
)

// Error is a classified failure. Op names the operation, Field the offending
// payload field when there is one.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an error of the given kind.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// MissingField reports a required payload field that was absent or empty.
func MissingField(op, field string) *Error {
	return &Error{Kind: KindInvalidPayload, Op: op, Field: field, Msg: "missing or empty"}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a caller may retry the failed operation later.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSyncInProgress, KindPersistenceUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps err to the status code used on the webhook ingress.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		if err == nil {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindInvalidPayload, KindValidationFailed:
		return http.StatusBadRequest
	case KindUnsupportedProvider, KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindSyncInProgress, KindIllegalTransition, KindUnknownStatus:
		return http.StatusConflict
	case KindPersistenceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
