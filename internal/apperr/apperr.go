// Package apperr defines the error taxonomy shared by every marketadmin package.
//
// Each error is scoped to the single user action that produced it. None of
// them are fatal to the process and none are retried automatically.
//
// Kinds:
//   - validation: rejected before any network call (cap reached, bad sequence)
//   - not_found: target id missing from the local snapshot, no network call
//   - busy: the same action is already in flight for that entity
//   - transport: network failure or non-2xx response from the backend
//   - unauthorized: the backend answered 401 and the session was cleared
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes errors by how the caller should react to them.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindBusy         Kind = "busy"
	KindTransport    Kind = "transport"
	KindUnauthorized Kind = "unauthorized"
)

// Codes for the individual failure conditions.
const (
	CodeActiveCapReached = "ACTIVE_CAP_REACHED"
	CodeInvalidSequence  = "INVALID_SEQUENCE"
	CodeInvalidIndex     = "INVALID_INDEX"
	CodeMissingField     = "MISSING_FIELD"
	CodeUnknownScope     = "UNKNOWN_SCOPE"
	CodeEntityNotFound   = "ENTITY_NOT_FOUND"
	CodeActionInFlight   = "ACTION_IN_FLIGHT"
	CodeRequestFailed    = "REQUEST_FAILED"
	CodeReconcileFailed  = "RECONCILE_FAILED"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeNotLoggedIn      = "NOT_LOGGED_IN"
	CodeBadCredentials   = "BAD_CREDENTIALS"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Scope    string
	EntityID string

	// Status is the HTTP status for transport errors, 0 otherwise.
	Status int

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Scope != "" && e.EntityID != "":
		msg = fmt.Sprintf("%s (scope=%s, id=%s)", msg, e.Scope, e.EntityID)
	case e.Scope != "":
		msg = fmt.Sprintf("%s (scope=%s)", msg, e.Scope)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithScope returns a copy of e annotated with scope and entity id.
func (e *Error) WithScope(scope, entityID string) *Error {
	cp := *e
	if cp.Scope == "" {
		cp.Scope = scope
	}
	if cp.EntityID == "" {
		cp.EntityID = entityID
	}
	return &cp
}

// Validation creates a validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates an error for an id missing from the local snapshot.
func NotFound(scope, entityID string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Code:     CodeEntityNotFound,
		Message:  "entity not found in collection",
		Scope:    scope,
		EntityID: entityID,
	}
}

// Busy creates an error for an action already in flight.
func Busy(kind, scope, entityID string) *Error {
	return &Error{
		Kind:     KindBusy,
		Code:     CodeActionInFlight,
		Message:  fmt.Sprintf("%s already in progress", kind),
		Scope:    scope,
		EntityID: entityID,
	}
}

// Transport wraps a network or server failure.
func Transport(code string, status int, err error) *Error {
	msg := "request failed"
	if status != 0 {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	return &Error{Kind: KindTransport, Code: code, Message: msg, Status: status, Err: err}
}

// Unauthorized reports a rejected session.
func Unauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message, Status: 401}
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of err, or "" if err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsBusy(err error) bool         { return KindOf(err) == KindBusy }
func IsTransport(err error) bool    { return KindOf(err) == KindTransport }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsLocal reports whether err was raised before any network call was made.
func IsLocal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindBusy:
		return true
	}
	return false
}
