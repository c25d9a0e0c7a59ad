// Package apperr is the error taxonomy every operation reports failures in.
// Storage and transport errors are classified into one of these kinds before
// they reach a client.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Unauthorized Kind = "UNAUTHORIZED"
	Forbidden    Kind = "FORBIDDEN"
	NotFound     Kind = "NOT_FOUND"
	InvalidInput Kind = "INVALID_INPUT"
	Conflict     Kind = "CONFLICT"
	Internal     Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrForbidden) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Kind-only sentinels for errors.Is.
var (
	ErrUnauthorized = &Error{Kind: Unauthorized}
	ErrForbidden    = &Error{Kind: Forbidden}
	ErrNotFound     = &Error{Kind: NotFound}
	ErrInvalidInput = &Error{Kind: InvalidInput}
	ErrConflict     = &Error{Kind: Conflict}
	ErrInternal     = &Error{Kind: Internal}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the kind of err. Anything that is not an *Error is Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Public returns the kind and message safe to show a client. Causes are never
// exposed, and unclassified errors collapse to a generic internal error.
func Public(err error) (Kind, string) {
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" {
			msg = defaultMessage(e.Kind)
		}
		return e.Kind, msg
	}
	return Internal, defaultMessage(Internal)
}

func defaultMessage(k Kind) string {
	switch k {
	case Unauthorized:
		return "not authenticated"
	case Forbidden:
		return "not allowed"
	case NotFound:
		return "not found"
	case InvalidInput:
		return "invalid input"
	case Conflict:
		return "conflict"
	default:
		return "internal error"
	}
}
