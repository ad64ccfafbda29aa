// Package apperr classifies service failures into the kinds the HTTP layer
// and the agent understand.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindInvalidState
	KindNotFound
	KindForbidden
	KindConflict
	// KindPreconditionFailed is a lost compare-and-swap inside the store.
	// Services translate it before it reaches a caller.
	KindPreconditionFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindPreconditionFailed:
		return "precondition_failed"
	default:
		return "internal"
	}
}

// Error is a classified failure. Msg is safe to show to callers; Err is the
// underlying cause and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrInternal           = &Error{Kind: KindInternal}
)

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) error {
	return newf(KindInvalidArgument, format, args...)
}

func InvalidState(format string, args ...any) error {
	return newf(KindInvalidState, format, args...)
}

func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

func Forbidden(format string, args ...any) error { return newf(KindForbidden, format, args...) }

func Conflict(format string, args ...any) error { return newf(KindConflict, format, args...) }

func PreconditionFailed(format string, args ...any) error {
	return newf(KindPreconditionFailed, format, args...)
}

// Wrap classifies err under kind with a caller-facing message.
func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Internal wraps an unexpected failure. The message shown to callers is generic.
func Internal(err error, msg string) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message for err. Internal failures never
// leak their cause.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "internal error"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Error()
}

// HTTPStatus maps err to a response status. A lost CAS surfaces as a conflict.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidArgument, KindInvalidState:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindPreconditionFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
