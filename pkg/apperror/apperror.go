// Package apperror is the error taxonomy shared by the document core and the
// HTTP edge. Messages are safe to show to users; wrapped causes are not.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInvalidInput       Kind = "invalid_input"
)

// Sentinels for errors.Is checks. Any *Error matches the sentinel of its kind.
var (
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "access denied"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict           = &Error{Kind: KindConflict, Message: "conflict"}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable, Message: "storage temporarily unavailable"}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput, Message: "invalid request"}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Invalid(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// Storage wraps an infrastructure failure. The cause is kept for logs only.
func Storage(err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: ErrStorageUnavailable.Message, Err: err}
}

// From returns the *Error in err's chain, or a storage error for anything
// unclassified.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Storage(err)
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
