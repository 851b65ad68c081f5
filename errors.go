package blogdesk

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-checkable category of an Error.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindStorage      ErrorKind = "storage"
	KindStore        ErrorKind = "store"
	KindInternal     ErrorKind = "internal"
)

// Sentinels for use with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("asset storage error")
	ErrStore        = errors.New("record store error")
	ErrInternal     = errors.New("internal error")
)

var kindSentinels = map[ErrorKind]error{
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindValidation:   ErrValidation,
	KindNotFound:     ErrNotFound,
	KindStorage:      ErrStorage,
	KindStore:        ErrStore,
	KindInternal:     ErrInternal,
}

// Error is the error type returned by the blog pipelines.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind, so callers can write
// errors.Is(err, ErrNotFound) while Unwrap still exposes the cause.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// StorageFailure wraps an asset store failure.
func StorageFailure(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

// StoreFailure wraps a record store failure.
func StoreFailure(msg string, err error) *Error {
	return &Error{Kind: KindStore, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// storeErr passes pipeline errors (such as NotFound from a store) through
// untouched and wraps anything else as a StoreFailure.
func storeErr(msg string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return StoreFailure(msg, err)
}
