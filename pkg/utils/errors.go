// Package utils provides shared error and environment helpers used across
// the node.
package utils

import (
	"errors"
	"fmt"
)

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Kind is one of the error kinds surfaced to API callers and CLI exit codes.
type Kind string

const (
	KindIO            Kind = "ERR_IO"
	KindPathInvalid   Kind = "ERR_PATH_INVALID"
	KindFileExists    Kind = "ERR_FILE_EXISTS"
	KindInvalidInput  Kind = "ERR_INVALID_INPUT"
	KindUnauthorized  Kind = "ERR_UNAUTHORIZED"
	KindUnreachable   Kind = "ERR_NODE_UNREACHABLE"
	KindInternal      Kind = "ERR_INTERNAL_ERROR"
	KindShutdown      Kind = "ERR_SHUTDOWN"
	KindOverloaded    Kind = "ERR_OVERLOADED"
)

// KindError is a typed error carrying one of the surfaced error kinds. HTTP
// and WebSocket handlers switch on Kind to pick a status code / frame type.
type KindError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *KindError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KindError) Unwrap() error { return e.Cause }

// New builds a KindError with no underlying cause.
func New(kind Kind, message string) error {
	return &KindError{Kind: kind, Message: message}
}

// Wrapk builds a KindError wrapping an underlying cause.
func Wrapk(kind Kind, message string, cause error) error {
	return &KindError{Kind: kind, Message: message, Cause: cause}
}

// As extracts the Kind of err if it (or something it wraps) is a *KindError.
// It returns ("", false) otherwise.
func As(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}
