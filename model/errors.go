package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable failure category carried by every operation
// error. Controllers map kinds onto HTTP status codes; services never
// leak raw store or transport errors past this type.
type ErrorKind string

const (
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInvalidIdentifier ErrorKind = "invalid_identifier"
	KindNotFound          ErrorKind = "not_found"
	KindGenerationFailed  ErrorKind = "generation_failed"
	KindPersistenceFailed ErrorKind = "persistence_failed"
	KindAuthenticity      ErrorKind = "authenticity"
	KindConflict          ErrorKind = "conflict"
)

// AppError is the one tagged error shape returned by all services.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E builds a plain AppError.
func E(kind ErrorKind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Ef builds an AppError with a formatted message.
func Ef(kind ErrorKind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE tags an underlying error with a kind and message.
func WrapE(kind ErrorKind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
