package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeBackend      ErrorType = "BACKEND"
	ErrorTypeIO           ErrorType = "IO"
	ErrorTypeMissingPath  ErrorType = "MISSING_PATH"
	ErrorTypeMissingID    ErrorType = "MISSING_ID"
	ErrorTypePathNotFound ErrorType = "PATH_NOT_FOUND"
	ErrorTypeUndoEmpty    ErrorType = "UNDO_EMPTY"
	ErrorTypeRedoEmpty    ErrorType = "REDO_EMPTY"
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeInternal     ErrorType = "INTERNAL"
)

// Error is the typed failure returned by every operation above the classifier.
// Code is the HTTP status the API answers with.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
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

// Is reports whether target is an *Error of the same type, so the sentinels
// below work with errors.Is regardless of message or details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

var (
	ErrBackend      = &Error{Type: ErrorTypeBackend}
	ErrIO           = &Error{Type: ErrorTypeIO}
	ErrMissingPath  = &Error{Type: ErrorTypeMissingPath}
	ErrMissingID    = &Error{Type: ErrorTypeMissingID}
	ErrPathNotFound = &Error{Type: ErrorTypePathNotFound}
	ErrUndoEmpty    = &Error{Type: ErrorTypeUndoEmpty, Message: "nothing to undo", Code: http.StatusConflict}
	ErrRedoEmpty    = &Error{Type: ErrorTypeRedoEmpty, Message: "nothing to redo", Code: http.StatusConflict}
)

// Backend wraps an opaque failure of the version-control engine.
// Errors that already carry a type pass through unchanged.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return err
	}
	return &Error{
		Type:    ErrorTypeBackend,
		Message: op,
		Code:    http.StatusInternalServerError,
		Err:     err,
	}
}

// IO wraps a filesystem probing error for path.
func IO(path string, err error) error {
	return &Error{
		Type:    ErrorTypeIO,
		Message: fmt.Sprintf("getting metadata for %s", path),
		Code:    http.StatusInternalServerError,
		Details: path,
		Err:     err,
	}
}

func MissingPath(details any) *Error {
	return &Error{
		Type:    ErrorTypeMissingPath,
		Message: "path must be specified",
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func MissingID(details any) *Error {
	return &Error{
		Type:    ErrorTypeMissingID,
		Message: "id must be specified",
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func PathNotFound(path string) *Error {
	return &Error{
		Type:    ErrorTypePathNotFound,
		Message: fmt.Sprintf("no uncommitted change for %s", path),
		Code:    http.StatusNotFound,
		Details: path,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Internal(message string) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

// As is a shorthand for extracting the typed error from a chain.
func As(err error) (*Error, bool) {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
