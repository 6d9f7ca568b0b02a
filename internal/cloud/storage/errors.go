package storage

import (
	"errors"
	"fmt"
	"net/http"
)

// Common storage operation errors
var (
	// ErrInsufficientSpace indicates there isn't enough disk space for the operation
	ErrInsufficientSpace = errors.New("insufficient disk space")
	// ErrFileChanged indicates remote file changed during download
	ErrFileChanged = errors.New("remote file changed during operation")
	// ErrBlobNotFound indicates the remote blob does not exist
	ErrBlobNotFound = errors.New("blob not found")
	// ErrUnsupportedScheme indicates no provider handles a URI
	ErrUnsupportedScheme = errors.New("unsupported storage URI scheme")
)

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	StatusCode int
	Op         string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s: %v", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the HTTP status; used by retry classification.
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// NewStatusError wraps err with an HTTP status. A 404 also matches ErrBlobNotFound.
func NewStatusError(op string, status int, err error) error {
	if status == http.StatusNotFound {
		err = errors.Join(ErrBlobNotFound, err)
	}
	return &StatusError{StatusCode: status, Op: op, Err: err}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsForbidden reports whether err is an HTTP 403.
func IsForbidden(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}
