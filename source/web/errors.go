package web

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError is a fetch failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a fetch failure that retrying cannot fix.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// statusError classifies a non-200 HTTP status. Rate limiting and server
// errors are transient; every other status is fatal.
func statusError(code int) error {
	err := fmt.Errorf("HTTP %d: %s", code, http.StatusText(code))
	if code == http.StatusTooManyRequests || code >= 500 {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}
