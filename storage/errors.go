package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a workflow record is not found.
	ErrNotFound = errors.New("workflow record not found")
)
