package storage

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a record with the same key already exists.
	ErrConflict = errors.New("already exists")
)
