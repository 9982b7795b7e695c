package repository

import "errors"

var (
	// ErrValidation marks a malformed document, filter or patch. It is
	// returned before any store call is issued.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateKey is returned when a write collides with an existing id.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound is returned by the strict lookups (Get, FindOneAndUpdate).
	ErrNotFound = errors.New("document not found")
	// ErrStorage wraps any failure of the underlying store.
	ErrStorage = errors.New("storage failure")
)
