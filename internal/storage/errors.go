package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose listing_id
	// or source_url already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrVersionConflict is returned by conditional updates when the stored
	// version no longer matches the version the caller read.
	ErrVersionConflict = errors.New("version conflict: record changed since read")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable wraps failures of the persistence layer itself
	// (connection refused, timeout). Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
)
