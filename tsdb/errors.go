package tsdb

import "errors"

var (
	// ErrNotFound is returned when no bucket exists at the requested position.
	ErrNotFound = errors.New("bucket not found")
	// ErrConflict is returned when inserting over an already populated range key.
	ErrConflict = errors.New("bucket already exists")
	// ErrInvalidKey is returned for series keys outside [A-Za-z0-9_.-]+.
	ErrInvalidKey = errors.New("key should be alphanumeric (including .-_)")

	ErrEmptySeries      = errors.New("empty series")
	ErrTupleSize        = errors.New("tuple size incorrect")
	ErrInvalidValueType = errors.New("invalid value type")
	ErrInvalidBucket    = errors.New("invalid bucket type")
	ErrInvalidLimit     = errors.New("limit out of range")
)
