package storage

import "errors"

// Errors returned by keyspace operations. Their text is the error reply a
// client sees.
var (
	// ErrWrongType is returned when an operation targets a key holding
	// another value type.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrNotInteger is returned by counters when the stored value is not a
	// base-10 int64 or the result would overflow.
	ErrNotInteger = errors.New("ERR value is not an integer or out of range")
)
