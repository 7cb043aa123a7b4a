package dataset

import "errors"

// Errors returned by the dataset. They are wrapped with context; use
// errors.Is to test for them.
var (
	// ErrMalformedData is returned when a sheet cannot be partitioned into
	// clusters.
	ErrMalformedData = errors.New("malformed data")
	// ErrNotFound is returned for an unknown sheet or cluster.
	ErrNotFound = errors.New("not found")
	// ErrOutOfRange is returned for an invalid row position or column.
	ErrOutOfRange = errors.New("out of range")
)
